package cachestatus

import "testing"

func TestHit(t *testing.T) {
	cs := CacheStatus{}
	cs.Hit()
	if s := cs.String(); s != "OfflineCache; hit" {
		t.Fatalf("Status is %q", s)
	}
}

func TestForwardStored(t *testing.T) {
	cs := CacheStatus{}
	cs.Forward(FwdUriMiss)
	cs.Stored = true
	if s := cs.String(); s != "OfflineCache; fwd=uri-miss; stored" {
		t.Fatalf("Status is %q", s)
	}
}

func TestFallbackDetail(t *testing.T) {
	cs := CacheStatus{}
	cs.Forward(FwdRequest)
	cs.Hit()
	cs.Detail = DetailFallback
	if s := cs.String(); s != "OfflineCache; hit; detail=fallback" {
		t.Fatalf("Status is %q", s)
	}
}
