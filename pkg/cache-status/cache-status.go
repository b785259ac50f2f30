// Package cachestatus renders the Offline-Cache-Status response header,
// modelled on the Cache-Status field of RFC 9211.
package cachestatus

import "fmt"

const HeaderName = "Offline-Cache-Status"

const cacheName = "OfflineCache"

type Status string

const (
	StatusHit Status = "hit"
	StatusFwd Status = "fwd"
)

type FwdReason string

const (
	// The worker was not allowed to handle this request
	// (non-http scheme, unsafe method, or not yet activated).
	FwdBypass FwdReason = "bypass"

	// The cache did not contain a response for the request URI.
	FwdUriMiss FwdReason = "uri-miss"

	// The request class prefers the network even when a stored response exists.
	FwdRequest FwdReason = "request"
)

// Detail values describe how a response was produced when the network failed.
const (
	DetailFallback    = "fallback"
	DetailEntryPage   = "entry-page"
	DetailUnavailable = "unavailable"
)

type CacheStatus struct {
	Status    Status
	FwdReason FwdReason
	Stored    bool
	Detail    string
}

func (cs *CacheStatus) Hit() {
	cs.Status = StatusHit
	cs.FwdReason = ""
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.Status = StatusFwd
	cs.FwdReason = reason
}

func (cs *CacheStatus) String() string {
	status := fmt.Sprintf("%s; %s", cacheName, cs.Status)
	if cs.Status == StatusFwd && cs.FwdReason != "" {
		status = fmt.Sprintf("%s=%s", status, cs.FwdReason)
	}
	if cs.Stored {
		status = status + "; stored"
	}
	if cs.Detail != "" {
		status = status + "; detail=" + cs.Detail
	}
	return status
}
