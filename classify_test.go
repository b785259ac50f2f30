package offlinecache

import (
	"net/http"
	"testing"
)

func newRequest(t *testing.T, method, rawURL string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, rawURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	return req
}

func TestClassifyStaticExtensions(t *testing.T) {
	c := NewClassifier(ClassifierConfig{})
	for _, u := range []string{
		"https://app.example/style.css",
		"https://app.example/js/script.js",
		"https://app.example/images/icons/icon-192.PNG",
		"https://app.example/favicon.ico",
		"https://app.example/fonts/a.woff2?v=3",
	} {
		if class, _ := c.Classify(newRequest(t, "GET", u)); class != ClassStatic {
			t.Fatalf("%s classified %s", u, class)
		}
	}
}

func TestClassifyDocumentAndManifest(t *testing.T) {
	c := NewClassifier(ClassifierConfig{})

	doc := newRequest(t, "GET", "https://app.example/reports")
	doc.Header.Set("Sec-Fetch-Dest", "document")
	if class, i := c.Classify(doc); class != ClassStatic || i != 1 {
		t.Fatalf("Document classified %s by rule %d", class, i)
	}

	nav := newRequest(t, "GET", "https://app.example/reports")
	nav.Header.Set("Sec-Fetch-Mode", "navigate")
	if class, _ := c.Classify(nav); class != ClassStatic {
		t.Fatalf("Navigation classified %s", class)
	}

	manifest := newRequest(t, "GET", "https://app.example/manifest.json")
	if class, i := c.Classify(manifest); class != ClassStatic || i != 2 {
		t.Fatalf("Manifest classified %s by rule %d", class, i)
	}
}

func TestClassifyFontHost(t *testing.T) {
	c := NewClassifier(ClassifierConfig{})
	req := newRequest(t, "GET", "https://fonts.googleapis.com/css2?family=Inter")
	if class, i := c.Classify(req); class != ClassStatic || i != 3 {
		t.Fatalf("Font host classified %s by rule %d", class, i)
	}
}

func TestClassifyDynamicByDefault(t *testing.T) {
	c := NewClassifier(ClassifierConfig{})
	req := newRequest(t, "GET", "https://app.example/api/data")
	req.Header.Set("Sec-Fetch-Dest", "empty")
	if class, i := c.Classify(req); class != ClassDynamic || i != -1 {
		t.Fatalf("API request classified %s by rule %d", class, i)
	}
}

func TestClassifyFirstMatchWins(t *testing.T) {
	c := NewClassifierWithRules(
		Rule{Kind: RulePathContains, Values: []string{"/api/"}, Class: ClassDynamic},
		Rule{Kind: RuleExtension, Values: []string{".json"}, Class: ClassStatic},
	)
	if class, i := c.Classify(newRequest(t, "GET", "https://app.example/api/list.json")); class != ClassDynamic || i != 0 {
		t.Fatalf("Classified %s by rule %d", class, i)
	}
	if class, i := c.Classify(newRequest(t, "GET", "https://app.example/data/list.json")); class != ClassStatic || i != 1 {
		t.Fatalf("Classified %s by rule %d", class, i)
	}
	if rules := c.Rules(); len(rules) != 2 || rules[0].Kind != RulePathContains {
		t.Fatalf("Unexpected rules %v", rules)
	}
}

func TestIntercepts(t *testing.T) {
	if !Intercepts(newRequest(t, "GET", "https://app.example/")) {
		t.Fatal("https GET not intercepted")
	}
	if Intercepts(newRequest(t, "GET", "chrome-extension://abcdef/script.js")) {
		t.Fatal("Extension scheme intercepted")
	}
	if Intercepts(newRequest(t, "POST", "https://app.example/api/data")) {
		t.Fatal("POST intercepted")
	}
	if Intercepts(newRequest(t, "GET", "/relative")) {
		t.Fatal("Request without scheme intercepted")
	}
}
