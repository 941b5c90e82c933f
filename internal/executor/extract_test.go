package executor

import (
	"encoding/json"
	"testing"
)

func decode(t *testing.T, raw string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return v
}

func TestExtractArtifactURL(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		want   string
		wantOK bool
	}{
		{name: "imageUrl", raw: `{"imageUrl":"https://cdn/a.png"}`, want: "https://cdn/a.png", wantOK: true},
		{name: "data[0].url", raw: `{"data":[{"url":"https://cdn/b.png"}]}`, want: "https://cdn/b.png", wantOK: true},
		{name: "url", raw: `{"url":"https://cdn/c.png"}`, want: "https://cdn/c.png", wantOK: true},
		{name: "images[0]", raw: `{"images":["https://cdn/d.png","https://cdn/e.png"]}`, want: "https://cdn/d.png", wantOK: true},
		{name: "list imageUrl", raw: `[{"foo":1},{"imageUrl":"https://cdn/f.png"}]`, want: "https://cdn/f.png", wantOK: true},
		{name: "list url", raw: `[{"url":"https://cdn/g.png"}]`, want: "https://cdn/g.png", wantOK: true},
		{name: "list data.url", raw: `[{"data":{"url":"https://cdn/h.png"}}]`, want: "https://cdn/h.png", wantOK: true},
		{name: "nested data object", raw: `{"finished":true,"data":{"imageUrl":"https://cdn/i.png"}}`, want: "https://cdn/i.png", wantOK: true},
		{name: "imageUrl wins over url", raw: `{"url":"https://cdn/second.png","imageUrl":"https://cdn/first.png"}`, want: "https://cdn/first.png", wantOK: true},
		{name: "data[0].url wins over url", raw: `{"url":"https://cdn/u.png","data":[{"url":"https://cdn/d0.png"}]}`, want: "https://cdn/d0.png", wantOK: true},
		{name: "empty string never matches", raw: `{"imageUrl":"","url":"https://cdn/j.png"}`, want: "https://cdn/j.png", wantOK: true},
		{name: "finished without artifact", raw: `{"finished":true,"data":{}}`, wantOK: false},
		{name: "empty images", raw: `{"images":[]}`, wantOK: false},
		{name: "non-string url", raw: `{"url":42}`, wantOK: false},
		{name: "scalar", raw: `"https://cdn/k.png"`, wantOK: false},
		{name: "null", raw: `null`, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractArtifactURL(decode(t, tt.raw))
			if ok != tt.wantOK {
				t.Fatalf("expected ok=%v, got %v (url %q)", tt.wantOK, ok, got)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestExtractArtifactURLIsPure(t *testing.T) {
	payload := decode(t, `{"data":[{"url":"https://cdn/a.png"}]}`)
	first, _ := ExtractArtifactURL(payload)
	second, _ := ExtractArtifactURL(payload)
	if first != second {
		t.Fatalf("expected identical results, got %q and %q", first, second)
	}
}

func TestExtractorChainOrder(t *testing.T) {
	shapes := []string{
		`{"imageUrl":"https://cdn/0.png"}`,
		`{"data":[{"url":"https://cdn/1.png"}]}`,
		`{"url":"https://cdn/2.png"}`,
		`{"images":["https://cdn/3.png"]}`,
		`[{"url":"https://cdn/4.png"}]`,
		`{"data":{"url":"https://cdn/5.png"}}`,
	}
	if len(extractors) != len(shapes) {
		t.Fatalf("expected %d extractors, got %d", len(shapes), len(extractors))
	}
	for i, raw := range shapes {
		payload := decode(t, raw)
		for j, extract := range extractors[:i] {
			if url, ok := extract(payload); ok {
				t.Errorf("shape %d: extractor %d should not match, got %q", i, j, url)
			}
		}
		url, ok := extractors[i](payload)
		if !ok {
			t.Fatalf("shape %d: extractor %d did not match", i, i)
		}
		if got, _ := ExtractArtifactURL(payload); got != url {
			t.Errorf("shape %d: expected %q, got %q", i, url, got)
		}
	}
}

func TestExtractArtifactURLs(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "none", raw: `{"finished":true}`, want: nil},
		{name: "single", raw: `{"imageUrl":"https://cdn/a.png"}`, want: []string{"https://cdn/a.png"}},
		{name: "data list", raw: `{"data":[{"url":"https://cdn/a.png"},{"url":"https://cdn/b.png"},{"url":"https://cdn/a.png"}]}`, want: []string{"https://cdn/a.png", "https://cdn/b.png"}},
		{name: "images", raw: `{"images":["https://cdn/a.png","https://cdn/b.png"]}`, want: []string{"https://cdn/a.png", "https://cdn/b.png"}},
		{name: "list", raw: `[{"imageUrl":"https://cdn/a.png"},{"data":{"url":"https://cdn/b.png"}}]`, want: []string{"https://cdn/a.png", "https://cdn/b.png"}},
		{name: "nested data images", raw: `{"data":{"images":["https://cdn/a.png","https://cdn/c.png"]}}`, want: []string{"https://cdn/a.png", "https://cdn/c.png"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractArtifactURLs(decode(t, tt.raw))
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("index %d: expected %q, got %q", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestMapStatus(t *testing.T) {
	tests := map[string]ExecutionState{
		"success":  ExecutionStateSucceeded,
		"SUCCESS":  ExecutionStateSucceeded,
		"error":    ExecutionStateFailed,
		"crashed":  ExecutionStateFailed,
		"canceled": ExecutionStateFailed,
		"running":  ExecutionStateRunning,
		"waiting":  ExecutionStateRunning,
		"":         ExecutionStateRunning,
	}
	for status, want := range tests {
		if got := MapStatus(status); got != want {
			t.Errorf("MapStatus(%q) = %s, want %s", status, got, want)
		}
	}
}
