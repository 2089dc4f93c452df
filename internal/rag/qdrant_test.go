package rag

import "testing"

func TestBuildFilter_Empty(t *testing.T) {
	if f := buildFilter(Filter{}); f != nil {
		t.Errorf("expected nil filter for zero value, got %+v", f)
	}
}

func TestBuildFilter_DocIDAndTags(t *testing.T) {
	docID := 42
	f := buildFilter(Filter{DocID: &docID, Tags: []string{"invoices", "2026"}})
	if f == nil {
		t.Fatal("expected non-nil filter")
	}
	if len(f.Must) != 2 {
		t.Fatalf("expected 2 must conditions, got %d", len(f.Must))
	}
}

func TestTopTags_OrdersByCountThenAlphabetically(t *testing.T) {
	counts := map[string]int{"b": 2, "a": 2, "c": 5, "d": 1}
	got := topTags(counts, 3)
	want := []TagCount{{Tag: "c", Count: 5}, {Tag: "a", Count: 2}, {Tag: "b", Count: 2}}
	if len(got) != len(want) {
		t.Fatalf("topTags(3) = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("topTags(3)[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestSplitHostPort(t *testing.T) {
	tests := []struct {
		in       string
		wantHost string
		wantPort int
	}{
		{"http://qdrant:6333", "qdrant", 6333},
		{"https://qdrant.internal:6334", "qdrant.internal", 6334},
		{"localhost:6334", "localhost", 6334},
		{"qdrant", "qdrant", 6334},
		{"", "localhost", 6334},
	}
	for _, tt := range tests {
		host, port := splitHostPort(tt.in)
		if host != tt.wantHost || port != tt.wantPort {
			t.Errorf("splitHostPort(%q) = (%q, %d), want (%q, %d)", tt.in, host, port, tt.wantHost, tt.wantPort)
		}
	}
}
