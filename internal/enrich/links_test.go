package enrich

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestExtractURLs(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{
			name: "NoLinks",
			body: "просто текст без ссылок",
			want: nil,
		},
		{
			name: "PlainLink",
			body: "смотри https://example.com/page",
			want: []string{"https://example.com/page"},
		},
		{
			name: "TrailingPunctuation",
			body: "читай https://example.com/a. И ещё (https://example.com/b).",
			want: []string{"https://example.com/a", "https://example.com/b"},
		},
		{
			name: "Deduplicated",
			body: "https://example.com https://example.com http://other.org",
			want: []string{"https://example.com", "http://other.org"},
		},
		{
			name: "SchemeRequired",
			body: "example.com www.example.com ftp://example.com",
			want: nil,
		},
		{
			name: "CapAtFive",
			body: "https://a.com https://b.com https://c.com https://d.com https://e.com https://f.com",
			want: []string{"https://a.com", "https://b.com", "https://c.com", "https://d.com", "https://e.com"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractURLs(tt.body)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ExtractURLs(%q) mismatch (-want +got):\n%s", tt.body, diff)
			}
		})
	}
}

func TestDomain(t *testing.T) {
	tests := []struct {
		rawURL string
		want   string
	}{
		{"https://www.example.com/path", "example.com"},
		{"https://sub.example.com", "sub.example.com"},
		{"http://example.com:8080/x", "example.com:8080"},
		{"::bad::", ""},
	}
	for _, tt := range tests {
		if got := Domain(tt.rawURL); got != tt.want {
			t.Errorf("Domain(%q) = %q, want %q", tt.rawURL, got, tt.want)
		}
	}
}
