package research

import "testing"

func TestScreenerDefaultRules(t *testing.T) {
	s, err := NewScreener(nil, nil)
	if err != nil {
		t.Fatalf("NewScreener: %v", err)
	}

	tests := []struct {
		name string
		url  string
		want bool
	}{
		{"Plain article", "https://example.com/articles/solid-state-batteries", true},
		{"Social platform", "https://www.facebook.com/some-page", false},
		{"Short video site", "https://www.tiktok.com/@user/video/1", false},
		{"Search engine itself", "https://duckduckgo.com/?q=batteries", false},
		{"Login page", "https://example.com/login", false},
		{"Signup page", "https://example.com/signup?next=/", false},
		{"Register path", "https://example.com/account/register", false},
		{"Signin path", "https://example.com/signin", false},
		{"Case-insensitive deny", "https://example.com/LOGIN", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.IsAllowed(tt.url); got != tt.want {
				t.Errorf("IsAllowed(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}

func TestScreenerAllowListPrecedence(t *testing.T) {
	s, err := NewScreener([]string{`^https://a\.com`}, nil)
	if err != nil {
		t.Fatalf("NewScreener: %v", err)
	}

	// Off-list URL is rejected even though no deny rule matches it.
	if s.IsAllowed("https://b.com/perfectly-fine-page") {
		t.Error("URL outside allow-list was admitted")
	}
	if !s.IsAllowed("https://a.com/page") {
		t.Error("URL matching allow-list was rejected")
	}
	// Allow-list match still loses to the built-in deny set.
	if s.IsAllowed("https://a.com/login") {
		t.Error("auth page admitted despite built-in deny")
	}
}

func TestScreenerDenyPatterns(t *testing.T) {
	s, err := NewScreener(nil, []string{`\.pdf$`, `example\.org`})
	if err != nil {
		t.Fatalf("NewScreener: %v", err)
	}

	if s.IsAllowed("https://a.com/paper.pdf") {
		t.Error("deny pattern did not reject pdf")
	}
	if s.IsAllowed("https://example.org/page") {
		t.Error("deny pattern did not reject domain")
	}
	if !s.IsAllowed("https://a.com/page.html") {
		t.Error("unmatched URL was rejected")
	}
}

func TestScreenerInvalidPattern(t *testing.T) {
	if _, err := NewScreener([]string{"["}, nil); err == nil {
		t.Error("expected error for invalid allow pattern")
	}
	if _, err := NewScreener(nil, []string{"("}); err == nil {
		t.Error("expected error for invalid deny pattern")
	}
}
