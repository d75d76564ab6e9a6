package blocklist

import "testing"

func TestMatchURL(t *testing.T) {
	cases := []struct {
		url  string
		want bool
	}{
		{"https://fpyf8.com/88/tag.min.js", true},
		{"https://publishers.monetag.com/pixel", true},
		{"https://cdn.example.com/app.js?zone=9755031", true},
		{"https://GROOKILTEEPSOU.NET/x", true},
		{"https://example.com/uploads/logo.png", false},
		{"/api/matches/today", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := Default.MatchURL(tc.url); got != tc.want {
			t.Errorf("MatchURL(%q) = %v, want %v", tc.url, got, tc.want)
		}
	}
}

func TestMatchAttribute(t *testing.T) {
	if !Default.MatchAttribute("data-zone", "165368") {
		t.Error("expected blocked zone attribute to match")
	}
	if Default.MatchAttribute("data-zone", "42") {
		t.Error("unknown zone should not match")
	}
	if !Default.MatchAttribute("SRC", "https://fpyf8.com/a.js") {
		t.Error("expected blocked src to match")
	}
	if Default.MatchAttribute("class", "fpyf8.com") {
		t.Error("class attribute should not be treated as a url")
	}
}

func TestMatchElement(t *testing.T) {
	cases := []struct {
		name string
		c    Candidate
		want bool
	}{
		{"loader script", Candidate{Tag: "SCRIPT", Src: Default.LoaderURL}, true},
		{"inline loader", Candidate{Tag: "script", Text: "var z='9754964';"}, true},
		{"vendor iframe", Candidate{Tag: "iframe", Src: "https://grookilteepsou.net/f"}, true},
		{"zone div", Candidate{Tag: "div", HasZone: true, Zone: "165368"}, true},
		{"banner with keyword", Candidate{Tag: "div", Class: "top-banner", Text: "Claim your BONUS now"}, true},
		{"banner without keyword", Candidate{Tag: "div", Class: "top-banner", Text: "Live scores"}, false},
		{"plain script", Candidate{Tag: "script", Src: "/static/app.js"}, false},
		{"keyword without hint", Candidate{Tag: "p", Text: "trade deadline news"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Default.MatchElement(tc.c); got != tc.want {
				t.Errorf("MatchElement = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestLoaderIsBlocked(t *testing.T) {
	if !Default.MatchURL(Default.LoaderURL) {
		t.Fatal("loader url must be covered by the domain list")
	}
	if !Default.MatchZone(Default.LoaderZone) {
		t.Fatal("loader zone must be covered by the zone list")
	}
}
