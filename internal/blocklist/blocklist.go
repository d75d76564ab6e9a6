package blocklist

import (
	"net/url"
	"slices"
	"strings"
)

// Signature identifies third-party ad payloads. A single value is shared by
// the script gate, the worker negotiator and the injection blocker so the
// three never disagree about what counts as an ad.
type Signature struct {
	Version string

	// Domains are matched as substrings of URLs and inline script text.
	Domains []string

	// Zones are the vendor zone identifiers, matched against data-zone
	// attributes, URLs and inline text.
	Zones []string

	// Keywords are lowercase text fragments that, combined with an ad-like
	// id or class, mark an element injected by the vendor.
	Keywords []string

	// ElementHints are lowercase id/class fragments of vendor containers.
	ElementHints []string

	// LoaderURL is the vendor loader script the script gate injects for
	// free users.
	LoaderURL string
	// LoaderZone is the zone attached to the loader tag.
	LoaderZone string
	// ZoneAttr is the attribute the vendor reads its zone from.
	ZoneAttr string

	// Preconnect lists origins the server hints to the browser for free users.
	Preconnect []string
	// DNSPrefetch lists hosts the server hints for DNS prefetching.
	DNSPrefetch []string
}

// Default is the signature in use. Bump Version whenever the lists change so
// cached worker bodies and logs can be correlated with the list they used.
var Default = Signature{
	Version: "2025-06",
	Domains: []string{
		"monetag.com",
		"publishers.monetag.com",
		"fpyf8.com",
		"grookilteepsou.net",
		"couphaith",
		"antiadblock",
		"doubleclick.net",
		"googlesyndication.com",
	},
	Zones:        []string{"165368", "9755031", "9754964"},
	Keywords:     []string{"bonus", "trade", "earn", "click here"},
	ElementHints: []string{"monetag", "ad-", "-ad", "banner", "popup", "sponsor"},
	LoaderURL:    "https://fpyf8.com/88/tag.min.js",
	LoaderZone:   "165368",
	ZoneAttr:     "data-zone",
	Preconnect: []string{
		"https://publishers.monetag.com",
		"https://fpyf8.com",
	},
	DNSPrefetch: []string{"//grookilteepsou.net"},
}

// MatchURL reports whether raw points at a blocked domain or carries a
// blocked zone identifier.
func (s Signature) MatchURL(raw string) bool {
	if raw == "" {
		return false
	}
	lower := strings.ToLower(raw)
	if u, err := url.Parse(lower); err == nil && u.Host != "" {
		for _, d := range s.Domains {
			if strings.Contains(u.Host, d) {
				return true
			}
		}
	}
	return s.MatchText(lower)
}

// MatchText reports whether s contains any blocked domain or zone.
func (s Signature) MatchText(text string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, d := range s.Domains {
		if strings.Contains(lower, d) {
			return true
		}
	}
	for _, z := range s.Zones {
		if strings.Contains(lower, z) {
			return true
		}
	}
	return false
}

// MatchZone reports whether v is exactly one of the blocked zones.
func (s Signature) MatchZone(v string) bool {
	return slices.Contains(s.Zones, strings.TrimSpace(v))
}

// MatchAttribute reports whether setting name=value on an element would
// attach vendor content.
func (s Signature) MatchAttribute(name, value string) bool {
	switch strings.ToLower(name) {
	case "src", "href", "data-src":
		return s.MatchURL(value)
	case s.ZoneAttr:
		return s.MatchZone(value)
	}
	return false
}

// Candidate is the view of an element the sweep and the blocker inspect.
type Candidate struct {
	Tag   string
	ID    string
	Class string
	Src   string
	Zone  string
	// HasZone is set when the zone attribute is present, even if empty.
	HasZone bool
	Text    string
}

// MatchElement reports whether c looks like vendor-injected content.
func (s Signature) MatchElement(c Candidate) bool {
	tag := strings.ToLower(c.Tag)
	if (tag == "script" || tag == "iframe") && s.MatchURL(c.Src) {
		return true
	}
	if tag == "script" && s.MatchText(c.Text) {
		return true
	}
	if c.HasZone && (c.Zone == "" || s.MatchZone(c.Zone)) {
		return true
	}
	if !s.hinted(c.ID) && !s.hinted(c.Class) {
		return false
	}
	text := strings.ToLower(c.Text)
	if s.MatchText(text) {
		return true
	}
	for _, k := range s.Keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func (s Signature) hinted(v string) bool {
	v = strings.ToLower(v)
	if v == "" {
		return false
	}
	for _, h := range s.ElementHints {
		if strings.Contains(v, h) {
			return true
		}
	}
	return false
}
