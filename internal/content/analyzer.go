// Package content inspects rendered page markup for phishing indicators:
// credential forms, off-origin submissions, urgency language, hidden frames,
// and lookalike hosts.
package content

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/infosmartsaveusa-bit/pdsss/internal/domaininfo"
)

// Report carries the page indicators and their combined score.
type Report struct {
	Score   int      `json:"score"`
	Label   string   `json:"label"`
	Reasons []string `json:"reasons"`

	PasswordInputs    int      `json:"password_inputs"`
	ExternalScripts   []string `json:"external_script_hosts,omitempty"`
	ExternalForms     []string `json:"external_form_hosts,omitempty"`
	HiddenIframes     int      `json:"hidden_iframes"`
	MetaRefresh       bool     `json:"meta_refresh"`
	LookalikeHost     bool     `json:"lookalike_host"`
	MatchedKeywords   []string `json:"matched_keywords,omitempty"`
	MatchedUrgencies  []string `json:"matched_urgent_phrases,omitempty"`
}

var suspiciousKeywords = []string{
	"login", "verify", "update", "secure", "account",
	"password", "bank", "wallet", "credentials",
}

var urgentPhrases = []string{
	"verify your account", "suspended", "urgent", "click here",
	"verify now", "account suspended", "immediate action required",
	"verify immediately", "your account will be closed", "security alert",
	"unauthorized access", "verify identity", "confirm your identity",
}

var suspiciousTLDs = map[string]struct{}{
	"zip": {}, "xyz": {}, "top": {}, "loan": {}, "click": {},
	"tk": {}, "ml": {}, "cf": {},
}

var popularBrands = []string{
	"google", "apple", "paypal", "microsoft", "amazon",
	"instagram", "facebook", "netflix", "twitter", "linkedin",
	"ebay", "yahoo", "outlook", "hotmail", "gmail", "bankofamerica",
	"chase", "wellsfargo", "citibank", "amazonaws",
}

// Common lookalike character substitutions.
var homoglyphs = map[rune]rune{
	'0': 'o', '1': 'i', '3': 'e', '4': 'a', '5': 's',
	'6': 'g', '7': 't', '8': 'b', '9': 'g',
}

// Analyze walks the page DOM and scores phishing indicators. The baseURL is
// the page's final URL after redirects, used to judge which hosts are
// external.
func Analyze(markup, baseURL string) (*Report, error) {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse page markup: %w", err)
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	baseDomain := domaininfo.RegistrableDomain(base.Hostname())

	r := &Report{}
	var textParts []string

	externalScripts := map[string]struct{}{}
	externalForms := map[string]struct{}{}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if t := strings.TrimSpace(n.Data); t != "" {
				textParts = append(textParts, t)
			}
		case html.ElementNode:
			switch n.DataAtom {
			case atom.Input:
				if strings.EqualFold(attr(n, "type"), "password") {
					r.PasswordInputs++
				}
			case atom.Script:
				if host := externalHost(attr(n, "src"), base, baseDomain); host != "" {
					externalScripts[host] = struct{}{}
				}
			case atom.Form:
				if host := externalHost(attr(n, "action"), base, baseDomain); host != "" {
					externalForms[host] = struct{}{}
				}
			case atom.Iframe:
				if isHidden(n) {
					r.HiddenIframes++
				}
			case atom.Meta:
				if strings.EqualFold(attr(n, "http-equiv"), "refresh") {
					r.MetaRefresh = true
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	r.ExternalScripts = sortedKeys(externalScripts)
	r.ExternalForms = sortedKeys(externalForms)

	text := strings.ToLower(strings.Join(textParts, " "))
	for _, kw := range suspiciousKeywords {
		if containsWord(text, kw) {
			r.MatchedKeywords = append(r.MatchedKeywords, kw)
		}
	}
	for _, phrase := range urgentPhrases {
		if strings.Contains(text, phrase) {
			r.MatchedUrgencies = append(r.MatchedUrgencies, phrase)
		}
	}

	r.LookalikeHost = isLookalike(base.Hostname())

	r.score(baseDomain)
	return r, nil
}

func (r *Report) score(baseDomain string) {
	score := 0
	var reasons []string

	if r.PasswordInputs > 0 {
		score += 25
		reasons = append(reasons, "Login form detected (password input field)")
	}
	if len(r.MatchedKeywords) > 0 {
		score += 10
		reasons = append(reasons, "Suspicious keywords detected: "+joinCapped(r.MatchedKeywords, 5))
	}
	if len(r.MatchedUrgencies) > 0 {
		score += 20
		reasons = append(reasons, "Urgent/suspicious phrases detected: "+joinCapped(r.MatchedUrgencies, 3))
	}
	if len(r.ExternalScripts) > 0 {
		score += 10
		reasons = append(reasons, "Scripts loaded from external domains: "+joinCapped(r.ExternalScripts, 3))
	}
	if len(r.ExternalForms) > 0 {
		score += 15
		reasons = append(reasons, "Form submits to external domain: "+joinCapped(r.ExternalForms, 3))
	}
	if r.HiddenIframes > 0 {
		score += 15
		reasons = append(reasons, "Hidden iframe detected")
	}
	if r.MetaRefresh {
		score += 10
		reasons = append(reasons, "Meta refresh redirect on page")
	}
	if suffix := tldOf(baseDomain); suffix != "" {
		if _, bad := suspiciousTLDs[suffix]; bad {
			score += 20
			reasons = append(reasons, "Suspicious TLD detected: ."+suffix)
		}
	}
	if r.LookalikeHost {
		score += 20
		reasons = append(reasons, "Domain appears to be a lookalike of a popular brand")
	}

	if score > 100 {
		score = 100
	}
	r.Score = score
	r.Reasons = reasons
	switch {
	case score >= 60:
		r.Label = "phishing"
	case score >= 30:
		r.Label = "suspicious"
	default:
		r.Label = "safe"
	}
}

// isLookalike reports whether the host's first label imitates a well-known
// brand: either embedding it, or sitting within two substitutions of it
// after homoglyph normalization.
func isLookalike(host string) bool {
	label := strings.ToLower(host)
	if i := strings.Index(label, "."); i > 0 {
		label = label[:i]
	}
	normalized := normalizeHomoglyphs(label)

	for _, brand := range popularBrands {
		if label == brand {
			continue // the real thing
		}
		if strings.Contains(label, brand) || strings.Contains(normalized, brand) {
			return true
		}
		if len(label) == len(brand) {
			diff := 0
			for i := range label {
				if label[i] != brand[i] {
					diff++
				}
			}
			if diff > 0 && diff <= 2 {
				return true
			}
		}
	}
	return false
}

func normalizeHomoglyphs(s string) string {
	return strings.Map(func(r rune) rune {
		if repl, ok := homoglyphs[r]; ok {
			return repl
		}
		return r
	}, s)
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val
		}
	}
	return ""
}

func isHidden(n *html.Node) bool {
	style := strings.ReplaceAll(strings.ToLower(attr(n, "style")), " ", "")
	if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
		return true
	}
	if attr(n, "hidden") != "" {
		return true
	}
	w, h := attr(n, "width"), attr(n, "height")
	return w == "0" || h == "0"
}

// externalHost resolves a script/form reference against the base URL and
// returns its registrable domain when it differs from the page's.
func externalHost(ref string, base *url.URL, baseDomain string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(strings.ToLower(ref), "javascript:") {
		return ""
	}
	u, err := base.Parse(ref)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	domain := domaininfo.RegistrableDomain(u.Hostname())
	if domain == "" || domain == baseDomain {
		return ""
	}
	return domain
}

func containsWord(text, word string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isWordChar(text[start-1])
		afterOK := end == len(text) || !isWordChar(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '_'
}

func joinCapped(items []string, n int) string {
	if len(items) > n {
		items = items[:n]
	}
	return strings.Join(items, ", ")
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func tldOf(domain string) string {
	if i := strings.LastIndex(domain, "."); i >= 0 {
		return domain[i+1:]
	}
	return ""
}
