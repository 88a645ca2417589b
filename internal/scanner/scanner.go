// Package scanner produces phishing verdicts for URLs by combining static
// heuristics, threat intelligence lookups, and domain reputation checks.
package scanner

import (
	"context"
	"net"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/infosmartsaveusa-bit/pdsss/internal/config"
	"github.com/infosmartsaveusa-bit/pdsss/internal/domaininfo"
	"github.com/infosmartsaveusa-bit/pdsss/internal/intel"
)

// Verdict labels.
const (
	LabelInvalid    = "invalid"
	LabelPhishing   = "phishing"
	LabelSuspicious = "suspicious"
	LabelSafe       = "safe"
)

// Verdict is the scan result for a single URL.
type Verdict struct {
	URL         string                  `json:"url"`
	Label       string                  `json:"label"`
	Score       int                     `json:"score"`
	Reasons     []string                `json:"reasons"`
	DomainAge   *domaininfo.Age         `json:"domain_age,omitempty"`
	Certificate *domaininfo.Certificate `json:"ssl_certificate,omitempty"`
}

// SafeBrowsing is the Safe Browsing lookup dependency.
type SafeBrowsing interface {
	Check(ctx context.Context, url string) intel.Match
	Enabled() bool
}

// Blocklist answers exact-match feed membership.
type Blocklist interface {
	Contains(url string) bool
}

// DomainIntel provides registration age and certificate lookups.
type DomainIntel interface {
	Age(ctx context.Context, domain string) domaininfo.Age
	Certificate(ctx context.Context, host string) domaininfo.Certificate
}

// Scanner scores URLs.
type Scanner struct {
	sb      SafeBrowsing
	feed    Blocklist
	domains DomainIntel
	cfg     config.ScannerConfig
	log     *zap.Logger
}

// New builds a Scanner. Any dependency may be nil, in which case that check
// is skipped.
func New(cfg config.ScannerConfig, sb SafeBrowsing, feed Blocklist, domains DomainIntel, log *zap.Logger) *Scanner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scanner{sb: sb, feed: feed, domains: domains, cfg: cfg, log: log}
}

// Normalize prepends http:// to schemeless input, matching what a browser
// would load if the text were followed.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return "http://" + raw
	}
	return raw
}

// validTarget reports whether a normalized URL is well-formed enough to scan.
func validTarget(u *url.URL) bool {
	if u == nil || u.Host == "" {
		return false
	}
	host := u.Hostname()
	if host == "" {
		return false
	}
	if net.ParseIP(host) != nil || host == "localhost" {
		return true
	}
	return strings.Contains(host, ".")
}

// Scan produces a verdict for a URL. External lookups run concurrently and
// failures degrade to skipped checks rather than failing the scan.
func (s *Scanner) Scan(ctx context.Context, raw string) Verdict {
	target := Normalize(raw)

	parsed, err := url.Parse(target)
	if err != nil || !validTarget(parsed) {
		return Verdict{
			URL:     target,
			Label:   LabelInvalid,
			Score:   100,
			Reasons: []string{"URL format is invalid"},
		}
	}

	host := parsed.Hostname()
	mainDomain := domaininfo.RegistrableDomain(host)

	var (
		age     domaininfo.Age
		cert    domaininfo.Certificate
		sbMatch intel.Match
		inFeed  bool
	)

	lookupCtx, cancel := context.WithTimeout(ctx, s.cfg.CheckTimeoutDuration())
	defer cancel()

	g, gctx := errgroup.WithContext(lookupCtx)
	if s.domains != nil {
		g.Go(func() error {
			age = s.domains.Age(gctx, mainDomain)
			return nil
		})
		g.Go(func() error {
			cert = s.domains.Certificate(gctx, host)
			return nil
		})
	}
	if s.sb != nil && s.sb.Enabled() {
		g.Go(func() error {
			sbMatch = s.sb.Check(gctx, target)
			return nil
		})
	}
	if s.feed != nil {
		g.Go(func() error {
			inFeed = s.feed.Contains(target)
			return nil
		})
	}
	_ = g.Wait()

	score := 0
	var reasons []string

	// Domain age
	if age.AgeDays != nil && *age.AgeDays < 30 {
		score += 15
		reasons = append(reasons, "Domain is newly registered (< 30 days)")
	}

	// Certificate
	if s.domains != nil {
		if !cert.Valid {
			score += 15
			reasons = append(reasons, "Invalid or missing SSL certificate")
		} else if cert.DaysLeft != nil && *cert.DaysLeft < 15 {
			score += 10
			reasons = append(reasons, "SSL certificate expires very soon")
		}
	}

	// Threat intelligence
	if sbMatch.Flagged {
		score += 60
		reasons = append(reasons, "Flagged by Google Safe Browsing")
	}
	if inFeed {
		score += 60
		reasons = append(reasons, "Found in OpenPhish phishing feed")
	}

	// Static URL heuristics
	if len(target) > 120 {
		score += 10
		reasons = append(reasons, "URL is unusually long")
	}

	suffix := tldSuffix(mainDomain)
	if _, bad := suspiciousTLDs[suffix]; bad {
		score += 15
		reasons = append(reasons, "Suspicious TLD: ."+suffix)
	}

	if strings.Count(target, "-") > 3 || strings.Contains(strings.TrimPrefix(strings.TrimPrefix(target, "https://"), "http://"), "@") {
		score += 10
		reasons = append(reasons, "Contains many special characters")
	}

	lower := strings.ToLower(target)
	for _, word := range phishingKeywords {
		if strings.Contains(lower, word) {
			score += 10
			reasons = append(reasons, "Contains phishing-related keywords")
			break
		}
	}

	// Structural rules (shorteners, lookalike brands, trusted discount...)
	rules := evaluateRules(parsed)
	score += rules.Score
	reasons = append(reasons, rules.Reasons...)

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	v := Verdict{
		URL:     target,
		Label:   s.label(score),
		Score:   score,
		Reasons: reasons,
	}
	if s.domains != nil {
		v.DomainAge = &age
		v.Certificate = &cert
	}

	s.log.Debug("url scanned",
		zap.String("url", target),
		zap.String("label", v.Label),
		zap.Int("score", v.Score))

	return v
}

// Label maps a score to a verdict label using the configured thresholds.
func (s *Scanner) label(score int) string {
	phishing := s.cfg.PhishingThreshold
	if phishing <= 0 {
		phishing = 60
	}
	suspicious := s.cfg.SuspiciousThreshold
	if suspicious <= 0 {
		suspicious = 30
	}
	switch {
	case score >= phishing:
		return LabelPhishing
	case score >= suspicious:
		return LabelSuspicious
	default:
		return LabelSafe
	}
}

var phishingKeywords = []string{"login", "verify", "update", "secure", "account"}

var suspiciousTLDs = map[string]struct{}{
	"tk": {}, "ml": {}, "xyz": {}, "zip": {}, "top": {}, "click": {},
}

func tldSuffix(domain string) string {
	if i := strings.LastIndex(domain, "."); i >= 0 {
		return domain[i+1:]
	}
	return ""
}
