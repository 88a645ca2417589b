// Package email analyzes submitted emails for phishing: linked URLs, sender
// reputation, attachments, and social-engineering language.
package email

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/infosmartsaveusa-bit/pdsss/internal/domaininfo"
	"github.com/infosmartsaveusa-bit/pdsss/internal/redirect"
	"github.com/infosmartsaveusa-bit/pdsss/internal/scanner"
)

// Attachment describes one attachment as reported by the submitter.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// Input is the email material to analyze.
type Input struct {
	Subject     string       `json:"subject"`
	Sender      string       `json:"sender"`
	Body        string       `json:"body"`
	Links       []string     `json:"links,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	RawHeaders  string       `json:"raw_headers,omitempty"`
}

// URLReport is the per-link analysis embedded in the email report.
type URLReport struct {
	URL           string                  `json:"url"`
	Label         string                  `json:"label"`
	Score         int                     `json:"final_score"`
	Reasons       []string                `json:"reasons"`
	DomainAge     *domaininfo.Age         `json:"domain_age,omitempty"`
	Certificate   *domaininfo.Certificate `json:"ssl_info,omitempty"`
	RedirectChain redirect.Chain          `json:"redirect_chain"`
}

// AuthStatus reports an email authentication mechanism result.
type AuthStatus struct {
	Status  string `json:"status"`
	Details string `json:"details"`
}

// SenderReport describes the sender address analysis.
type SenderReport struct {
	Present   bool            `json:"present"`
	Address   string          `json:"address,omitempty"`
	Domain    string          `json:"domain,omitempty"`
	EmailType string          `json:"email_type,omitempty"`
	DomainAge *domaininfo.Age `json:"domain_age,omitempty"`
	Warnings  []string        `json:"warnings,omitempty"`
	Notes     []string        `json:"notes,omitempty"`
	SPF       AuthStatus      `json:"spf"`
	DKIM      AuthStatus      `json:"dkim"`
	DMARC     AuthStatus      `json:"dmarc"`
}

// Report is the full email scan result.
type Report struct {
	Summary            string       `json:"summary"`
	RuleBasedScore     int          `json:"rule_based_score"`
	RuleBasedReasons   []string     `json:"rule_based_reasons"`
	PerURLReports      []URLReport  `json:"per_url_reports"`
	SenderDomainReport SenderReport `json:"sender_domain_report"`
	FinalScore         int          `json:"final_email_risk_score"`
	FinalLabel         string       `json:"final_email_risk_label"`
	Recommendations    []string     `json:"recommendations"`
	CombinedIndicators []string     `json:"combined_indicators"`
}

// URLScanner runs the URL verdict pipeline.
type URLScanner interface {
	Scan(ctx context.Context, url string) scanner.Verdict
}

// ChainFollower fetches redirect chains.
type ChainFollower interface {
	Follow(ctx context.Context, url string) redirect.Chain
}

// AgeLookup resolves domain registration age.
type AgeLookup interface {
	Age(ctx context.Context, domain string) domaininfo.Age
}

// Analyzer scores emails.
type Analyzer struct {
	urls    URLScanner
	chains  ChainFollower
	ages    AgeLookup
	maxURLs int
	log     *zap.Logger
}

// NewAnalyzer builds an email analyzer. chains and ages may be nil.
func NewAnalyzer(urls URLScanner, chains ChainFollower, ages AgeLookup, maxURLs int, log *zap.Logger) *Analyzer {
	if maxURLs <= 0 {
		maxURLs = 20
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Analyzer{urls: urls, chains: chains, ages: ages, maxURLs: maxURLs, log: log}
}

var (
	urlPattern      = regexp.MustCompile(`https?://[^\s'"<>]+`)
	displayNameRe   = regexp.MustCompile(`^(.*)<([^>]+)>`)
	urgencyRe       = regexp.MustCompile(`\b(urgent|immediate|verify|action required|suspend(ed)?)\b`)
	credentialAskRe = regexp.MustCompile(`enter (your )?password|provide (your )?password|confirm (your )?account|update billing|verify payment`)
	nonWordRe       = regexp.MustCompile(`\W+`)
)

var freeProviders = map[string]struct{}{
	"gmail.com":   {},
	"yahoo.com":   {},
	"hotmail.com": {},
	"outlook.com": {},
	"live.com":    {},
	"icloud.com":  {},
}

var dangerousExts = map[string]struct{}{
	"exe": {}, "scr": {}, "js": {}, "hta": {}, "vbs": {},
	"bat": {}, "msi": {}, "cmd": {}, "jar": {},
}

var archiveExts = map[string]struct{}{"zip": {}, "rar": {}}

var bodyKeywords = []string{"password", "bank", "billing", "invoice", "verify", "suspend", "secure", "confirm"}

// Scan analyzes the email and returns the risk report.
func (a *Analyzer) Scan(ctx context.Context, in Input) Report {
	urls := a.collectURLs(in)
	perURL := a.analyzeURLs(ctx, urls)
	sender := a.analyzeSender(ctx, in.Sender)

	var reasons []string

	// URL component: the single worst link dominates
	urlComponent := 0
	for _, rep := range perURL {
		if rep.Score > urlComponent {
			urlComponent = rep.Score
		}
		if rep.Label == scanner.LabelPhishing || rep.Label == "malicious" {
			reasons = append(reasons, "Linked URL flagged: "+rep.URL)
		}
	}

	// Sender domain age
	senderComponent := 0
	if sender.DomainAge != nil && sender.DomainAge.AgeDays != nil {
		switch days := *sender.DomainAge.AgeDays; {
		case days < 30:
			senderComponent = 30
			reasons = append(reasons, "Sender domain very new (<30 days)")
		case days < 180:
			senderComponent = 15
		}
	}

	// Attachments
	attachmentComponent := 0
	dangerousAttachment := false
	for _, att := range in.Attachments {
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(att.Filename)), ".")
		if _, bad := dangerousExts[ext]; bad {
			if attachmentComponent < 30 {
				attachmentComponent = 30
			}
			dangerousAttachment = true
			reasons = append(reasons, "Suspicious attachment type: ."+ext)
		} else if _, arch := archiveExts[ext]; arch {
			if attachmentComponent < 12 {
				attachmentComponent = 12
			}
			reasons = append(reasons, "Archive attachment: ."+ext)
		}
	}

	// Subject/body language
	subjBodyComponent := 0
	combined := strings.ToLower(in.Subject + "\n" + in.Body)
	if urgencyRe.MatchString(combined) {
		subjBodyComponent += 15
		reasons = append(reasons, "Urgency language detected")
	}
	if credentialAskRe.MatchString(combined) {
		subjBodyComponent += 25
		reasons = append(reasons, "Explicit credential/payment request language detected")
	}
	keywordHits := 0
	for _, kw := range bodyKeywords {
		if strings.Contains(combined, kw) {
			keywordHits++
		}
	}
	if bonus := keywordHits * 3; bonus > 10 {
		subjBodyComponent += 10
	} else {
		subjBodyComponent += bonus
	}

	// Display-name impersonation
	impersonationComponent := 0
	if display := displayName(in.Sender); display != "" && strings.Contains(in.Sender, "@") {
		local := in.Sender
		if m := displayNameRe.FindStringSubmatch(in.Sender); m != nil {
			local = m[2]
		}
		local = strings.ToLower(strings.SplitN(local, "@", 2)[0])
		if len(display) >= 4 {
			cleanDisplay := nonWordRe.ReplaceAllString(strings.ToLower(display), "")
			cleanLocal := nonWordRe.ReplaceAllString(local, "")
			threshold := max(3, len(cleanDisplay)/5)
			if len(cleanLocal) > len(cleanDisplay) {
				threshold = max(3, len(cleanLocal)/5)
			}
			if levenshtein(cleanDisplay, cleanLocal) > threshold {
				impersonationComponent = 8
				reasons = append(reasons, "Display name and email local part do not match (possible impersonation)")
			}
		}
	}

	// Compose: each non-URL component is scaled against its own ceiling and
	// weighted, then the worst link can still dominate outright.
	others := int(0.35*scale(senderComponent) +
		0.25*scale(attachmentComponent) +
		0.25*scale(subjBodyComponent) +
		0.15*scale(impersonationComponent))
	ruleBased := urlComponent
	if others > ruleBased {
		ruleBased = others
	}

	// Heuristic boosts
	final := ruleBased
	for _, rep := range perURL {
		if rep.Label == scanner.LabelPhishing || rep.Label == "malicious" || rep.Score >= 80 {
			final += 20
			break
		}
	}
	if senderDomain := addressDomain(in.Sender); senderDomain != "" && len(perURL) > 0 {
		linkDomain := domaininfo.RegistrableDomain(perURL[0].URL)
		if linkDomain != "" && linkDomain != domaininfo.RegistrableDomain(senderDomain) {
			final += 10
		}
	}
	if dangerousAttachment {
		final += 20
	}
	if final > 100 {
		final = 100
	}
	if final < 0 {
		final = 0
	}

	label, summary := labelAndSummary(final)

	var recommendations []string
	if label != scanner.LabelSafe {
		recommendations = append(recommendations, "Do not click links or open attachments until sender is validated.")
	}
	if len(perURL) > 0 {
		recommendations = append(recommendations, "Hover over links to verify real domains and report suspicious URLs to Security.")
	}
	if sender.EmailType == "free_provider" {
		recommendations = append(recommendations, "Double-check requests from free email providers that claim to be official.")
	}

	return Report{
		Summary:            summary,
		RuleBasedScore:     ruleBased,
		RuleBasedReasons:   reasons,
		PerURLReports:      perURL,
		SenderDomainReport: sender,
		FinalScore:         final,
		FinalLabel:         label,
		Recommendations:    recommendations,
		CombinedIndicators: reasons,
	}
}

// collectURLs merges explicit links with URLs extracted from subject and
// body, preserving order and de-duplicating, capped at maxURLs.
func (a *Analyzer) collectURLs(in Input) []string {
	var all []string
	all = append(all, in.Links...)
	all = append(all, urlPattern.FindAllString(in.Subject, -1)...)
	all = append(all, urlPattern.FindAllString(in.Body, -1)...)

	seen := make(map[string]struct{}, len(all))
	var out []string
	for _, u := range all {
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
		if len(out) == a.maxURLs {
			break
		}
	}
	return out
}

// analyzeURLs scans every link with bounded parallelism.
func (a *Analyzer) analyzeURLs(ctx context.Context, urls []string) []URLReport {
	if len(urls) == 0 {
		return nil
	}

	reports := make([]URLReport, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, raw := range urls {
		g.Go(func() error {
			verdict := a.urls.Scan(gctx, raw)
			rep := URLReport{
				URL:         verdict.URL,
				Label:       verdict.Label,
				Score:       verdict.Score,
				Reasons:     verdict.Reasons,
				DomainAge:   verdict.DomainAge,
				Certificate: verdict.Certificate,
			}
			if a.chains != nil {
				rep.RedirectChain = a.chains.Follow(gctx, raw)
			}
			reports[i] = rep
			return nil
		})
	}
	_ = g.Wait()
	return reports
}

// analyzeSender inspects the sender address and its domain.
func (a *Analyzer) analyzeSender(ctx context.Context, sender string) SenderReport {
	notChecked := AuthStatus{Status: "unknown", Details: "not checked in this service"}

	if sender == "" {
		return SenderReport{
			Present: false,
			Notes:   []string{"No sender address provided for analysis."},
			SPF:     notChecked,
			DKIM:    notChecked,
			DMARC:   notChecked,
		}
	}

	rep := SenderReport{
		Present: true,
		Address: sender,
		SPF:     notChecked,
		DKIM:    notChecked,
		DMARC:   notChecked,
	}

	domain := addressDomain(sender)
	rep.Domain = domain
	if domain == "" {
		return rep
	}

	if _, free := freeProviders[domain]; free {
		rep.EmailType = "free_provider"
		rep.Warnings = append(rep.Warnings,
			"Sender uses a free email provider; these are commonly abused for phishing.")
	} else {
		rep.EmailType = "business_or_custom"
	}

	if a.ages != nil {
		age := a.ages.Age(ctx, domain)
		rep.DomainAge = &age
	}
	return rep
}

func labelAndSummary(score int) (string, string) {
	switch {
	case score >= 60:
		return scanner.LabelPhishing, "High likelihood of phishing."
	case score >= 30:
		return scanner.LabelSuspicious, "Multiple suspicious indicators found."
	default:
		return scanner.LabelSafe, "No strong phishing indicators detected."
	}
}

// addressDomain extracts the lowercased domain from "Name <user@host>" or
// "user@host" forms.
func addressDomain(sender string) string {
	addr := sender
	if m := displayNameRe.FindStringSubmatch(sender); m != nil {
		addr = m[2]
	}
	if i := strings.LastIndex(addr, "@"); i >= 0 {
		return strings.ToLower(strings.TrimSpace(addr[i+1:]))
	}
	return ""
}

func displayName(sender string) string {
	if m := displayNameRe.FindStringSubmatch(sender); m != nil {
		return strings.Trim(strings.TrimSpace(m[1]), `"`)
	}
	if i := strings.Index(sender, "@"); i > 0 {
		return sender[:i]
	}
	return ""
}

// scale maps a component in [0,30] onto [0,100].
func scale(component int) float64 {
	if component <= 0 {
		return 0
	}
	scaled := float64(component) / 30 * 100
	if scaled > 100 {
		scaled = 100
	}
	return scaled
}

func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
