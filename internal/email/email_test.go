package email

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infosmartsaveusa-bit/pdsss/internal/domaininfo"
	"github.com/infosmartsaveusa-bit/pdsss/internal/redirect"
	"github.com/infosmartsaveusa-bit/pdsss/internal/scanner"
)

type stubURLScanner struct {
	mu      sync.Mutex
	verdict scanner.Verdict
	scanned []string
}

func (s *stubURLScanner) Scan(ctx context.Context, url string) scanner.Verdict {
	s.mu.Lock()
	s.scanned = append(s.scanned, url)
	s.mu.Unlock()
	v := s.verdict
	v.URL = url
	return v
}

type stubChains struct{ chain redirect.Chain }

func (s stubChains) Follow(ctx context.Context, url string) redirect.Chain { return s.chain }

type stubAges struct{ age domaininfo.Age }

func (s stubAges) Age(ctx context.Context, domain string) domaininfo.Age { return s.age }

func intPtr(v int) *int { return &v }

func TestAnalyzer_Scan_CleanEmail(t *testing.T) {
	a := NewAnalyzer(&stubURLScanner{}, nil, nil, 20, nil)

	rep := a.Scan(context.Background(), Input{
		Subject: "Lunch on Thursday",
		Sender:  "Pat Doe <pat@example.com>",
		Body:    "See you at noon, usual place.",
	})

	assert.Equal(t, scanner.LabelSafe, rep.FinalLabel)
	assert.Zero(t, rep.FinalScore)
	assert.Empty(t, rep.RuleBasedReasons)
	assert.Empty(t, rep.PerURLReports)
	assert.True(t, rep.SenderDomainReport.Present)
	assert.Equal(t, "example.com", rep.SenderDomainReport.Domain)
	assert.Equal(t, "business_or_custom", rep.SenderDomainReport.EmailType)
	assert.Equal(t, "unknown", rep.SenderDomainReport.SPF.Status)
}

func TestAnalyzer_Scan_PhishingLinkDominates(t *testing.T) {
	urls := &stubURLScanner{verdict: scanner.Verdict{
		Label:   scanner.LabelPhishing,
		Score:   75,
		Reasons: []string{"Found in OpenPhish phishing feed"},
	}}
	chains := stubChains{chain: redirect.Chain{Hops: []redirect.Hop{
		{URL: "http://evil.test/login", Status: 200, DurationMs: 12},
	}}}
	a := NewAnalyzer(urls, chains, nil, 20, nil)

	rep := a.Scan(context.Background(), Input{
		Subject: "Account notice",
		Body:    "Review your account at http://evil.test/login today.",
	})

	require.Len(t, rep.PerURLReports, 1)
	assert.Equal(t, "http://evil.test/login", rep.PerURLReports[0].URL)
	assert.Equal(t, 75, rep.PerURLReports[0].Score)
	require.Len(t, rep.PerURLReports[0].RedirectChain.Hops, 1)

	assert.Equal(t, 75, rep.RuleBasedScore)
	assert.Equal(t, 95, rep.FinalScore)
	assert.Equal(t, scanner.LabelPhishing, rep.FinalLabel)
	assert.Contains(t, rep.RuleBasedReasons, "Linked URL flagged: http://evil.test/login")
	assert.False(t, rep.SenderDomainReport.Present)
	assert.Contains(t, rep.Recommendations, "Do not click links or open attachments until sender is validated.")
}

func TestAnalyzer_Scan_SocialEngineeringLanguage(t *testing.T) {
	a := NewAnalyzer(&stubURLScanner{}, nil, nil, 20, nil)

	rep := a.Scan(context.Background(), Input{
		Subject:     "URGENT: verify your account",
		Sender:      "PayPal Support <support@gmail.com>",
		Body:        "Please enter your password to confirm your account billing.",
		Attachments: []Attachment{{Filename: "statement.zip"}},
	})

	assert.Equal(t, scanner.LabelSuspicious, rep.FinalLabel)
	assert.GreaterOrEqual(t, rep.FinalScore, 30)
	assert.Less(t, rep.FinalScore, 60)
	assert.Contains(t, rep.RuleBasedReasons, "Urgency language detected")
	assert.Contains(t, rep.RuleBasedReasons, "Explicit credential/payment request language detected")
	assert.Contains(t, rep.RuleBasedReasons, "Display name and email local part do not match (possible impersonation)")
	assert.Contains(t, rep.RuleBasedReasons, "Archive attachment: .zip")
	assert.Equal(t, "free_provider", rep.SenderDomainReport.EmailType)
	assert.Contains(t, rep.Recommendations, "Double-check requests from free email providers that claim to be official.")
}

func TestAnalyzer_Scan_DangerousAttachment(t *testing.T) {
	a := NewAnalyzer(&stubURLScanner{}, nil, nil, 20, nil)

	rep := a.Scan(context.Background(), Input{
		Subject:     "Invoice attached",
		Sender:      "billing@vendor.test",
		Body:        "Open the attached file.",
		Attachments: []Attachment{{Filename: "invoice.pdf.exe"}},
	})

	assert.Contains(t, rep.RuleBasedReasons, "Suspicious attachment type: .exe")
	assert.GreaterOrEqual(t, rep.FinalScore, 40)
	assert.Equal(t, scanner.LabelSuspicious, rep.FinalLabel)
}

func TestAnalyzer_Scan_YoungSenderDomain(t *testing.T) {
	ages := stubAges{age: domaininfo.Age{AgeDays: intPtr(10)}}
	a := NewAnalyzer(&stubURLScanner{}, nil, ages, 20, nil)

	rep := a.Scan(context.Background(), Input{
		Sender: "hello@fresh-domain.test",
		Body:   "Welcome aboard.",
	})

	require.NotNil(t, rep.SenderDomainReport.DomainAge)
	assert.Equal(t, 10, *rep.SenderDomainReport.DomainAge.AgeDays)
	assert.Contains(t, rep.RuleBasedReasons, "Sender domain very new (<30 days)")
	assert.Equal(t, scanner.LabelSuspicious, rep.FinalLabel)
}

func TestAnalyzer_collectURLs(t *testing.T) {
	a := NewAnalyzer(&stubURLScanner{}, nil, nil, 2, nil)

	got := a.collectURLs(Input{
		Links: []string{"http://a.test/1", "http://a.test/1"},
		Body:  "see http://b.test/2 and http://c.test/3",
	})

	assert.Equal(t, []string{"http://a.test/1", "http://b.test/2"}, got)
}

func TestAnalyzer_Scan_ScansEveryLink(t *testing.T) {
	urls := &stubURLScanner{verdict: scanner.Verdict{Label: scanner.LabelSafe}}
	a := NewAnalyzer(urls, nil, nil, 20, nil)

	a.Scan(context.Background(), Input{
		Links: []string{"http://one.test/", "http://two.test/", "http://three.test/"},
	})

	assert.ElementsMatch(t, []string{"http://one.test/", "http://two.test/", "http://three.test/"}, urls.scanned)
}

func TestAddressDomain(t *testing.T) {
	cases := []struct {
		sender string
		want   string
	}{
		{"user@example.com", "example.com"},
		{"Pat Doe <pat@Example.COM>", "example.com"},
		{"no-address-here", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, addressDomain(tc.sender), tc.sender)
	}
}
