package scanner

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/infosmartsaveusa-bit/pdsss/internal/domaininfo"
)

// ruleResult aggregates the structural rule scores for a URL.
type ruleResult struct {
	Score   int
	Reasons []string
}

type pattern struct {
	re     *regexp.Regexp
	reason string
}

var urlPatterns = []pattern{
	{regexp.MustCompile(`(?i)bit\.ly|tinyurl|goo\.gl|t\.co/|short\.link`), "URL shortener detected"},
	{regexp.MustCompile(`[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}`), "IP address in URL"},
	{regexp.MustCompile(`(?i)[a-z0-9-]+\.(tk|ml|ga|cf|gq)(/|$|:)`), "Suspicious TLD detected"},
	{regexp.MustCompile(`(?i)[a-z0-9]+\.(com|net|org)\.(tk|ml|ga|cf)`), "Double domain suspicious pattern"},
	{regexp.MustCompile(`(?i)//[a-z0-9-]+-[a-z0-9-]+-[a-z0-9-]+\.(com|net|org)`), "Highly suspicious domain pattern"},
}

var suspiciousQueryParams = []string{"redirect", "return", "next", "goto", "url", "link", "target"}

var knownBrands = []string{"paypal", "google", "facebook", "amazon", "microsoft"}

var trustedDomains = []string{
	"google.com",
	"microsoft.com",
	"apple.com",
	"amazon.com",
	"paypal.com",
	"bankofamerica.com",
	"wellsfargo.com",
	"chase.com",
}

var domainPhishingTerms = []string{
	"secure", "security", "verify", "login", "update",
	"account", "billing", "support", "center",
}

var badPathTerms = []string{"verify", "login", "auth", "update", "security"}

// evaluateRules applies the structural rule set to an already-parsed URL.
func evaluateRules(u *url.URL) ruleResult {
	var res ruleResult
	full := u.String()
	host := u.Hostname()
	hostLower := strings.ToLower(host)
	path := strings.ToLower(u.Path)
	mainDomain := domaininfo.RegistrableDomain(hostLower)

	for _, p := range urlPatterns {
		if p.re.MatchString(full) {
			res.Score += 5
			res.Reasons = append(res.Reasons, p.reason)
		}
	}

	query := u.Query()
	for _, param := range suspiciousQueryParams {
		if query.Has(param) {
			res.Score += 3
			res.Reasons = append(res.Reasons, "Suspicious query parameter: '"+param+"'")
		}
	}

	if len(hostLower) > 50 {
		res.Score += 4
		res.Reasons = append(res.Reasons, "Unusually long domain name")
	}

	if strings.Count(hostLower, "-") > 3 {
		res.Score += 3
		res.Reasons = append(res.Reasons, "Too many hyphens in domain")
	}

	if hasUpper(host) {
		res.Score += 2
		res.Reasons = append(res.Reasons, "Mixed case in domain (possible spoofing)")
	}

	if u.Scheme != "https" {
		res.Score += 5
		res.Reasons = append(res.Reasons, "Not using HTTPS")
	}

	if port := u.Port(); port != "" && port != "80" && port != "443" && port != "8080" {
		res.Score += 3
		res.Reasons = append(res.Reasons, "Non-standard port: "+port)
	}

	// Strong heuristics: these alone should push a clearly hostile URL over
	// the suspicious threshold.
	for _, term := range domainPhishingTerms {
		if strings.Contains(mainDomain, term) {
			res.Score += 20
			res.Reasons = append(res.Reasons, "Suspicious keyword found in domain")
			break
		}
	}

	label := mainDomain
	if i := strings.Index(label, "."); i > 0 {
		label = label[:i]
	}
	for _, brand := range knownBrands {
		r := similarity(label, brand)
		if r > 0.55 && r < 0.95 {
			res.Score += 35
			res.Reasons = append(res.Reasons, "Lookalike domain detected (similar to "+brand+")")
			break
		}
	}

	for _, term := range badPathTerms {
		if strings.Contains(path, term) {
			res.Score += 20
			res.Reasons = append(res.Reasons, "Suspicious path detected")
			break
		}
	}

	// Trusted registrable domains earn a small discount
	for _, trusted := range trustedDomains {
		if mainDomain == trusted {
			res.Score -= 10
			if res.Score < 0 {
				res.Score = 0
			}
			break
		}
	}

	return res
}

func hasUpper(s string) bool {
	for _, r := range s {
		if unicode.IsUpper(r) {
			return true
		}
	}
	return false
}

// similarity is a Levenshtein ratio in [0,1]; 1 means identical.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(a, b))/float64(longest)
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
			cur[j] = min3(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
