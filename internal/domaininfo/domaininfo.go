// Package domaininfo reports domain registration age and TLS certificate
// details for scanned hosts. Lookups never fail a scan: errors are carried
// inside the result so callers can keep scoring with whatever resolved.
package domaininfo

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/likexian/whois"
	whoisparser "github.com/likexian/whois-parser"
	"golang.org/x/net/publicsuffix"
)

// Age describes how long ago a domain was registered.
type Age struct {
	Created string `json:"created,omitempty"`
	AgeDays *int   `json:"age_days"`
	Error   string `json:"error,omitempty"`
}

// Certificate summarizes the leaf certificate served on :443.
type Certificate struct {
	Issuer    string `json:"issuer"`
	ValidFrom string `json:"valid_from,omitempty"`
	ValidTo   string `json:"valid_to,omitempty"`
	Valid     bool   `json:"valid"`
	DaysLeft  *int   `json:"days_left,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Provider performs whois and TLS lookups.
type Provider struct {
	whoisClient *whois.Client
	dialTimeout time.Duration
	now         func() time.Time
}

// NewProvider creates a Provider with the given per-lookup timeout.
func NewProvider(timeout time.Duration) *Provider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := whois.NewClient()
	client.SetTimeout(timeout)
	return &Provider{
		whoisClient: client,
		dialTimeout: timeout,
		now:         time.Now,
	}
}

// RegistrableDomain extracts the eTLD+1 for a URL or bare host.
// Falls back to the host itself when the public suffix list can't help
// (IP literals, localhost).
func RegistrableDomain(raw string) string {
	host := raw
	if strings.Contains(raw, "/") || strings.Contains(raw, "://") {
		if u, err := url.Parse(ensureScheme(raw)); err == nil && u.Hostname() != "" {
			host = u.Hostname()
		}
	}
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if net.ParseIP(host) != nil {
		return host
	}
	if etld, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return etld
	}
	return host
}

// Age looks up the whois creation date for a registrable domain.
func (p *Provider) Age(ctx context.Context, domain string) Age {
	type whoisResult struct {
		raw string
		err error
	}
	ch := make(chan whoisResult, 1)
	go func() {
		raw, err := p.whoisClient.Whois(domain)
		ch <- whoisResult{raw: raw, err: err}
	}()

	var raw string
	select {
	case res := <-ch:
		if res.err != nil {
			return Age{Error: res.err.Error()}
		}
		raw = res.raw
	case <-ctx.Done():
		return Age{Error: ctx.Err().Error()}
	}

	parsed, err := whoisparser.Parse(raw)
	if err != nil {
		return Age{Error: err.Error()}
	}

	created := parsed.Domain.CreatedDateInTime
	if created == nil {
		return Age{Error: "created date not found"}
	}

	t := *created
	if t.Location() == nil {
		t = t.UTC()
	}
	days := int(p.now().UTC().Sub(t.UTC()).Hours() / 24)
	return Age{
		Created: t.UTC().Format("2006-01-02"),
		AgeDays: &days,
	}
}

// Certificate dials host:443 and summarizes the presented leaf certificate.
func (p *Provider) Certificate(ctx context.Context, host string) Certificate {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: p.dialTimeout},
		Config:    &tls.Config{ServerName: host},
	}

	ctx, cancel := context.WithTimeout(ctx, p.dialTimeout)
	defer cancel()

	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, "443"))
	if err != nil {
		return Certificate{Issuer: "Unknown", Valid: false, Error: err.Error()}
	}
	defer conn.Close()

	state := conn.(*tls.Conn).ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return Certificate{Issuer: "Unknown", Valid: false, Error: "no peer certificate presented"}
	}

	return p.summarize(state.PeerCertificates[0])
}

func (p *Provider) summarize(leaf *x509.Certificate) Certificate {
	now := p.now().UTC()
	valid := !now.Before(leaf.NotBefore) && !now.After(leaf.NotAfter)
	daysLeft := int(leaf.NotAfter.Sub(now).Hours() / 24)

	cert := Certificate{
		Issuer:    issuerString(leaf),
		ValidFrom: leaf.NotBefore.UTC().Format(time.RFC3339),
		ValidTo:   leaf.NotAfter.UTC().Format(time.RFC3339),
		Valid:     valid,
		DaysLeft:  &daysLeft,
	}
	if !valid {
		cert.Error = fmt.Sprintf("certificate not valid at %s", now.Format(time.RFC3339))
	}
	return cert
}

// issuerString renders the issuer as "Organization - Common Name" with
// whichever parts are present.
func issuerString(cert *x509.Certificate) string {
	org := ""
	if len(cert.Issuer.Organization) > 0 {
		org = cert.Issuer.Organization[0]
	}
	cn := cert.Issuer.CommonName

	switch {
	case org != "" && cn != "":
		return org + " - " + cn
	case org != "":
		return org
	case cn != "":
		return cn
	default:
		return "Unknown"
	}
}

func ensureScheme(raw string) string {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	return "http://" + raw
}
