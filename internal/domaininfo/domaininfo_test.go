package domaininfo

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRegistrableDomain(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://accounts.example.co.uk/login", "example.co.uk"},
		{"http://sub.deep.example.com", "example.com"},
		{"example.com", "example.com"},
		{"http://192.168.1.10/login", "192.168.1.10"},
		{"Example.COM.", "example.com"},
		{"localhost", "localhost"},
	}

	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, RegistrableDomain(tc.in))
		})
	}
}

func TestIssuerString(t *testing.T) {
	t.Run("org and common name", func(t *testing.T) {
		cert := &x509.Certificate{Issuer: pkix.Name{
			Organization: []string{"Google Trust Services"},
			CommonName:   "GTS CA 1C3",
		}}
		assert.Equal(t, "Google Trust Services - GTS CA 1C3", issuerString(cert))
	})

	t.Run("common name only", func(t *testing.T) {
		cert := &x509.Certificate{Issuer: pkix.Name{CommonName: "R3"}}
		assert.Equal(t, "R3", issuerString(cert))
	})

	t.Run("empty issuer", func(t *testing.T) {
		assert.Equal(t, "Unknown", issuerString(&x509.Certificate{}))
	})
}

func TestSummarize(t *testing.T) {
	fixed := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	p := NewProvider(time.Second)
	p.now = func() time.Time { return fixed }

	t.Run("valid certificate with days left", func(t *testing.T) {
		leaf := &x509.Certificate{
			Issuer:    pkix.Name{CommonName: "R3"},
			NotBefore: fixed.AddDate(0, -1, 0),
			NotAfter:  fixed.AddDate(0, 0, 40),
		}
		cert := p.summarize(leaf)

		assert.True(t, cert.Valid)
		assert.Empty(t, cert.Error)
		if assert.NotNil(t, cert.DaysLeft) {
			assert.Equal(t, 40, *cert.DaysLeft)
		}
	})

	t.Run("expired certificate", func(t *testing.T) {
		leaf := &x509.Certificate{
			NotBefore: fixed.AddDate(-1, 0, 0),
			NotAfter:  fixed.AddDate(0, 0, -3),
		}
		cert := p.summarize(leaf)

		assert.False(t, cert.Valid)
		assert.NotEmpty(t, cert.Error)
	})
}
