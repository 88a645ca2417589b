// Package intel integrates external threat intelligence: the Google Safe
// Browsing v4 lookup API and the OpenPhish feed.
package intel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const defaultSafeBrowsingEndpoint = "https://safebrowsing.googleapis.com/v4/threatMatches:find"

// Match is the outcome of a Safe Browsing lookup.
type Match struct {
	Flagged    bool   `json:"flagged"`
	ThreatType string `json:"threat_type,omitempty"`
}

// SafeBrowsing queries the Google Safe Browsing v4 threatMatches API.
// With no API key configured every lookup reports not flagged.
type SafeBrowsing struct {
	apiKey   string
	endpoint string
	client   *http.Client
	log      *zap.Logger
}

// NewSafeBrowsing creates a Safe Browsing client.
func NewSafeBrowsing(apiKey string, log *zap.Logger) *SafeBrowsing {
	return &SafeBrowsing{
		apiKey:   apiKey,
		endpoint: defaultSafeBrowsingEndpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
		log:      log,
	}
}

// Enabled reports whether an API key is configured.
func (s *SafeBrowsing) Enabled() bool { return s.apiKey != "" }

type threatEntry struct {
	URL string `json:"url"`
}

type lookupRequest struct {
	Client struct {
		ClientID      string `json:"clientId"`
		ClientVersion string `json:"clientVersion"`
	} `json:"client"`
	ThreatInfo struct {
		ThreatTypes      []string      `json:"threatTypes"`
		PlatformTypes    []string      `json:"platformTypes"`
		ThreatEntryTypes []string      `json:"threatEntryTypes"`
		ThreatEntries    []threatEntry `json:"threatEntries"`
	} `json:"threatInfo"`
}

type lookupResponse struct {
	Matches []struct {
		ThreatType string `json:"threatType"`
	} `json:"matches"`
}

// Check looks up a single URL. Lookup failures are logged and reported as
// not flagged so an API outage never blocks scanning.
func (s *SafeBrowsing) Check(ctx context.Context, url string) Match {
	if !s.Enabled() {
		return Match{}
	}

	var req lookupRequest
	req.Client.ClientID = "phishscan"
	req.Client.ClientVersion = "1.0"
	req.ThreatInfo.ThreatTypes = []string{
		"MALWARE",
		"SOCIAL_ENGINEERING",
		"UNWANTED_SOFTWARE",
		"POTENTIALLY_HARMFUL_APPLICATION",
	}
	req.ThreatInfo.PlatformTypes = []string{"ANY_PLATFORM"}
	req.ThreatInfo.ThreatEntryTypes = []string{"URL"}
	req.ThreatInfo.ThreatEntries = []threatEntry{{URL: url}}

	body, err := json.Marshal(req)
	if err != nil {
		return Match{}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s?key=%s", s.endpoint, s.apiKey), bytes.NewReader(body))
	if err != nil {
		return Match{}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		s.log.Warn("safe browsing lookup failed", zap.Error(err))
		return Match{}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.log.Warn("safe browsing lookup rejected", zap.Int("status", resp.StatusCode))
		return Match{}
	}

	var out lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		s.log.Warn("safe browsing response unreadable", zap.Error(err))
		return Match{}
	}

	if len(out.Matches) == 0 {
		return Match{}
	}
	return Match{Flagged: true, ThreatType: out.Matches[0].ThreatType}
}
