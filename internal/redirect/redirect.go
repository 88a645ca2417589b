// Package redirect follows a URL's redirect chain hop by hop, recording
// status and latency for each hop instead of letting the transport follow
// Location headers silently.
package redirect

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Hop records a single response in the chain.
type Hop struct {
	URL        string `json:"url"`
	Status     int    `json:"status"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// Chain is the ordered list of hops for a URL.
type Chain struct {
	Hops []Hop `json:"chain"`
}

// Final returns the last successfully fetched URL, or the empty string.
func (c Chain) Final() string {
	for i := len(c.Hops) - 1; i >= 0; i-- {
		if c.Hops[i].Error == "" {
			return c.Hops[i].URL
		}
	}
	return ""
}

// Follower fetches redirect chains.
type Follower struct {
	client  *http.Client
	maxHops int
}

// NewFollower builds a Follower with the given hop cap and per-request
// timeout. Redirects are never followed automatically.
func NewFollower(maxHops int, timeout time.Duration) *Follower {
	if maxHops <= 0 {
		maxHops = 10
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Follower{
		maxHops: maxHops,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently,
		http.StatusFound,
		http.StatusSeeOther,
		http.StatusTemporaryRedirect,
		http.StatusPermanentRedirect:
		return true
	}
	return false
}

// Follow walks the redirect chain starting at rawURL.
// Transport errors and timeouts terminate the chain with an error hop;
// they never return an error to the caller.
func (f *Follower) Follow(ctx context.Context, rawURL string) Chain {
	current := rawURL
	if !strings.HasPrefix(current, "http://") && !strings.HasPrefix(current, "https://") {
		current = "http://" + current
	}

	var chain Chain
	for i := 0; i < f.maxHops; i++ {
		start := time.Now()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
		if err != nil {
			chain.Hops = append(chain.Hops, Hop{URL: current, Error: err.Error()})
			return chain
		}

		resp, err := f.client.Do(req)
		elapsed := time.Since(start).Milliseconds()
		if err != nil {
			hop := Hop{URL: current, DurationMs: elapsed, Error: err.Error()}
			var urlErr *url.Error
			if errors.As(err, &urlErr) && urlErr.Timeout() {
				hop.Status = http.StatusRequestTimeout
				hop.Error = "timeout"
			}
			chain.Hops = append(chain.Hops, hop)
			return chain
		}

		// Drain so the connection can be reused for the next hop.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()

		chain.Hops = append(chain.Hops, Hop{
			URL:        resp.Request.URL.String(),
			Status:     resp.StatusCode,
			DurationMs: elapsed,
		})

		if !isRedirect(resp.StatusCode) {
			return chain
		}

		location := resp.Header.Get("Location")
		if location == "" {
			return chain
		}
		next, err := resp.Request.URL.Parse(location)
		if err != nil {
			chain.Hops = append(chain.Hops, Hop{URL: location, Error: "unparseable redirect target"})
			return chain
		}
		current = next.String()
	}
	return chain
}
