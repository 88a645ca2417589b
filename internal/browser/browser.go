// Package browser owns the headless Chrome instance used for screenshot
// capture and rendered-page analysis.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/infosmartsaveusa-bit/pdsss/internal/config"
)

// Session describes one tracked page visit.
type Session struct {
	ID         string    `json:"id"`
	TargetID   string    `json:"target_id,omitempty"`
	URL        string    `json:"url,omitempty"`
	Title      string    `json:"title,omitempty"`
	Status     string    `json:"status,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

// Page is the outcome of a rendered visit.
type Page struct {
	FinalURL string
	Title    string
	HTML     string
}

// Manager owns the shared Chrome instance and hands out isolated incognito
// pages per request.
type Manager struct {
	cfg config.BrowserConfig
	log *zap.Logger

	mu         sync.Mutex
	browser    *rod.Browser
	controlURL string
	sessions   map[string]Session
}

// NewManager creates a Manager; the browser launches lazily on first use.
func NewManager(cfg config.BrowserConfig, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{cfg: cfg, log: log, sessions: make(map[string]Session)}
}

// Start connects to an existing Chrome or launches a new one.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked(ctx)
}

func (m *Manager) startLocked(ctx context.Context) error {
	// If we already have a browser, verify it's still alive
	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return nil
		}
		m.log.Warn("stale browser connection detected, reconnecting")
		_ = m.browser.Close()
		m.browser = nil
		m.controlURL = ""
	}

	controlURL := m.cfg.DebuggerURL
	if controlURL == "" && len(m.cfg.Launch) > 0 {
		bin := m.cfg.Launch[0]
		launch := launcher.New().Bin(bin).Headless(m.cfg.Headless)
		for _, rawFlag := range m.cfg.Launch[1:] {
			flagStr := strings.TrimLeft(rawFlag, "-")
			name, val, hasVal := strings.Cut(flagStr, "=")
			if hasVal {
				launch = launch.Set(flags.Flag(name), val)
			} else {
				launch = launch.Set(flags.Flag(name))
			}
		}
		url, err := launch.Launch()
		if err != nil {
			// Retry without the extra flags before giving up
			fallback := launcher.New().Bin(bin).Headless(m.cfg.Headless)
			alt, altErr := fallback.Launch()
			if altErr != nil {
				return fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
			}
			controlURL = alt
		} else {
			controlURL = url
		}
	}

	if controlURL == "" {
		url, err := launcher.New().Headless(m.cfg.Headless).Launch()
		if err != nil {
			return fmt.Errorf("no debugger_url and failed to launch: %w", err)
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	m.browser = browser
	m.controlURL = controlURL
	m.log.Info("browser connected", zap.Bool("headless", m.cfg.Headless))
	return nil
}

func (m *Manager) ensureStarted(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.browser != nil {
		return nil
	}
	return m.startLocked(ctx)
}

// ControlURL returns the WebSocket debugger URL.
func (m *Manager) ControlURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.controlURL
}

// IsConnected reports whether the browser is connected.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.browser != nil
}

// Sessions returns metadata for recent page visits, newest last.
func (m *Manager) Sessions() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Shutdown closes the browser.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions = make(map[string]Session)
	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	m.controlURL = ""
	return err
}

// visit opens an isolated incognito page, navigates, waits for the page to
// settle, and hands the page to fn. The page is always closed afterwards.
func (m *Manager) visit(ctx context.Context, url string, fn func(page *rod.Page) error) error {
	if err := m.ensureStarted(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	browser := m.browser
	m.mu.Unlock()
	if browser == nil {
		return errors.New("browser not connected")
	}

	incognito, err := browser.Incognito()
	if err != nil {
		return fmt.Errorf("incognito context: %w", err)
	}

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		return fmt.Errorf("create page: %w", err)
	}
	defer page.Close()

	page = page.Context(ctx)

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.ViewportWidth,
		Height:            m.cfg.ViewportHeight,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		m.log.Warn("failed to set viewport", zap.Error(err))
	}

	if err := page.Timeout(m.cfg.NavigationTimeout()).Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := page.Timeout(m.cfg.NavigationTimeout()).WaitLoad(); err != nil {
		m.log.Debug("page load wait ended early", zap.String("url", url), zap.Error(err))
	}

	// Give late-running scripts a moment before capturing
	select {
	case <-time.After(m.cfg.SettleWait()):
	case <-ctx.Done():
		return ctx.Err()
	}

	meta := Session{
		ID:         uuid.NewString(),
		TargetID:   string(page.TargetID),
		URL:        url,
		Status:     "visited",
		CreatedAt:  time.Now(),
		LastActive: time.Now(),
	}
	if info, err := page.Info(); err == nil {
		meta.URL = info.URL
		meta.Title = info.Title
	}
	m.mu.Lock()
	m.sessions[meta.ID] = meta
	m.mu.Unlock()

	return fn(page)
}

// CaptureScreenshot renders the URL and returns a PNG of the viewport.
func (m *Manager) CaptureScreenshot(ctx context.Context, url string) ([]byte, error) {
	var shot []byte
	err := m.visit(ctx, url, func(page *rod.Page) error {
		data, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
			Format: proto.PageCaptureScreenshotFormatPng,
		})
		if err != nil {
			return fmt.Errorf("capture screenshot: %w", err)
		}
		shot = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return shot, nil
}

// RenderedPage renders the URL and returns the final DOM after scripts ran.
func (m *Manager) RenderedPage(ctx context.Context, url string) (*Page, error) {
	var out Page
	err := m.visit(ctx, url, func(page *rod.Page) error {
		html, err := page.HTML()
		if err != nil {
			return fmt.Errorf("serialize dom: %w", err)
		}
		out.HTML = html
		if info, err := page.Info(); err == nil {
			out.FinalURL = info.URL
			out.Title = info.Title
		} else {
			out.FinalURL = url
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
