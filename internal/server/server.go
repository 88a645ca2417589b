// Package server exposes the scan API over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/infosmartsaveusa-bit/pdsss/internal/ai"
	"github.com/infosmartsaveusa-bit/pdsss/internal/browser"
	"github.com/infosmartsaveusa-bit/pdsss/internal/config"
	"github.com/infosmartsaveusa-bit/pdsss/internal/email"
	"github.com/infosmartsaveusa-bit/pdsss/internal/qr"
	"github.com/infosmartsaveusa-bit/pdsss/internal/redirect"
	"github.com/infosmartsaveusa-bit/pdsss/internal/scanner"
	"github.com/infosmartsaveusa-bit/pdsss/internal/store"
)

// URLScanner runs the URL verdict pipeline.
type URLScanner interface {
	Scan(ctx context.Context, url string) scanner.Verdict
}

// QRScanner analyzes uploaded barcode images.
type QRScanner interface {
	Scan(ctx context.Context, imageBytes []byte, filename string) qr.Result
}

// EmailAnalyzer scores submitted emails.
type EmailAnalyzer interface {
	Scan(ctx context.Context, in email.Input) email.Report
}

// Browser renders pages for screenshots and DOM analysis.
type Browser interface {
	CaptureScreenshot(ctx context.Context, url string) ([]byte, error)
	RenderedPage(ctx context.Context, url string) (*browser.Page, error)
}

// Redirects resolves redirect chains.
type Redirects interface {
	Follow(ctx context.Context, url string) redirect.Chain
}

// History persists and lists scan records.
type History interface {
	Save(ctx context.Context, e store.Entry) (string, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]store.Entry, error)
}

// PageAssessor produces an optional model-backed risk opinion.
type PageAssessor interface {
	Assess(ctx context.Context, ev ai.Evidence) (*ai.Assessment, error)
}

// Deps are the wired scan services. Browser, Redirects, History, and AI
// are optional; handlers degrade when they are nil.
type Deps struct {
	URLs      URLScanner
	QR        QRScanner
	Email     EmailAnalyzer
	Browser   Browser
	Redirects Redirects
	History   History
	AI        PageAssessor
}

// Server is the HTTP front end.
type Server struct {
	cfg    config.Config
	log    *zap.Logger
	deps   Deps
	router *mux.Router
}

// New builds the server and its routes.
func New(cfg config.Config, deps Deps, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{cfg: cfg, log: log, deps: deps, router: mux.NewRouter()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(s.corsMiddleware, s.loggingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/scan/url", s.handleScanURL).Methods(http.MethodPost)
	s.router.HandleFunc("/scan/qr", s.handleScanQR).Methods(http.MethodPost)
	s.router.HandleFunc("/scan/email", s.handleScanEmail).Methods(http.MethodPost)
	s.router.HandleFunc("/url/screenshot", s.handleScreenshot).Methods(http.MethodPost)
	s.router.HandleFunc("/api/url/report", s.handleURLReport).Methods(http.MethodPost)
	s.router.HandleFunc("/history/", s.handleHistoryCreate).Methods(http.MethodPost)
	s.router.HandleFunc("/history/{user_id}", s.handleHistoryList).Methods(http.MethodGet)

	// CORS preflight for any route
	s.router.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
}

// Handler returns the root http.Handler, exposed for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: s.cfg.Server.WriteTimeoutDuration(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeoutDuration())
	defer cancel()
	s.log.Info("shutting down http server")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}
