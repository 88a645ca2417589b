package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/infosmartsaveusa-bit/pdsss/internal/ai"
	"github.com/infosmartsaveusa-bit/pdsss/internal/content"
	"github.com/infosmartsaveusa-bit/pdsss/internal/email"
	"github.com/infosmartsaveusa-bit/pdsss/internal/redirect"
	"github.com/infosmartsaveusa-bit/pdsss/internal/scanner"
	"github.com/infosmartsaveusa-bit/pdsss/internal/store"
)

const (
	maxJSONBytes   = 1 << 20
	maxUploadBytes = 10 << 20
)

type urlRequest struct {
	URL    string `json:"url"`
	UserID string `json:"user_id,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": s.cfg.Name,
		"version": s.cfg.Version,
	})
}

func (s *Server) handleScanURL(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.URL == "" {
		s.writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	verdict := s.deps.URLs.Scan(r.Context(), req.URL)
	s.saveHistory(r.Context(), req.UserID, "url", verdict.URL, verdict, verdict.Score, verdict.Label)
	s.writeJSON(w, http.StatusOK, verdict)
}

func (s *Server) handleScanQR(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.writeError(w, http.StatusBadRequest, "expected multipart form upload")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	res := s.deps.QR.Scan(r.Context(), data, header.Filename)
	s.saveHistory(r.Context(), r.FormValue("user_id"), "qr", header.Filename, res, res.Score, res.Label)
	s.writeJSON(w, http.StatusOK, res)
}

type emailRequest struct {
	email.Input
	UserID string `json:"user_id,omitempty"`
}

func (s *Server) handleScanEmail(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Subject == "" && req.Body == "" && len(req.Links) == 0 {
		s.writeError(w, http.StatusBadRequest, "email content is required")
		return
	}

	rep := s.deps.Email.Scan(r.Context(), req.Input)
	s.saveHistory(r.Context(), req.UserID, "email", req.Subject, rep, rep.FinalScore, rep.FinalLabel)
	s.writeJSON(w, http.StatusOK, rep)
}

type screenshotResponse struct {
	URL           string          `json:"url"`
	FinalURL      string          `json:"final_url,omitempty"`
	RedirectChain *redirect.Chain `json:"redirect_chain,omitempty"`
	Screenshot    string          `json:"screenshot_base64,omitempty"`
	Success       bool            `json:"success"`
	Error         string          `json:"error,omitempty"`
}

// Screenshot failures are reported in the response body, not as HTTP
// errors: the chain and partial data are still useful to the caller.
func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.URL == "" {
		s.writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	target := scanner.Normalize(req.URL)
	resp := screenshotResponse{URL: target}

	if s.deps.Redirects != nil {
		chain := s.deps.Redirects.Follow(r.Context(), target)
		resp.RedirectChain = &chain
		resp.FinalURL = chain.Final()
	}

	if s.deps.Browser == nil {
		resp.Error = "screenshot capture unavailable"
	} else if shot, err := s.deps.Browser.CaptureScreenshot(r.Context(), target); err != nil {
		s.log.Warn("screenshot failed", zap.String("url", target), zap.Error(err))
		resp.Error = err.Error()
	} else {
		resp.Screenshot = base64.StdEncoding.EncodeToString(shot)
		resp.Success = true
	}

	s.writeJSON(w, http.StatusOK, resp)
}

type urlReportResponse struct {
	Report          scanner.Verdict `json:"report"`
	RedirectChain   *redirect.Chain `json:"redirect_chain,omitempty"`
	Screenshot      string          `json:"screenshot,omitempty"`
	ScreenshotError string          `json:"screenshot_error,omitempty"`
	PageAnalysis    *content.Report `json:"page_analysis,omitempty"`
	AIAssessment    *ai.Assessment  `json:"ai_assessment,omitempty"`
}

func (s *Server) handleURLReport(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.URL == "" {
		s.writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	verdict := s.deps.URLs.Scan(r.Context(), req.URL)
	resp := urlReportResponse{Report: verdict}

	if s.deps.Redirects != nil {
		chain := s.deps.Redirects.Follow(r.Context(), verdict.URL)
		resp.RedirectChain = &chain
	}

	if s.deps.Browser != nil {
		if shot, err := s.deps.Browser.CaptureScreenshot(r.Context(), verdict.URL); err != nil {
			s.log.Warn("report screenshot failed", zap.String("url", verdict.URL), zap.Error(err))
			resp.ScreenshotError = err.Error()
		} else {
			resp.Screenshot = "data:image/png;base64," + base64.StdEncoding.EncodeToString(shot)
		}

		if page, err := s.deps.Browser.RenderedPage(r.Context(), verdict.URL); err != nil {
			s.log.Warn("page render failed", zap.String("url", verdict.URL), zap.Error(err))
		} else if analysis, err := content.Analyze(page.HTML, page.FinalURL); err == nil {
			resp.PageAnalysis = analysis

			if s.deps.AI != nil {
				ev := ai.Evidence{
					URL:        verdict.URL,
					Title:      page.Title,
					Indicators: append(append([]string{}, verdict.Reasons...), analysis.Reasons...),
					TextSample: page.HTML,
				}
				if assessment, err := s.deps.AI.Assess(r.Context(), ev); err != nil {
					s.log.Warn("ai assessment failed", zap.String("url", verdict.URL), zap.Error(err))
				} else {
					resp.AIAssessment = assessment
				}
			}
		}
	}

	s.saveHistory(r.Context(), req.UserID, "url_report", verdict.URL, resp, verdict.Score, verdict.Label)
	s.writeJSON(w, http.StatusOK, resp)
}

type historyCreateRequest struct {
	UserID    string          `json:"user_id"`
	ScanType  string          `json:"scan_type"`
	Target    string          `json:"target"`
	Result    json.RawMessage `json:"result"`
	RiskScore int             `json:"risk_score"`
	RiskLabel string          `json:"risk_label"`
}

func (s *Server) handleHistoryCreate(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		s.writeError(w, http.StatusServiceUnavailable, "history store unavailable")
		return
	}
	var req historyCreateRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.UserID == "" || req.ScanType == "" {
		s.writeError(w, http.StatusBadRequest, "user_id and scan_type are required")
		return
	}

	id, err := s.deps.History.Save(r.Context(), store.Entry{
		UserID:    req.UserID,
		ScanType:  req.ScanType,
		Target:    req.Target,
		Result:    req.Result,
		RiskScore: req.RiskScore,
		RiskLabel: req.RiskLabel,
	})
	if err != nil {
		s.log.Error("history save failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to save scan record")
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleHistoryList(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		s.writeError(w, http.StatusServiceUnavailable, "history store unavailable")
		return
	}
	userID := mux.Vars(r)["user_id"]

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	entries, err := s.deps.History.ListByUser(r.Context(), userID, limit)
	if err != nil {
		s.log.Error("history list failed", zap.String("user_id", userID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load scan history")
		return
	}
	if entries == nil {
		entries = []store.Entry{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"count":   len(entries),
		"history": entries,
	})
}

// saveHistory records a scan result when a user is identified and the
// store is available. Failures are logged, never surfaced to the caller.
func (s *Server) saveHistory(ctx context.Context, userID, scanType, target string, result any, score int, label string) {
	if userID == "" || s.deps.History == nil {
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		s.log.Warn("history marshal failed", zap.String("scan_type", scanType), zap.Error(err))
		return
	}
	if _, err := s.deps.History.Save(ctx, store.Entry{
		UserID:    userID,
		ScanType:  scanType,
		Target:    target,
		Result:    raw,
		RiskScore: score,
		RiskLabel: label,
	}); err != nil {
		s.log.Warn("history save failed", zap.String("scan_type", scanType), zap.Error(err))
	}
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBytes)).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("response encode failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, map[string]string{"detail": detail})
}
