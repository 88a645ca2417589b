package qr

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/infosmartsaveusa-bit/pdsss/internal/scanner"
)

// Result is the QR scan response.
type Result struct {
	Decoded  string           `json:"decoded,omitempty"`
	Type     string           `json:"type"`
	Format   string           `json:"format,omitempty"`
	Message  string           `json:"message"`
	URL      string           `json:"url,omitempty"`
	Label    string           `json:"label"`
	Score    int              `json:"score"`
	Reasons  []string         `json:"reasons"`
	Report   *scanner.Verdict `json:"report,omitempty"`
	Filename string           `json:"filename,omitempty"`
	ScanType string           `json:"scan_type"`
}

// URLScanner runs the full URL pipeline on decoded payloads.
type URLScanner interface {
	Scan(ctx context.Context, url string) scanner.Verdict
}

// Service decodes uploaded images and analyzes the payload.
type Service struct {
	urls URLScanner
	log  *zap.Logger
}

// NewService creates a QR scan service.
func NewService(urls URLScanner, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{urls: urls, log: log}
}

var textKeywords = []string{
	"password", "login", "verify", "account", "urgent",
	"suspended", "confirm", "security", "update", "click",
}

// Scan decodes the image and routes the payload: URLs get the full URL
// pipeline, plain text gets keyword scoring.
func (s *Service) Scan(ctx context.Context, imageBytes []byte, filename string) Result {
	payload, format, err := Decode(imageBytes)
	if err != nil {
		if !errors.Is(err, ErrNoCode) {
			s.log.Debug("qr decode failed", zap.String("filename", filename), zap.Error(err))
		}
		return Result{
			Type:     TypeInvalid,
			Message:  "No valid QR code found in image.",
			Label:    TypeInvalid,
			Reasons:  []string{"Failed to decode QR code from image"},
			Filename: filename,
			ScanType: "qr",
		}
	}

	kind := Classify(payload)

	// Bare domains ("example.com/login") are still worth the URL pipeline.
	if kind == TypeText && strings.Contains(payload, ".") && !strings.ContainsAny(payload, " \n") {
		kind = TypeURL
	}

	switch kind {
	case TypeURL:
		target := scanner.Normalize(payload)
		verdict := s.urls.Scan(ctx, target)
		return Result{
			Decoded:  payload,
			Type:     TypeURL,
			Format:   format,
			Message:  "QR code contains a URL. Threat analysis completed.",
			URL:      verdict.URL,
			Label:    verdict.Label,
			Score:    verdict.Score,
			Reasons:  verdict.Reasons,
			Report:   &verdict,
			Filename: filename,
			ScanType: "qr",
		}
	default:
		score, reasons := scoreText(payload)
		label := "safe"
		if score >= 30 {
			label = "suspicious"
		}
		return Result{
			Decoded:  payload,
			Type:     kind,
			Format:   format,
			Message:  "QR code contains " + kind + " data (not a URL).",
			Label:    label,
			Score:    score,
			Reasons:  reasons,
			Filename: filename,
			ScanType: "qr",
		}
	}
}

// scoreText rates a non-URL payload by phishing keyword density.
// Text-only payloads cap at 50.
func scoreText(payload string) (int, []string) {
	lower := strings.ToLower(payload)
	var reasons []string
	score := 0
	for _, kw := range textKeywords {
		if strings.Contains(lower, kw) {
			score += 15
			reasons = append(reasons, "Contains suspicious keyword: '"+kw+"'")
		}
	}
	if score > 50 {
		score = 50
	}
	if len(reasons) == 0 {
		reasons = []string{"No suspicious patterns detected in text content"}
	}
	return score, reasons
}
