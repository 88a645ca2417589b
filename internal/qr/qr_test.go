package qr

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infosmartsaveusa-bit/pdsss/internal/scanner"
)

// qrImage renders a QR code for the payload as PNG bytes.
func qrImage(t *testing.T, payload string) []byte {
	t.Helper()
	matrix, err := qrcode.NewQRCodeWriter().Encode(payload, gozxing.BarcodeFormat_QR_CODE, 256, 256, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, matrix))
	return buf.Bytes()
}

func blankImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// barcodeImage renders a Code 128 barcode for the payload as PNG bytes.
func barcodeImage(t *testing.T, payload string) []byte {
	t.Helper()
	matrix, err := oned.NewCode128Writer().Encode(payload, gozxing.BarcodeFormat_CODE_128, 400, 100, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, matrix))
	return buf.Bytes()
}

func TestDecode(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		payload, format, err := Decode(qrImage(t, "https://example.com/menu"))
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/menu", payload)
		assert.Equal(t, "QR_CODE", format)
	})

	t.Run("code 128 fallback", func(t *testing.T) {
		payload, format, err := Decode(barcodeImage(t, "ORDER-1234"))
		require.NoError(t, err)
		assert.Equal(t, "ORDER-1234", payload)
		assert.Equal(t, "CODE_128", format)
	})

	t.Run("blank image", func(t *testing.T) {
		_, _, err := Decode(blankImage(t))
		assert.ErrorIs(t, err, ErrNoCode)
	})

	t.Run("not an image", func(t *testing.T) {
		_, _, err := Decode([]byte("definitely not pixels"))
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrNoCode)
	})
}

func TestClassify(t *testing.T) {
	cases := []struct {
		payload string
		want    string
	}{
		{"https://example.com/", TypeURL},
		{"http://example.com/", TypeURL},
		{"ftp://files.example.com/", TypeURL},
		{"BEGIN:VCARD\nFN:Jo", TypeVCard},
		{"WIFI:S:cafe;T:WPA;P:pw;;", TypeWiFi},
		{"tel:+15551234567", TypePhone},
		{"jo@example.com", TypeEmail},
		{"just some words", TypeText},
		{"", TypeInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.payload, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.payload))
		})
	}
}

type stubURLScanner struct {
	verdict scanner.Verdict
	lastURL string
}

func (s *stubURLScanner) Scan(ctx context.Context, url string) scanner.Verdict {
	s.lastURL = url
	v := s.verdict
	v.URL = url
	return v
}

func TestService_Scan(t *testing.T) {
	t.Run("url payload runs the URL pipeline", func(t *testing.T) {
		stub := &stubURLScanner{verdict: scanner.Verdict{
			Label:   scanner.LabelPhishing,
			Score:   75,
			Reasons: []string{"Found in OpenPhish phishing feed"},
		}}
		svc := NewService(stub, nil)

		res := svc.Scan(context.Background(), qrImage(t, "http://evil.example/qr"), "menu.png")

		assert.Equal(t, "http://evil.example/qr", stub.lastURL)
		assert.Equal(t, TypeURL, res.Type)
		assert.Equal(t, scanner.LabelPhishing, res.Label)
		assert.Equal(t, 75, res.Score)
		require.NotNil(t, res.Report)
		assert.Equal(t, "menu.png", res.Filename)
		assert.Equal(t, "qr", res.ScanType)
	})

	t.Run("bare domain is normalized and scanned", func(t *testing.T) {
		stub := &stubURLScanner{verdict: scanner.Verdict{Label: scanner.LabelSafe}}
		svc := NewService(stub, nil)

		res := svc.Scan(context.Background(), qrImage(t, "example.com/lunch"), "")

		assert.Equal(t, "http://example.com/lunch", stub.lastURL)
		assert.Equal(t, TypeURL, res.Type)
	})

	t.Run("suspicious text payload", func(t *testing.T) {
		svc := NewService(&stubURLScanner{}, nil)

		res := svc.Scan(context.Background(), qrImage(t, "urgent: verify password"), "")

		assert.Equal(t, TypeText, res.Type)
		assert.Equal(t, "suspicious", res.Label)
		assert.GreaterOrEqual(t, res.Score, 30)
		assert.LessOrEqual(t, res.Score, 50)
	})

	t.Run("benign text payload", func(t *testing.T) {
		svc := NewService(&stubURLScanner{}, nil)

		res := svc.Scan(context.Background(), qrImage(t, "table seventeen"), "")

		assert.Equal(t, "safe", res.Label)
		assert.Zero(t, res.Score)
	})

	t.Run("undecodable upload", func(t *testing.T) {
		svc := NewService(&stubURLScanner{}, nil)

		res := svc.Scan(context.Background(), blankImage(t), "blank.png")

		assert.Equal(t, TypeInvalid, res.Type)
		assert.Equal(t, TypeInvalid, res.Label)
		assert.Contains(t, res.Reasons, "Failed to decode QR code from image")
	})
}
