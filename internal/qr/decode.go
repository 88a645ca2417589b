// Package qr decodes barcode images and runs threat analysis on the
// extracted payload.
package qr

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"strings"

	// Registered decoders for the upload formats we accept.
	_ "image/jpeg"
	_ "image/png"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// ErrNoCode is returned when no decodable barcode is present in the image.
var ErrNoCode = errors.New("no barcode found in image")

// Payload content types.
const (
	TypeURL     = "url"
	TypeEmail   = "email"
	TypePhone   = "phone"
	TypeVCard   = "vcard"
	TypeWiFi    = "wifi"
	TypeText    = "text"
	TypeInvalid = "invalid"
)

// Decode extracts the first barcode payload from raw image bytes.
// QR codes are tried first, then the 1D symbologies.
func Decode(data []byte) (payload string, format string, err error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", "", fmt.Errorf("decode image: %w", err)
	}

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", "", fmt.Errorf("binarize image: %w", err)
	}

	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}

	readers := []gozxing.Reader{
		qrcode.NewQRCodeReader(),
		oned.NewMultiFormatUPCEANReader(hints),
		oned.NewCode128Reader(),
		oned.NewCode39Reader(),
	}
	for _, reader := range readers {
		if res, err := reader.Decode(bmp, hints); err == nil {
			return res.GetText(), res.GetBarcodeFormat().String(), nil
		}
	}

	return "", "", ErrNoCode
}

// Classify buckets a decoded payload by content type.
func Classify(payload string) string {
	switch {
	case payload == "":
		return TypeInvalid
	case strings.HasPrefix(payload, "http://"),
		strings.HasPrefix(payload, "https://"),
		strings.HasPrefix(payload, "ftp://"):
		return TypeURL
	case strings.HasPrefix(payload, "BEGIN:VCARD"):
		return TypeVCard
	case strings.HasPrefix(payload, "WIFI:"):
		return TypeWiFi
	case strings.HasPrefix(payload, "tel:"):
		return TypePhone
	case strings.Contains(payload, "@") && strings.Contains(payload, ".") && !strings.ContainsAny(payload, " \n"):
		return TypeEmail
	default:
		return TypeText
	}
}
