package utils

import (
	"encoding/base64"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

const qrDataURLPrefix = "data:image/png;base64,"

// IsImageReference reports whether raw can already be displayed by a browser.
func IsImageReference(raw string) bool {
	return strings.HasPrefix(raw, "data:image/") ||
		strings.HasPrefix(raw, "http://") ||
		strings.HasPrefix(raw, "https://")
}

// QRCodeDataURL renders a pairing code into a PNG data URL. Values that are
// already displayable are returned unchanged.
func QRCodeDataURL(raw string, size int) (string, error) {
	if IsImageReference(raw) {
		return raw, nil
	}
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(raw, qrcode.Medium, size)
	if err != nil {
		return "", err
	}
	return qrDataURLPrefix + base64.StdEncoding.EncodeToString(png), nil
}
