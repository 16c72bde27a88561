package web

import (
	"encoding/base64"
	"html/template"

	qrcode "github.com/skip2/go-qrcode"
)

const (
	confirmationQRSize = 200
	passQRSize         = 150
	pngQRSize          = 256
)

func qrPNG(content string, size int) ([]byte, error) {
	return qrcode.Encode(content, qrcode.Medium, size)
}

// qrDataURL renders content as an inline PNG usable in an <img src>.
func qrDataURL(content string, size int) (template.URL, error) {
	png, err := qrPNG(content, size)
	if err != nil {
		return "", err
	}
	return template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(png)), nil
}
