package network

import (
	"encoding/base64"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// QRCodeBase64 renders content as a PNG QR code and returns it base64-encoded.
func QRCodeBase64(content string, size int) (string, error) {
	if size <= 0 {
		size = DefaultQRSize
	}
	png, err := qrcode.Encode(content, qrcode.Medium, size)
	if err != nil {
		return "", fmt.Errorf("encode QR code: %w", err)
	}
	return base64.StdEncoding.EncodeToString(png), nil
}
