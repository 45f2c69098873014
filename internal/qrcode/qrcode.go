// Package qrcode renders scan URLs as PNG QR codes.
package qrcode

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"

	goqrcode "github.com/skip2/go-qrcode"
)

const DefaultSize = 256

var ErrEmptyContent = errors.New("qrcode: content is empty")

// Renderer builds scan URLs for codes and encodes them as PNG images.
type Renderer struct {
	baseURL string
	size    int
}

// NewRenderer returns a renderer whose scan links are baseURL/<code_id>.
func NewRenderer(baseURL string, size int) (*Renderer, error) {
	u, err := url.Parse(baseURL)
	if err != nil || !u.IsAbs() {
		return nil, fmt.Errorf("qrcode: base url must be absolute: %q", baseURL)
	}
	if size <= 0 {
		size = DefaultSize
	}
	return &Renderer{baseURL: strings.TrimRight(baseURL, "/"), size: size}, nil
}

// ScanURL is the link encoded in a code's image.
func (r *Renderer) ScanURL(codeID string) string {
	return r.baseURL + "/" + url.PathEscape(codeID)
}

// PNG renders the code's scan URL.
func (r *Renderer) PNG(codeID string) ([]byte, error) {
	return Encode(r.ScanURL(codeID), r.size)
}

// DataURL renders the code's scan URL as an inline PNG data URL.
func (r *Renderer) DataURL(codeID string) (string, error) {
	png, err := r.PNG(codeID)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// Encode renders content as a square PNG with medium error correction.
func Encode(content string, size int) ([]byte, error) {
	if content == "" {
		return nil, ErrEmptyContent
	}
	png, err := goqrcode.Encode(content, goqrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("qrcode: failed to encode: %w", err)
	}
	return png, nil
}
