package scanning

import (
	"context"
	"errors"
)

// ErrUnsupportedImage is returned when the upload cannot be decoded as an image or PDF
var ErrUnsupportedImage = errors.New("unsupported image")

// Scanner defines the interface for OCR engines
type Scanner interface {
	// ScanText reads all text printed on a receipt image/PDF, one receipt line per text line
	ScanText(ctx context.Context, imageData []byte, contentType string) (string, error)
	// Close closes the scanner and releases resources
	Close() error
}
