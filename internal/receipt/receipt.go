package receipt

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/smartspend/smartspend/internal/extract"
)

var (
	// ErrNotFound is returned when a receipt does not exist
	ErrNotFound = errors.New("not found")
	// ErrInvalidUpload is returned for uploads the client has to fix (wrong type, empty, unreadable image)
	ErrInvalidUpload = errors.New("invalid upload")
	// ErrOCRFailed is returned when the OCR engine could not read an otherwise valid upload
	ErrOCRFailed = errors.New("ocr failed")
)

// Receipt represents one processed receipt upload
type Receipt struct {
	ID          string          `json:"id"`
	Filename    string          `json:"filename"`
	ContentType string          `json:"content_type"`
	RawText     string          `json:"raw_text"`
	ItemCount   int             `json:"item_count"`
	Total       decimal.Decimal `json:"total"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Item is a persisted line item, decorated with the receipt it came from
type Item struct {
	ID        string `json:"id"`
	ReceiptID string `json:"receipt_id"`
	// Position is the index of the item in extraction order
	Position int `json:"position"`
	extract.LineItem
	CreatedAt time.Time `json:"created_at"`
}

// ScanResult is returned to the client after an upload
type ScanResult struct {
	Message      string             `json:"message"`
	ItemsFound   int                `json:"items_found"`
	Items        []extract.LineItem `json:"items"`
	SkippedLines int                `json:"skipped_lines"`
	Text         string             `json:"text"`
	Receipt      *Receipt           `json:"receipt,omitempty"`
}

// ExtractResult is returned for text-only extraction requests
type ExtractResult struct {
	ItemsFound   int                `json:"items_found"`
	Items        []extract.LineItem `json:"items"`
	SkippedLines int                `json:"skipped_lines"`
}
