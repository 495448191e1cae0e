package receipt

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"

	"github.com/smartspend/smartspend/internal/extract"
	"github.com/smartspend/smartspend/internal/scanning"
)

const (
	messageProcessed = "Receipt processed successfully"
	messageNoItems   = "No items detected in the receipt"
)

// IDGenerator generates unique IDs for receipts and items
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates random UUIDs
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Config holds the service settings chosen at startup
type Config struct {
	// OCRConcurrency bounds how many scans run at once
	OCRConcurrency int64
	// OCRTimeout bounds a single scan
	OCRTimeout time.Duration
	// CurrencySymbols overrides the extractor's currency marker table
	CurrencySymbols []string
	// Metrics records processing outcomes; nil disables metrics
	Metrics *Metrics
}

// Service handles receipt operations
type Service struct {
	db          DB
	scanner     scanning.Scanner
	storage     Storage
	extractor   *extract.Extractor
	idGenerator IDGenerator
	timeSource  TimeSource
	ocrSlots    *semaphore.Weighted
	ocrTimeout  time.Duration
	metrics     *Metrics
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, scanner scanning.Scanner, storage Storage, cfg Config) *Service {
	return NewServiceWithDeps(db, scanner, storage, &defaultIDGenerator{}, &defaultTimeSource{}, cfg)
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, scanner scanning.Scanner, storage Storage, idGen IDGenerator, timeSrc TimeSource, cfg Config) *Service {
	if cfg.OCRConcurrency <= 0 {
		cfg.OCRConcurrency = 3
	}
	if cfg.OCRTimeout <= 0 {
		cfg.OCRTimeout = 2 * time.Minute
	}

	var opts []extract.Option
	if len(cfg.CurrencySymbols) > 0 {
		opts = append(opts, extract.WithCurrencySymbols(cfg.CurrencySymbols...))
	}

	return &Service{
		db:          db,
		scanner:     scanner,
		storage:     storage,
		extractor:   extract.New(opts...),
		idGenerator: idGen,
		timeSource:  timeSrc,
		ocrSlots:    semaphore.NewWeighted(cfg.OCRConcurrency),
		ocrTimeout:  cfg.OCRTimeout,
		metrics:     cfg.Metrics,
	}
}

// isSupportedContentType accepts images and PDFs
func isSupportedContentType(contentType string) bool {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	return strings.HasPrefix(contentType, "image/") || strings.HasPrefix(contentType, "application/pdf")
}

// ProcessReceipt runs OCR on an upload, extracts its line items and saves them.
// Uploads without any line item are not saved.
func (s *Service) ProcessReceipt(ctx context.Context, filename string, data []byte, contentType string) (*ScanResult, error) {
	if len(data) == 0 {
		s.metrics.observeReceipt(outcomeInvalidUpload)
		return nil, fmt.Errorf("%w: file is empty", ErrInvalidUpload)
	}
	if !isSupportedContentType(contentType) {
		s.metrics.observeReceipt(outcomeInvalidUpload)
		return nil, fmt.Errorf("%w: file must be an image or PDF, got %q", ErrInvalidUpload, contentType)
	}

	text, err := s.scan(ctx, filename, data, contentType)
	if err != nil {
		if errors.Is(err, ErrInvalidUpload) {
			s.metrics.observeReceipt(outcomeInvalidUpload)
		} else {
			s.metrics.observeReceipt(outcomeOCRFailed)
		}
		return nil, err
	}

	extracted := s.extractor.Extract(text)
	s.metrics.observeExtraction(extracted)

	result := &ScanResult{
		ItemsFound:   len(extracted.Items),
		Items:        extracted.Items,
		SkippedLines: extracted.Skipped,
		Text:         text,
	}
	if len(extracted.Items) == 0 {
		slog.Info("No items detected", "filename", filename, "lines_skipped", extracted.Skipped)
		s.metrics.observeReceipt(outcomeNoItems)
		result.Message = messageNoItems
		return result, nil
	}

	receipt, err := s.save(filename, data, contentType, text, extracted.Items)
	if err != nil {
		s.metrics.observeReceipt(outcomeSaveFailed)
		return nil, err
	}

	s.metrics.observeReceipt(outcomeProcessed)
	result.Message = messageProcessed
	result.Receipt = receipt
	return result, nil
}

// scan runs the OCR engine inside the concurrency bound and timeout
func (s *Service) scan(ctx context.Context, filename string, data []byte, contentType string) (string, error) {
	if err := s.ocrSlots.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("%w: waiting for OCR slot: %w", ErrOCRFailed, err)
	}
	defer s.ocrSlots.Release(1)

	ctx, cancel := context.WithTimeout(ctx, s.ocrTimeout)
	defer cancel()

	start := time.Now()
	text, err := s.scanner.ScanText(ctx, data, contentType)
	s.metrics.observeOCR(time.Since(start), err)
	if err != nil {
		slog.Error("Failed to scan receipt",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		if errors.Is(err, scanning.ErrUnsupportedImage) {
			return "", fmt.Errorf("%w: %w", ErrInvalidUpload, err)
		}
		return "", fmt.Errorf("%w: %w", ErrOCRFailed, err)
	}
	return text, nil
}

// save stores the original upload, then the receipt and its items
func (s *Service) save(filename string, data []byte, contentType, text string, lineItems []extract.LineItem) (*Receipt, error) {
	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	total := decimal.Zero
	items := make([]*Item, 0, len(lineItems))
	for i, lineItem := range lineItems {
		total = total.Add(lineItem.Price)
		items = append(items, &Item{
			ID:        s.idGenerator.Generate(),
			ReceiptID: id,
			Position:  i,
			LineItem:  lineItem,
			CreatedAt: now,
		})
	}

	receipt := &Receipt{
		ID:          id,
		Filename:    savedPath,
		ContentType: contentType,
		RawText:     text,
		ItemCount:   len(items),
		Total:       total,
		CreatedAt:   now,
	}

	if err := s.db.SaveReceipt(receipt, items); err != nil {
		// Clean up file if database save fails
		if delErr := s.storage.Delete(savedPath); delErr != nil {
			slog.Warn("Failed to delete file", "filename", savedPath, "error", delErr)
		}
		return nil, fmt.Errorf("saving receipt to database: %w", err)
	}

	return receipt, nil
}

// ExtractText extracts line items from already recognized text without saving anything
func (s *Service) ExtractText(text string) *ExtractResult {
	extracted := s.extractor.Extract(text)
	return &ExtractResult{
		ItemsFound:   len(extracted.Items),
		Items:        extracted.Items,
		SkippedLines: extracted.Skipped,
	}
}

// GetReceipt retrieves a receipt by ID
func (s *Service) GetReceipt(id string) (*Receipt, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return receipt, nil
}

// GetReceiptWithItems retrieves a receipt with its line items
func (s *Service) GetReceiptWithItems(id string) (*Receipt, []*Item, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, nil, fmt.Errorf("getting receipt: %w", err)
	}

	items, err := s.db.ListReceiptItems(id)
	if err != nil {
		return nil, nil, fmt.Errorf("listing items for receipt %s: %w", id, err)
	}

	return receipt, items, nil
}

// ListReceipts returns all receipts, newest first
func (s *Service) ListReceipts() ([]*Receipt, error) {
	receipts, err := s.db.ListReceipts()
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	sort.SliceStable(receipts, func(i, j int) bool {
		return receipts[i].CreatedAt.After(receipts[j].CreatedAt)
	})
	return receipts, nil
}

// ListItems returns all saved line items
func (s *Service) ListItems() ([]*Item, error) {
	items, err := s.db.ListItems()
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	return items, nil
}

// DeleteReceipt removes a receipt, its items and its file
func (s *Service) DeleteReceipt(id string) error {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return fmt.Errorf("getting receipt for deletion: %w", err)
	}

	if err := s.storage.Delete(receipt.Filename); err != nil {
		// Log error but continue with database deletion
		slog.Warn("Failed to delete file", "filename", receipt.Filename, "error", err)
	}

	if err := s.db.DeleteReceipt(id); err != nil {
		return fmt.Errorf("deleting receipt from database: %w", err)
	}
	return nil
}

// GetReceiptFile retrieves the original upload for a receipt
func (s *Service) GetReceiptFile(id string) ([]byte, string, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt: %w", err)
	}

	data, err := s.storage.Get(receipt.Filename)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("getting receipt file: %w: %w", ErrNotFound, err)
	}
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt file: %w", err)
	}

	return data, receipt.ContentType, nil
}
