package extract

import (
	"log/slog"
	"sort"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// DefaultCurrencySymbols are the currency markers recognized in front of a price
var DefaultCurrencySymbols = []string{"$", "€"}

// LineItem is a single purchased product read from one receipt line
type LineItem struct {
	Description string          `json:"item"`
	Price       decimal.Decimal `json:"price"`
}

// Outcome tells what happened to a single line
type Outcome int

const (
	// Unmatched lines carry no price token (headers, addresses, noise)
	Unmatched Outcome = iota
	// Matched lines produced a LineItem
	Matched
	// Malformed lines had a price token that could not be converted
	Malformed
)

func (o Outcome) String() string {
	switch o {
	case Matched:
		return "matched"
	case Malformed:
		return "malformed"
	default:
		return "unmatched"
	}
}

// Result is the output of one extraction run
type Result struct {
	Items []LineItem `json:"items"`
	// Skipped counts non-blank lines that produced no item
	Skipped int `json:"skipped"`
}

// Option configures an Extractor
type Option func(*Extractor)

// WithCurrencySymbols replaces the currency marker table
func WithCurrencySymbols(symbols ...string) Option {
	return func(e *Extractor) {
		e.symbols = nil
		for _, s := range symbols {
			if s = strings.TrimSpace(s); s != "" {
				e.symbols = append(e.symbols, s)
			}
		}
	}
}

// WithLogger sets the logger used for dropped-line diagnostics
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) {
		e.logger = logger
	}
}

// Extractor turns raw OCR text into line items. It is immutable once built
// and safe for concurrent use.
type Extractor struct {
	symbols []string
	logger  *slog.Logger
	parse   func(token string) (decimal.Decimal, error)
}

// New creates an Extractor with the default currency symbols
func New(opts ...Option) *Extractor {
	e := &Extractor{symbols: DefaultCurrencySymbols, parse: parsePrice}
	for _, opt := range opts {
		opt(e)
	}
	// longest first so "US$" wins over "$"
	symbols := append([]string(nil), e.symbols...)
	sort.SliceStable(symbols, func(i, j int) bool { return len(symbols[i]) > len(symbols[j]) })
	e.symbols = symbols
	return e
}

var defaultExtractor = New()

// Extract reads line items from text using the default currency symbols
func Extract(text string) []LineItem {
	return defaultExtractor.Extract(text).Items
}

// Extract reads every line of text and returns the items in line order
func (e *Extractor) Extract(text string) Result {
	result := Result{Items: make([]LineItem, 0)}
	for _, line := range splitLines(text) {
		if strings.TrimSpace(line) == "" {
			continue
		}
		item, outcome := e.ParseLine(line)
		if outcome != Matched {
			result.Skipped++
			continue
		}
		result.Items = append(result.Items, item)
	}
	return result
}

// ParseLine reads a single line. Only Matched lines return a usable item.
func (e *Extractor) ParseLine(line string) (LineItem, Outcome) {
	start, end, ok := lastPriceToken(line)
	if !ok {
		e.log().Debug("No price on line", "line", line)
		return LineItem{}, Unmatched
	}

	description := e.description(line[:start])
	price, err := e.parse(line[start:end])
	if err != nil {
		e.log().Warn("Could not convert price",
			"price", line[start:end],
			"item", description,
			"error", err,
		)
		return LineItem{}, Malformed
	}

	return LineItem{Description: description, Price: price}, Matched
}

func (e *Extractor) log() *slog.Logger {
	if e.logger != nil {
		return e.logger
	}
	return slog.Default()
}

// description strips the filler between the item text and its price:
// whitespace, one currency marker, then leader dots
func (e *Extractor) description(prefix string) string {
	desc := strings.TrimRightFunc(prefix, unicode.IsSpace)
	for _, symbol := range e.symbols {
		if strings.HasSuffix(desc, symbol) {
			desc = strings.TrimSuffix(desc, symbol)
			break
		}
	}
	desc = strings.TrimRightFunc(desc, func(r rune) bool {
		return r == '.' || unicode.IsSpace(r)
	})
	return strings.TrimSpace(desc)
}

func splitLines(text string) []string {
	text = strings.NewReplacer("\r\n", "\n", "\r", "\n").Replace(text)
	return strings.Split(text, "\n")
}
