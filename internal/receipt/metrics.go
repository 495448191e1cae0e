package receipt

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/smartspend/smartspend/internal/extract"
)

// Receipt outcomes recorded by Metrics
const (
	outcomeProcessed     = "processed"
	outcomeNoItems       = "no_items"
	outcomeInvalidUpload = "invalid_upload"
	outcomeOCRFailed     = "ocr_failed"
	outcomeSaveFailed    = "save_failed"
)

// ocrBuckets covers fast local tesseract runs up to slow vision models, in seconds
var ocrBuckets = []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120}

// Metrics holds the Prometheus collectors for receipt processing.
// A nil *Metrics records nothing.
type Metrics struct {
	receipts     *prometheus.CounterVec
	items        prometheus.Counter
	skippedLines prometheus.Counter
	ocrDuration  *prometheus.HistogramVec
}

// NewMetrics registers the receipt collectors on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		receipts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartspend",
			Name:      "receipts_total",
			Help:      "Receipt uploads by processing outcome.",
		}, []string{"outcome"}),
		items: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "smartspend",
			Name:      "line_items_extracted_total",
			Help:      "Line items extracted from OCR text.",
		}),
		skippedLines: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "smartspend",
			Name:      "lines_skipped_total",
			Help:      "Non-blank OCR lines that produced no line item.",
		}),
		ocrDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "smartspend",
			Name:      "ocr_duration_seconds",
			Help:      "Time spent in the OCR engine.",
			Buckets:   ocrBuckets,
		}, []string{"result"}),
	}
}

func (m *Metrics) observeReceipt(outcome string) {
	if m == nil {
		return
	}
	m.receipts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeExtraction(result extract.Result) {
	if m == nil {
		return
	}
	m.items.Add(float64(len(result.Items)))
	m.skippedLines.Add(float64(result.Skipped))
}

func (m *Metrics) observeOCR(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ocrDuration.WithLabelValues(result).Observe(elapsed.Seconds())
}
