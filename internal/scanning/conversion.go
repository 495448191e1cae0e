package scanning

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// transcribePrompt is the shared prompt used by all LLM engines for reading receipts
const transcribePrompt = `You are an OCR engine reading a photo of a purchase receipt. Transcribe every line of printed text exactly as it appears, top to bottom.

Rules:
- Output one receipt line per text line, keeping the item description and its price on the same line
- Keep prices exactly as printed, including currency symbols and separators (for example "$2.50", "3,50", "1.234,56")
- Keep leader dots and spacing between descriptions and prices
- Do not translate, summarize, reorder, correct or total anything
- Do not add any commentary before or after the text
- Do not use markdown code blocks`

// contrastFactor matches the enhancement the receipts were historically tuned for
const contrastFactor = 2.0

// pdfToImage renders the first page of a PDF
func pdfToImage(pdfData []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	// Render the first page (most receipts are single page)
	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

// decodeImage decodes PDFs, HEIC/HEIF and the standard image formats.
// Every failure wraps ErrUnsupportedImage.
func decodeImage(imageData []byte, mimeType string) (image.Image, error) {
	if len(imageData) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrUnsupportedImage)
	}

	if mimeType == "application/pdf" {
		img, err := pdfToImage(imageData)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnsupportedImage, err)
		}
		return img, nil
	}

	// Check for HEIC/HEIF format (common on iPhones) - Go's standard image package doesn't support it
	if isHEICFormat(imageData) || isHEICMimeType(mimeType) {
		img, err := heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("%w: decoding HEIC/HEIF image: %w", ErrUnsupportedImage, err)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("%w: decoding image (supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF): %w", ErrUnsupportedImage, err)
	}
	return img, nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// isHEICFormat checks if the image data is in HEIC/HEIF format
// HEIC files typically start with specific magic bytes
func isHEICFormat(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	// Check for ftyp box at offset 4 with a HEIC-related brand
	if string(data[4:8]) == "ftyp" {
		brand := string(data[8:12])
		if brand == "heic" || brand == "heif" || brand == "mif1" || brand == "msf1" {
			return true
		}
	}
	return false
}

// isHEICMimeType checks if the MIME type indicates HEIC/HEIF format
func isHEICMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

func normalizeMimeType(contentType string) string {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(mimeType, ";"); i != -1 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "" {
		mimeType = "image/jpeg" // default
	}
	return mimeType
}

// prepareImageData converts PDFs and non-PNG images to PNG.
// PNG uploads are passed through once their header checks out.
func prepareImageData(imageData []byte, contentType string) ([]byte, error) {
	mimeType := normalizeMimeType(contentType)

	if mimeType == "image/png" && !isHEICFormat(imageData) {
		if _, err := png.DecodeConfig(bytes.NewReader(imageData)); err != nil {
			return nil, fmt.Errorf("%w: decoding PNG header: %w", ErrUnsupportedImage, err)
		}
		return imageData, nil
	}

	img, err := decodeImage(imageData, mimeType)
	if err != nil {
		return nil, err
	}
	return encodePNG(img)
}

// enhanceForOCR converts img to grayscale and stretches its contrast
// around the mean luminance
func enhanceForOCR(img image.Image, factor float64) *image.Gray {
	bounds := img.Bounds()
	gray := image.NewGray(bounds)

	var sum float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			g := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			gray.SetGray(x, y, g)
			sum += float64(g.Y)
		}
	}

	pixels := bounds.Dx() * bounds.Dy()
	if pixels == 0 {
		return gray
	}
	mean := sum / float64(pixels)

	for i, v := range gray.Pix {
		gray.Pix[i] = clampByte(mean + factor*(float64(v)-mean))
	}
	return gray
}

func clampByte(v float64) uint8 {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}
