package scanning

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// TesseractOptions configures the tesseract command line engine
type TesseractOptions struct {
	// Binary is the tesseract executable, looked up in PATH when not absolute
	Binary string
	// Language is the traineddata language passed with -l
	Language string
	// PageSegMode is passed with --psm; 6 treats the image as one block of text
	PageSegMode int
	// Contrast is the enhancement factor applied after grayscale conversion
	Contrast float64
}

// Tesseract implements the Scanner interface by running the tesseract CLI
type Tesseract struct {
	binary  string
	opts    TesseractOptions
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewTesseract creates a Tesseract scanner after checking the binary can be found
func NewTesseract(opts TesseractOptions) (*Tesseract, error) {
	if opts.Binary == "" {
		opts.Binary = "tesseract"
	}
	if opts.Language == "" {
		opts.Language = "eng"
	}
	if opts.PageSegMode == 0 {
		opts.PageSegMode = 6
	}
	if opts.Contrast == 0 {
		opts.Contrast = contrastFactor
	}

	binary, err := exec.LookPath(opts.Binary)
	if err != nil {
		return nil, fmt.Errorf("finding tesseract binary %q: %w", opts.Binary, err)
	}

	return &Tesseract{
		binary:  binary,
		opts:    opts,
		command: exec.CommandContext,
	}, nil
}

// ScanText runs OCR on a grayscale, contrast-enhanced copy of the image
func (t *Tesseract) ScanText(ctx context.Context, imageData []byte, contentType string) (string, error) {
	img, err := decodeImage(imageData, normalizeMimeType(contentType))
	if err != nil {
		return "", err
	}

	pngData, err := encodePNG(enhanceForOCR(img, t.opts.Contrast))
	if err != nil {
		return "", err
	}

	cmd := t.command(ctx, t.binary,
		"stdin", "stdout",
		"-l", t.opts.Language,
		"--psm", strconv.Itoa(t.opts.PageSegMode),
	)
	cmd.Stdin = bytes.NewReader(pngData)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("running tesseract: %w", ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("tesseract exited with %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return "", fmt.Errorf("running tesseract: %w", err)
	}

	return strings.TrimRight(stdout.String(), "\n\f "), nil
}

// Close is a no-op; every scan runs its own process
func (t *Tesseract) Close() error {
	return nil
}
