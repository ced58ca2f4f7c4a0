// Package loader extracts ordered page text from SDS PDF files.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// TextBlock is the text of one page, in document order.
type TextBlock struct {
	Page int
	Text string
}

// LoadError reports a file that could not be read as a PDF.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// PDFLoader validates a PDF's structure and extracts plain text per page.
// Pages with no extractable text are skipped.
type PDFLoader struct {
	validate bool
	logger   *slog.Logger
}

// Option configures a PDFLoader.
type Option func(*PDFLoader)

// WithoutValidation skips the structural preflight.
func WithoutValidation() Option {
	return func(l *PDFLoader) { l.validate = false }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *PDFLoader) { l.logger = logger }
}

func NewPDFLoader(opts ...Option) *PDFLoader {
	l := &PDFLoader{
		validate: true,
		logger:   slog.Default().With("component", "loader"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load returns the text blocks of the PDF at path. Every failure is a
// *LoadError.
func (l *PDFLoader) Load(ctx context.Context, path string) ([]TextBlock, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	if info.IsDir() {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("is a directory")}
	}

	if l.validate {
		conf := model.NewDefaultConfiguration()
		conf.ValidationMode = model.ValidationRelaxed
		if err := api.ValidateFile(path, conf); err != nil {
			return nil, &LoadError{Path: path, Err: fmt.Errorf("invalid pdf: %w", err)}
		}
	}

	blocks, err := extractText(ctx, path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	l.logger.Debug("pdf loaded", "path", path, "pages_with_text", len(blocks))
	return blocks, nil
}

func extractText(ctx context.Context, path string) (blocks []TextBlock, err error) {
	// The pdf reader panics on some malformed content streams.
	defer func() {
		if r := recover(); r != nil {
			blocks, err = nil, fmt.Errorf("reading pdf content: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		// Font names are page-scoped resources, so each page resolves its own.
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extracting page %d: %w", i, err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		blocks = append(blocks, TextBlock{Page: i, Text: text})
	}
	return blocks, nil
}
