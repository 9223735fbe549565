package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"code.sajari.com/docconv"
	"github.com/ledongthuc/pdf"
)

const mimePDF = "application/pdf"

var pdfMagic = []byte("%PDF-")

// Extractor turns raw PDF bytes into plain text.
// Failures are reported as *ExtractionError.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

// New returns the extractor registered under name ("native" or "pdftotext"),
// bounded by timeout when it is positive.
func New(name string, timeout time.Duration) Extractor {
	var ext Extractor
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "pdftotext", "docconv":
		ext = NewPDFToText()
	default:
		ext = NativePDF{}
	}
	if timeout > 0 {
		return WithTimeout(ext, timeout)
	}
	return ext
}

// NativePDF extracts text in-process with github.com/ledongthuc/pdf.
type NativePDF struct{}

// Extract implements Extractor.
func (NativePDF) Extract(ctx context.Context, data []byte) (text string, err error) {
	if err := ctx.Err(); err != nil {
		return "", Transient("cancelled", err)
	}
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\r\n\t "), pdfMagic) {
		return "", Permanent("not a pdf", nil)
	}
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = Permanent("extractor panic", fmt.Errorf("%v", r))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", Permanent("malformed pdf", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", Permanent("unreadable text layer", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", Permanent("unreadable text layer", err)
	}
	return buf.String(), nil
}

type convertFunc func(r io.Reader, mimeType string, readability bool) (*docconv.Response, error)

// PDFToText extracts text through docconv, which shells out to poppler's pdftotext.
type PDFToText struct {
	convert convertFunc
}

// NewPDFToText returns a docconv-backed extractor.
func NewPDFToText() *PDFToText {
	return &PDFToText{convert: docconv.Convert}
}

// Extract implements Extractor.
func (p *PDFToText) Extract(ctx context.Context, data []byte) (text string, err error) {
	if err := ctx.Err(); err != nil {
		return "", Transient("cancelled", err)
	}
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\r\n\t "), pdfMagic) {
		return "", Permanent("not a pdf", nil)
	}
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = Permanent("extractor panic", fmt.Errorf("%v", r))
		}
	}()

	res, err := p.convert(bytes.NewReader(data), mimePDF, false)
	if err != nil {
		return "", Permanent("pdftotext failed", err)
	}
	if res == nil {
		return "", Permanent("pdftotext returned no response", nil)
	}
	return res.Body, nil
}

type timeoutExtractor struct {
	next    Extractor
	timeout time.Duration
}

// WithTimeout bounds every call to next. A call that outlives the timeout
// returns a transient ExtractionError; the worker is released immediately
// while the abandoned call finishes in the background.
func WithTimeout(next Extractor, timeout time.Duration) Extractor {
	return &timeoutExtractor{next: next, timeout: timeout}
}

type result struct {
	text string
	err  error
}

func (t *timeoutExtractor) Extract(ctx context.Context, data []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		text, err := t.next.Extract(ctx, data)
		done <- result{text: text, err: err}
	}()

	select {
	case res := <-done:
		return res.text, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", Transient(fmt.Sprintf("timed out after %s", t.timeout), ctx.Err())
		}
		return "", Transient("cancelled", ctx.Err())
	}
}
