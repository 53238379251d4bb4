package printing

import (
	"context"
	"fmt"
	"time"
)

// PDFJob is one HTML invoice to convert
type PDFJob struct {
	HTML  string
	Title string
	// Footer is a Chrome footer template; class="pageNumber" and class="totalPages" are filled in
	Footer      string
	Paper       PaperSize
	Orientation Orientation
	Margins     Margins
	// Timeout overrides the renderer default when set
	Timeout time.Duration
}

// PDFDocument is the output of a PDFJob
type PDFDocument struct {
	Data  []byte
	Pages int
	Took  time.Duration
}

// PDFRenderer converts HTML invoices to PDF
type PDFRenderer interface {
	RenderPDF(ctx context.Context, job PDFJob) (*PDFDocument, error)
	Close() error
}

// RenderError is a failed template or PDF render. Errors compare by Code, so
// errors.Is(err, ErrRenderTimeout) matches any timeout whatever its detail.
type RenderError struct {
	Code    string
	Message string
	Cause   error
}

var (
	ErrEmptyDocument = &RenderError{Code: "EMPTY_DOCUMENT", Message: "document is empty"}
	ErrBadTemplate   = &RenderError{Code: "BAD_TEMPLATE", Message: "template does not parse"}
	ErrUnknownPaper  = &RenderError{Code: "UNKNOWN_PAPER", Message: "paper size is not supported"}
	ErrRenderTimeout = &RenderError{Code: "RENDER_TIMEOUT", Message: "rendering did not finish in time"}
	ErrRenderFailed  = &RenderError{Code: "RENDER_FAILED", Message: "rendering failed"}
)

func (e *RenderError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *RenderError) Unwrap() error {
	return e.Cause
}

func (e *RenderError) Is(target error) bool {
	t, ok := target.(*RenderError)
	return ok && t.Code == e.Code
}

// failure copies kind with a specific message and cause
func failure(kind *RenderError, message string, cause error) *RenderError {
	if message == "" {
		message = kind.Message
	}
	return &RenderError{Code: kind.Code, Message: message, Cause: cause}
}
