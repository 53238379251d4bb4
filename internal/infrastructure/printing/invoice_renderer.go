package printing

import (
	"context"
	"fmt"
	"html/template"
	"time"

	"github.com/erp/invoicing/internal/domain/sales"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// InvoiceRendererConfig configures invoice layout and output
type InvoiceRendererConfig struct {
	// Company is printed as the document heading
	Company        string
	CurrencySymbol string
	DateLayout     string
	// Template overrides DefaultInvoiceTemplate
	Template    string
	PaperSize   PaperSize
	Orientation Orientation
	Margins     *Margins
	// Timeout bounds one PDF conversion
	Timeout time.Duration
}

// InvoiceView is the data bound to the invoice template
type InvoiceView struct {
	Company     string
	Invoice     sales.SaleSnapshot
	BalanceDue  decimal.Decimal
	GeneratedAt time.Time
}

const pageFooter = `<div style="font-size:8px;width:100%;text-align:center;"><span class="pageNumber"></span> / <span class="totalPages"></span></div>`

// InvoiceRenderer renders sale snapshots as HTML, or as PDF when a PDFRenderer is set
type InvoiceRenderer struct {
	config InvoiceRendererConfig
	engine *TemplateEngine
	tmpl   *template.Template
	pdf    PDFRenderer
	logger *zap.Logger
	now    func() time.Time
}

// NewInvoiceRenderer parses the invoice template once. pdf may be nil.
func NewInvoiceRenderer(config InvoiceRendererConfig, pdf PDFRenderer, logger *zap.Logger) (*InvoiceRenderer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.PaperSize == "" {
		config.PaperSize = PaperSizeA4
	}
	if !config.PaperSize.IsValid() {
		return nil, failure(ErrUnknownPaper, fmt.Sprintf("paper size %q is not supported", config.PaperSize), nil)
	}
	if config.Orientation == "" {
		config.Orientation = OrientationPortrait
	}
	if config.Template == "" {
		config.Template = DefaultInvoiceTemplate
	}

	engine := NewTemplateEngine(WithCurrencySymbol(config.CurrencySymbol), WithDateLayout(config.DateLayout))
	tmpl, err := engine.Parse("invoice", config.Template)
	if err != nil {
		return nil, err
	}
	return &InvoiceRenderer{
		config: config,
		engine: engine,
		tmpl:   tmpl,
		pdf:    pdf,
		logger: logger,
		now:    time.Now,
	}, nil
}

// RenderHTML binds the snapshot to the invoice template
func (r *InvoiceRenderer) RenderHTML(ctx context.Context, snapshot sales.SaleSnapshot) (string, error) {
	balance := snapshot.GrandTotal.Sub(snapshot.PaidAmount)
	if balance.IsNegative() {
		balance = decimal.Zero
	}
	return r.engine.Execute(ctx, r.tmpl, InvoiceView{
		Company:     r.config.Company,
		Invoice:     snapshot,
		BalanceDue:  balance,
		GeneratedAt: r.now(),
	})
}

// Render returns the invoice document and its content type
func (r *InvoiceRenderer) Render(ctx context.Context, snapshot sales.SaleSnapshot) ([]byte, string, error) {
	html, err := r.RenderHTML(ctx, snapshot)
	if err != nil {
		return nil, "", fmt.Errorf("render invoice %s: %w", snapshot.InvoiceNumber, err)
	}
	if r.pdf == nil {
		return []byte(html), "text/html; charset=utf-8", nil
	}

	margins := DefaultMargins()
	if r.config.Margins != nil {
		margins = *r.config.Margins
	}
	doc, err := r.pdf.RenderPDF(ctx, PDFJob{
		HTML:        html,
		Title:       "Invoice " + snapshot.InvoiceNumber,
		Footer:      pageFooter,
		Paper:       r.config.PaperSize,
		Orientation: r.config.Orientation,
		Margins:     margins,
		Timeout:     r.config.Timeout,
	})
	if err != nil {
		return nil, "", fmt.Errorf("render invoice %s to pdf: %w", snapshot.InvoiceNumber, err)
	}
	r.logger.Debug("Invoice PDF rendered",
		zap.String("invoice_number", snapshot.InvoiceNumber),
		zap.Int("pages", doc.Pages),
		zap.Duration("took", doc.Took))
	return doc.Data, "application/pdf", nil
}

// Extension returns the file extension of rendered documents
func (r *InvoiceRenderer) Extension() string {
	if r.pdf == nil {
		return "html"
	}
	return "pdf"
}

// Close releases the PDF renderer
func (r *InvoiceRenderer) Close() error {
	if r.pdf == nil {
		return nil
	}
	return r.pdf.Close()
}
