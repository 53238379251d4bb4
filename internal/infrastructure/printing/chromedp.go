package printing

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"regexp"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const (
	defaultPrintTimeout = 30 * time.Second
	mmPerInch           = 25.4
	// Chrome clips a footer drawn into a smaller bottom margin
	minFooterMarginMM = 12
)

// ChromeConfig configures the headless Chrome printer
type ChromeConfig struct {
	// RemoteURL points at a running DevTools endpoint; empty launches a local browser
	RemoteURL string
	// NoSandbox is needed when Chrome runs as root inside a container
	NoSandbox bool
	Timeout   time.Duration
	Logger    *zap.Logger
}

// ChromePrinter prints invoice HTML to PDF through the DevTools protocol.
// One browser allocator is shared; each job gets its own tab.
type ChromePrinter struct {
	timeout time.Duration
	logger  *zap.Logger
	alloc   context.Context
	cancel  context.CancelFunc
}

// NewChromePrinter prepares the allocator. The browser starts on the first job.
func NewChromePrinter(cfg ChromeConfig) *ChromePrinter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultPrintTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	p := &ChromePrinter{timeout: cfg.Timeout, logger: cfg.Logger}

	if cfg.RemoteURL != "" {
		p.alloc, p.cancel = chromedp.NewRemoteAllocator(context.Background(), cfg.RemoteURL)
		return p
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("font-render-hinting", "none"),
	)
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	p.alloc, p.cancel = chromedp.NewExecAllocator(context.Background(), opts...)
	return p
}

// RenderPDF prints job in a fresh tab
func (p *ChromePrinter) RenderPDF(ctx context.Context, job PDFJob) (*PDFDocument, error) {
	if strings.TrimSpace(job.HTML) == "" {
		return nil, ErrEmptyDocument
	}
	if !job.Paper.IsValid() {
		return nil, failure(ErrUnknownPaper, fmt.Sprintf("paper size %q is not supported", job.Paper), nil)
	}
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = p.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tab, closeTab := chromedp.NewContext(p.alloc, chromedp.WithLogf(p.logger.Sugar().Debugf))
	defer closeTab()
	// the tab must also stop when the caller's deadline passes
	stop := context.AfterFunc(ctx, closeTab)
	defer stop()

	document, err := wrapDocument(job)
	if err != nil {
		return nil, err
	}
	params := printParams(job)

	started := time.Now()
	var data []byte
	err = chromedp.Run(tab,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(tree.Frame.ID, document).Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			data, _, err = params.Do(ctx)
			return err
		}),
	)
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return nil, failure(ErrRenderTimeout, fmt.Sprintf("invoice %q not printed within %s", job.Title, timeout), ctx.Err())
	case err != nil:
		p.logger.Error("Chrome print failed", zap.String("title", job.Title), zap.Error(err))
		return nil, failure(ErrRenderFailed, "chrome print failed", err)
	case len(data) == 0:
		return nil, failure(ErrRenderFailed, "chrome returned an empty pdf", nil)
	}

	doc := &PDFDocument{Data: data, Pages: countPages(data), Took: time.Since(started)}
	p.logger.Debug("Invoice printed",
		zap.String("title", job.Title),
		zap.Int("bytes", len(data)),
		zap.Int("pages", doc.Pages),
		zap.Duration("took", doc.Took))
	return doc, nil
}

// Close shuts the browser down
func (p *ChromePrinter) Close() error {
	p.cancel()
	return nil
}

// printParams maps the job's page setup to Chrome's inch-based print options
func printParams(job PDFJob) *page.PrintToPDFParams {
	width, height := job.Paper.Dimensions()
	bottom := job.Margins.Bottom
	params := page.PrintToPDF().
		WithPrintBackground(true).
		WithPaperWidth(inches(width)).
		WithPaperHeight(inches(height)).
		WithLandscape(job.Orientation == OrientationLandscape).
		WithMarginTop(inches(job.Margins.Top)).
		WithMarginRight(inches(job.Margins.Right)).
		WithMarginLeft(inches(job.Margins.Left))

	if job.Footer != "" {
		bottom = max(bottom, minFooterMarginMM)
		params = params.
			WithDisplayHeaderFooter(true).
			WithHeaderTemplate("<span></span>").
			WithFooterTemplate(job.Footer)
	}
	return params.WithMarginBottom(inches(bottom))
}

func inches(mm int) float64 {
	return float64(mm) / mmPerInch
}

var documentShell = template.Must(template.New("shell").Parse(
	`<!DOCTYPE html><html><head><meta charset="UTF-8"><title>{{.Title}}</title></head><body>{{.Body}}</body></html>`))

// wrapDocument returns job.HTML as a full document. Fragments are wrapped so
// Chrome applies UTF-8 and the PDF carries the title.
func wrapDocument(job PDFJob) (string, error) {
	head := strings.ToLower(strings.TrimSpace(job.HTML))
	if strings.HasPrefix(head, "<!doctype") || strings.HasPrefix(head, "<html") {
		return job.HTML, nil
	}
	var b strings.Builder
	err := documentShell.Execute(&b, struct {
		Title string
		Body  template.HTML
	}{job.Title, template.HTML(job.HTML)})
	if err != nil {
		return "", failure(ErrRenderFailed, "wrap invoice document", err)
	}
	return b.String(), nil
}

var pageObject = regexp.MustCompile(`/Type\s*/Page\b`)

// countPages counts page objects; a PDF always has at least one
func countPages(pdf []byte) int {
	return max(len(pageObject.FindAllIndex(pdf, -1)), 1)
}

var _ PDFRenderer = (*ChromePrinter)(nil)
