// Package printing renders invoice snapshots into printable documents.
//
// InvoiceRenderer binds a sales.SaleSnapshot to an html/template invoice
// layout. When a PDFRenderer is attached, the HTML is converted to PDF
// through headless Chrome (ChromePrinter); otherwise the HTML itself is
// the document.
//
// Example usage:
//
//	pdf := NewChromePrinter(ChromeConfig{RemoteURL: "ws://chrome:9222"})
//	renderer, err := NewInvoiceRenderer(InvoiceRendererConfig{PaperSize: PaperSizeA4}, pdf, logger)
//	data, contentType, err := renderer.Render(ctx, sales.TakeSnapshot(sale))
package printing
