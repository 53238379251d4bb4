package printing

// DefaultInvoiceTemplate is the built-in invoice layout
const DefaultInvoiceTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<title>Invoice {{.Invoice.InvoiceNumber}}</title>
<style>
  body { font-family: "Helvetica Neue", Arial, sans-serif; font-size: 12px; color: #222; }
  h1 { font-size: 20px; margin: 0 0 4px 0; }
  .meta td { padding: 2px 12px 2px 0; }
  table.lines { width: 100%; border-collapse: collapse; margin-top: 16px; }
  table.lines th, table.lines td { border-bottom: 1px solid #ddd; padding: 6px 4px; text-align: left; }
  table.lines td.num, table.lines th.num { text-align: right; }
  .totals { margin-top: 12px; margin-left: auto; }
  .totals td { padding: 2px 0 2px 24px; text-align: right; }
  .grand td { font-weight: bold; border-top: 1px solid #222; }
  .draft { color: #b00; font-weight: bold; }
</style>
</head>
<body>
<h1>{{default .Company "Invoice"}}</h1>
{{if not .Invoice.Finalized}}<div class="draft">DRAFT</div>{{end}}
<table class="meta">
  <tr><td>Invoice no.</td><td>{{default .Invoice.InvoiceNumber "-"}}</td></tr>
  <tr><td>Date</td><td>{{formatDate .Invoice.InvoiceDate}}</td></tr>
  {{if .Invoice.CustomerID}}<tr><td>Customer</td><td>{{.Invoice.CustomerID}}</td></tr>{{end}}
  <tr><td>Revision</td><td>{{.Invoice.Version}}</td></tr>
  <tr><td>Status</td><td>{{statusText .Invoice.PaymentStatus}}</td></tr>
</table>

<table class="lines">
  <thead>
    <tr><th>#</th><th>Item</th><th class="num">Qty</th><th>Unit</th><th class="num">Price</th><th class="num">Tax</th><th class="num">Amount</th></tr>
  </thead>
  <tbody>
  {{range $i, $it := .Invoice.Items}}
    <tr>
      <td>{{add $i 1}}</td>
      <td>{{truncate $it.ProductName 60}}</td>
      <td class="num">{{formatDecimal $it.Quantity 2}}</td>
      <td>{{lower (printf "%s" $it.UnitType)}}</td>
      <td class="num">{{formatMoney $it.UnitPrice}}</td>
      <td class="num">{{formatMoney $it.TaxAmount}}</td>
      <td class="num">{{formatMoney $it.LineTotal}}</td>
    </tr>
  {{end}}
  </tbody>
</table>

<table class="totals">
  <tr><td>Subtotal</td><td>{{formatMoney .Invoice.Subtotal}}</td></tr>
  <tr><td>Tax</td><td>{{formatMoney .Invoice.TaxTotal}}</td></tr>
  {{if gt .Invoice.Discount 0}}<tr><td>Discount</td><td>-{{formatMoney .Invoice.Discount}}</td></tr>{{end}}
  <tr class="grand"><td>Total</td><td>{{formatMoney .Invoice.GrandTotal}}</td></tr>
  <tr><td>Paid</td><td>{{formatMoney .Invoice.PaidAmount}}</td></tr>
  <tr><td>Balance due</td><td>{{formatMoney .BalanceDue}}</td></tr>
</table>

{{if .Invoice.Payments}}
<table class="lines">
  <thead><tr><th>Payment</th><th>Mode</th><th>Status</th><th>Reference</th><th class="num">Amount</th></tr></thead>
  <tbody>
  {{range .Invoice.Payments}}
    <tr>
      <td>{{formatDate .PaidAt}}</td>
      <td>{{statusText .Mode}}</td>
      <td>{{statusText .Status}}</td>
      <td>{{.Reference}}</td>
      <td class="num">{{formatMoney .Amount}}</td>
    </tr>
  {{end}}
  </tbody>
</table>
{{end}}

{{if .Invoice.Notes}}<p>{{.Invoice.Notes}}</p>{{end}}
</body>
</html>
`
