package report

import (
	"bytes"
	"context"
	"html/template"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/odyssey-erp/odyssey-ledger/internal/documents"
)

var documentTemplate = template.Must(template.New("document").Funcs(template.FuncMap{
	"upper": strings.ToUpper,
}).Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>{{.Doc.Number}}</title>
<style>
body{font-family:sans-serif;font-size:12px;margin:32px}
table{width:100%;border-collapse:collapse}
th,td{padding:4px 6px;border-bottom:1px solid #ddd;text-align:left}
td.num,th.num{text-align:right}
</style></head>
<body>
<h1>{{upper .Title}} {{.Doc.Number}}</h1>
<p>{{.PartyLabel}}: <strong>{{.Doc.Counterparty.Name}}</strong><br>
{{with .Doc.Counterparty.Address}}{{.}}<br>{{end}}
Date: {{.Doc.DocumentDate.Format "2006-01-02"}}{{with .Doc.DueDate}} &middot; Due: {{.Format "2006-01-02"}}{{end}}<br>
Status: {{.Doc.Status}}</p>
<table>
<thead><tr><th>#</th><th>Item</th><th class="num">Qty</th><th class="num">Rate</th><th class="num">Amount</th></tr></thead>
<tbody>
{{range .Lines}}<tr><td>{{.No}}</td><td>{{.Code}} {{.Name}}</td><td class="num">{{.Qty}} {{.Unit}}</td><td class="num">{{.Rate}}</td><td class="num">{{.Amount}}</td></tr>
{{end}}</tbody>
<tfoot>
<tr><td colspan="4" class="num">Subtotal</td><td class="num">{{.Subtotal}}</td></tr>
<tr><td colspan="4" class="num">Tax</td><td class="num">{{.Tax}}</td></tr>
<tr><td colspan="4" class="num"><strong>Total</strong></td><td class="num"><strong>{{.Total}}</strong></td></tr>
</tfoot>
</table>
{{with .Doc.Notes}}<p>{{.}}</p>{{end}}
</body></html>`))

type printLine struct {
	No     int
	Code   string
	Name   string
	Unit   string
	Qty    string
	Rate   string
	Amount string
}

type printView struct {
	Title      string
	PartyLabel string
	Doc        documents.Document
	Lines      []printLine
	Subtotal   string
	Tax        string
	Total      string
}

// Printer renders bills and purchases to PDF.
type Printer struct {
	client  *Client
	printer *message.Printer
}

// NewPrinter builds a Printer formatting amounts for tag.
func NewPrinter(client *Client, tag language.Tag) *Printer {
	return &Printer{client: client, printer: message.NewPrinter(tag)}
}

// RenderHTML produces the printable HTML of doc.
func (p *Printer) RenderHTML(doc documents.Document) (string, error) {
	view := printView{
		Title:      "Invoice",
		PartyLabel: "Bill to",
		Doc:        doc,
		Subtotal:   p.money(doc.Subtotal),
		Tax:        p.money(doc.TaxAmount),
		Total:      p.money(doc.Total),
	}
	if doc.Kind == documents.KindPurchase {
		view.Title = "Purchase"
		view.PartyLabel = "Vendor"
	}
	for _, l := range doc.Lines {
		view.Lines = append(view.Lines, printLine{
			No:     l.LineNo,
			Code:   l.ItemCode,
			Name:   l.Item.Name,
			Unit:   l.Item.Unit,
			Qty:    p.printer.Sprintf("%d", l.Quantity),
			Rate:   p.money(l.Rate),
			Amount: p.money(l.Amount),
		})
	}
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, view); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// PrintDocument renders doc through Gotenberg.
func (p *Printer) PrintDocument(ctx context.Context, doc documents.Document) ([]byte, error) {
	html, err := p.RenderHTML(doc)
	if err != nil {
		return nil, err
	}
	return p.client.RenderHTML(ctx, html)
}

func (p *Printer) money(d decimal.Decimal) string {
	return p.printer.Sprintf("%.2f", d.Round(2).InexactFloat64())
}
