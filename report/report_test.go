package report

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/odyssey-erp/odyssey-ledger/internal/catalog"
	"github.com/odyssey-erp/odyssey-ledger/internal/documents"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

func sampleBill() documents.Document {
	return documents.Document{
		Kind:         documents.KindBill,
		Number:       "INV-2024-007",
		Counterparty: catalog.Counterparty{Name: "Acme <Retail>"},
		Status:       documents.StatusPending,
		DocumentDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Subtotal:     decimal.RequireFromString("1234.5"),
		TaxAmount:    decimal.RequireFromString("135.80"),
		Total:        decimal.RequireFromString("1370.30"),
		Lines: []documents.LineItem{{
			LineNo:   1,
			ItemCode: "ITM001",
			Item:     documents.ItemRef{Code: "ITM001", Name: "Widget", Unit: "pcs"},
			Quantity: 1000,
			Rate:     decimal.RequireFromString("1.2345"),
			Amount:   decimal.RequireFromString("1234.50"),
		}},
	}
}

func TestRenderHTML(t *testing.T) {
	p := NewPrinter(NewClient("http://unused", 0), language.English)
	html, err := p.RenderHTML(sampleBill())
	require.NoError(t, err)
	require.Contains(t, html, "INVOICE INV-2024-007")
	require.Contains(t, html, "Acme &lt;Retail&gt;")
	require.Contains(t, html, "1,234.50")
	require.Contains(t, html, "1,000 pcs")
	require.Contains(t, html, "1.23")
}

func TestPrintDocumentPostsToGotenberg(t *testing.T) {
	var received string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/forms/chromium/convert/html", r.URL.Path)
		file, _, err := r.FormFile("files")
		require.NoError(t, err)
		body, _ := io.ReadAll(file)
		received = string(body)
		require.Equal(t, "8.27", r.FormValue("paperWidth"))
		require.Equal(t, "0.40", r.FormValue("marginTop"))
		_, _ = w.Write([]byte("%PDF-1.7"))
	}))
	defer srv.Close()

	p := NewPrinter(NewClient(srv.URL+"/", time.Second), language.English)
	out, err := p.PrintDocument(context.Background(), sampleBill())
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.7", string(out))
	require.Contains(t, received, "INV-2024-007")
}

func TestGotenbergFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.RenderHTML(context.Background(), "<html></html>")
	require.ErrorIs(t, err, httpx.ErrUnavailable)
	require.ErrorIs(t, c.Ping(context.Background()), httpx.ErrUnavailable)
}
