// Package report renders printable documents through a Gotenberg instance.
package report

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// Client wraps interactions with the Gotenberg API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a new client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Ping checks if the remote Gotenberg service is available.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: gotenberg: %v", httpx.ErrUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: gotenberg returned status %d", httpx.ErrUnavailable, resp.StatusCode)
	}
	return nil
}

// Page describes paper size and margins in inches.
type Page struct {
	Width, Height float64
	Margin        float64
}

// A4 is the default page for printed documents.
var A4 = Page{Width: 8.27, Height: 11.7, Margin: 0.4}

func (p Page) fields() map[string]string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }
	return map[string]string{
		"paperWidth":      f(p.Width),
		"paperHeight":     f(p.Height),
		"marginTop":       f(p.Margin),
		"marginBottom":    f(p.Margin),
		"marginLeft":      f(p.Margin),
		"marginRight":     f(p.Margin),
		"printBackground": "true",
	}
}

// RenderHTML converts raw HTML into an A4 PDF document.
func (c *Client) RenderHTML(ctx context.Context, html string) ([]byte, error) {
	return c.RenderPage(ctx, html, A4)
}

// RenderPage converts raw HTML into a PDF document laid out on page.
func (c *Client) RenderPage(ctx context.Context, html string, page Page) ([]byte, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("files", "index.html")
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(part, html); err != nil {
		return nil, err
	}
	for name, value := range page.fields() {
		if err := writer.WriteField(name, value); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/forms/chromium/convert/html", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: gotenberg: %v", httpx.ErrUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: render failed with status %d", httpx.ErrUnavailable, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
