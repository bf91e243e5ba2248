package receipt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"klarogeo/internal/receipt/models"
)

// maxResponseBytes bounds how much of the endpoint's response is read.
const maxResponseBytes = 1 << 20

// Client submits receipts to the remote endpoint as a form POST with fields
// action, nonce and receipt_data.
type Client struct {
	endpoint string
	action   string
	nonce    string
	http     *http.Client
	tracer   trace.Tracer
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithNonce sets the nonce sent with every submission.
func WithNonce(nonce string) ClientOption {
	return func(c *Client) {
		c.nonce = nonce
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) {
		c.http = h
	}
}

// WithTracer injects a tracer; the global provider is used otherwise.
func WithTracer(t trace.Tracer) ClientOption {
	return func(c *Client) {
		c.tracer = t
	}
}

// NewClient creates a client posting to endpoint under action.
func NewClient(endpoint, action string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint: endpoint,
		action:   action,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer("klarogeo/receipt")
	}
	return c
}

// Send delivers r. Transport failures, non-2xx responses and malformed JSON
// all come back as an unsuccessful Result; Send never panics or returns an
// error.
func (c *Client) Send(ctx context.Context, r models.Receipt) models.Result {
	ctx, span := c.tracer.Start(ctx, "receipt.send", trace.WithAttributes(
		attribute.String("receipt.id", r.ReceiptID),
		attribute.String("receipt.endpoint", c.endpoint),
	))
	defer span.End()

	res, err := c.send(ctx, r)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return models.Failure(err)
	}
	span.SetAttributes(attribute.Bool("receipt.success", res.Success))
	return res
}

func (c *Client) send(ctx context.Context, r models.Receipt) (models.Result, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return models.Result{}, fmt.Errorf("encode receipt: %w", err)
	}
	form := url.Values{}
	form.Set("action", c.action)
	if c.nonce != "" {
		form.Set("nonce", c.nonce)
	}
	form.Set("receipt_data", string(data))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return models.Result{}, fmt.Errorf("build receipt request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return models.Result{}, fmt.Errorf("post receipt: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return models.Result{}, fmt.Errorf("read receipt response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.Result{}, fmt.Errorf("receipt endpoint returned %d", resp.StatusCode)
	}

	var res models.Result
	if err := json.Unmarshal(body, &res); err != nil {
		return models.Result{}, fmt.Errorf("decode receipt response: %w", err)
	}
	return res, nil
}
