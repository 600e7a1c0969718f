// Package upstream talks to the order-management service orders are pulled
// from and reported back to.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/erpsync/internal/config"
	"github.com/Additional-Code/erpsync/internal/dto"
)

const (
	ordersPath     = "/api/openapi/erp/orders"
	syncStatusPath = "/api/openapi/erp/order/sync-status"

	statusOK      = 1
	handleSynced  = 1
	notifyBackoff = 200 * time.Millisecond
	maxErrorBody  = 512
)

// ErrNotConfigured is returned when no upstream base URL is set.
var ErrNotConfigured = errors.New("upstream: base URL not configured")

// Module provides the upstream client to Fx.
var Module = fx.Provide(NewClient)

// Client is the upstream HTTP client.
type Client struct {
	baseURL        string
	token          string
	http           *http.Client
	notifyAttempts uint64
	notifyBackoff  time.Duration
	logger         *zap.Logger
}

// NewClient builds a client from configuration. Requests are traced through
// otelhttp.
func NewClient(cfg config.Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := cfg.Upstream.NotifyAttempts
	if attempts <= 0 {
		attempts = 1
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.Upstream.BaseURL, "/"),
		token:   cfg.Upstream.Token,
		http: &http.Client{
			Timeout:   cfg.Upstream.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		notifyAttempts: uint64(attempts),
		notifyBackoff:  notifyBackoff,
		logger:         logger.Named("upstream"),
	}
}

// FetchOrders pulls the pending orders changed since the given marker. A
// response whose status is not success yields no orders and a *RejectedError,
// so callers can tell it apart from an empty pull.
func (c *Client) FetchOrders(ctx context.Context, since string) ([]dto.Order, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}

	params := url.Values{}
	params.Set("last_sync_time", since)
	req, err := c.newRequest(ctx, http.MethodGet, ordersPath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var envelope dto.OrdersEnvelope
	if err := c.do(req, &envelope); err != nil {
		return nil, fmt.Errorf("fetch orders: %w", err)
	}
	if envelope.Status != statusOK {
		return nil, &RejectedError{Status: envelope.Status, Message: envelope.Message}
	}
	return envelope.Data, nil
}

// NotifySynced reports a committed order back to upstream, retrying with
// exponential backoff on transport errors and 5xx responses.
func (c *Client) NotifySynced(ctx context.Context, order *dto.Order) error {
	if c.baseURL == "" {
		return ErrNotConfigured
	}

	body, err := json.Marshal(dto.SyncStatusRequest{
		ID:            order.ID,
		ErpCustomerID: order.ErpCustomerID,
		HandleStatus:  handleSynced,
	})
	if err != nil {
		return fmt.Errorf("encode sync status: %w", err)
	}

	backoff := retry.WithMaxRetries(c.notifyAttempts-1, retry.NewExponential(c.notifyBackoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := c.newRequest(ctx, http.MethodPost, syncStatusPath, body)
		if err != nil {
			return err
		}
		var envelope dto.StatusEnvelope
		err = c.do(req, &envelope)
		var statusErr *StatusError
		switch {
		case err == nil:
			if envelope.Status != statusOK {
				return fmt.Errorf("notify %s: upstream status %d: %s", order.SubOrderSN, envelope.Status, envelope.Message)
			}
			return nil
		case errors.As(err, &statusErr) && statusErr.Code < http.StatusInternalServerError:
			return err
		default:
			c.logger.Debug("notify attempt failed", zap.String("order_no", order.SubOrderSN), zap.Error(err))
			return retry.RetryableError(err)
		}
	})
}

// RejectedError is returned when upstream answers a pull with a non-success
// envelope status over a 2xx response.
type RejectedError struct {
	Status  int
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("upstream rejected the pull: status %d: %s", e.Status, e.Message)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream responded %d: %s", e.Code, e.Body)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
