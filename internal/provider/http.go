package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/ariefcatur/go-prepaid-orders/internal/orders"
)

// HTTPClient talks to a JSON top-up endpoint behind a circuit breaker.
type HTTPClient struct {
	name    string
	baseURL string
	apiKey  string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker
}

type topupBody struct {
	RefID      string `json:"ref_id"`
	SKU        string `json:"sku"`
	CustomerNo string `json:"customer_no"`
	MaxPrice   int64  `json:"max_price,omitempty"`
}

type topupReply struct {
	Status  string `json:"status"`
	Price   int64  `json:"price"`
	SN      string `json:"sn"`
	Ref     string `json:"ref"`
	Message string `json:"message"`
}

func NewHTTPClient(name, baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "provider-" + name,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		}),
	}
}

func (c *HTTPClient) Name() string { return c.name }

func (c *HTTPClient) Topup(ctx context.Context, req TopupRequest) (TopupResult, error) {
	res, err := c.cb.Execute(func() (interface{}, error) {
		return c.do(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return TopupResult{}, orders.Wrap(orders.ErrProviderUnavailable, err)
		}
		return TopupResult{}, err
	}
	return res.(TopupResult), nil
}

func (c *HTTPClient) do(ctx context.Context, req TopupRequest) (TopupResult, error) {
	customer := req.CustomerInput
	if !req.AllowDot {
		customer = strings.ReplaceAll(customer, ".", "")
	}
	body, err := json.Marshal(topupBody{
		RefID:      req.OrderID,
		SKU:        req.ProviderCode,
		CustomerNo: customer,
		MaxPrice:   req.MaxPrice,
	})
	if err != nil {
		return TopupResult{}, fmt.Errorf("encode topup: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/topup", bytes.NewReader(body))
	if err != nil {
		return TopupResult{}, fmt.Errorf("build topup request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return TopupResult{}, orders.Wrap(orders.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return TopupResult{}, orders.Wrap(orders.ErrProviderUnavailable, err)
	}
	if resp.StatusCode >= 300 {
		return TopupResult{}, orders.Wrap(orders.ErrProviderUnavailable, fmt.Errorf("%s: http %d", c.name, resp.StatusCode))
	}

	var reply topupReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return TopupResult{}, orders.Wrap(orders.ErrProviderUnavailable, fmt.Errorf("decode reply: %w", err))
	}

	return TopupResult{
		Status:        mapStatus(reply.Status),
		ProviderPrice: reply.Price,
		SerialNumber:  reply.SN,
		Reference:     reply.Ref,
		Message:       reply.Message,
		Raw:           json.RawMessage(raw),
	}, nil
}

// mapStatus treats anything unrecognised as PENDING so an odd reply never
// finalizes an order.
func mapStatus(s string) Status {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SUCCESS", "SUKSES", "COMPLETED":
		return StatusCompleted
	case "FAILED", "GAGAL":
		return StatusFailed
	default:
		return StatusPending
	}
}
