package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"propmarket_backend/internal/logger"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
)

type Config struct {
	BaseURL          string
	KeyID            string
	KeySecret        string
	Timeout          time.Duration
	MaxFailures      uint32
	OpenTimeout      time.Duration
	HalfOpenRequests uint32
	// Observe - метрика длительности вызова (prometheus), необязательна
	Observe func(operation string, started time.Time, err error)
}

// RazorpayClient - REST-клиент Razorpay-совместимого API (basic auth key_id:key_secret)
type RazorpayClient struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
}

var _ Gateway = (*RazorpayClient)(nil)

func NewRazorpayClient(cfg Config) *RazorpayClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	settings := gobreaker.Settings{
		Name:        "payment-gateway",
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		// 4xx - ошибка запроса, а не недоступность шлюза
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.ClientError()
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}

	return &RazorpayClient{
		cfg:     cfg,
		http:    &http.Client{},
		breaker: gobreaker.NewCircuitBreaker[[]byte](settings),
	}
}

func (c *RazorpayClient) Configured() bool {
	return c.cfg.KeyID != "" && c.cfg.KeySecret != "" && c.cfg.BaseURL != ""
}

func (c *RazorpayClient) KeyID() string {
	return c.cfg.KeyID
}

func (c *RazorpayClient) VerifySignature(orderID, paymentID, signature string) bool {
	return VerifySignature(c.cfg.KeySecret, orderID, paymentID, signature)
}

// ============================================
// Wire types
// ============================================

type orderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt,omitempty"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type orderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type paymentResponse struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
	Method   string `json:"method"`
}

type refundRequest struct {
	Amount *int64            `json:"amount,omitempty"`
	Notes  map[string]string `json:"notes,omitempty"`
}

type refundResponse struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
}

type errorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// ============================================
// Operations
// ============================================

func (c *RazorpayClient) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	var resp orderResponse
	err := c.do(ctx, "create_order", http.MethodPost, "/orders", orderRequest{
		Amount:   ToMinor(req.Amount),
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Notes:    req.Notes,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("gateway returned order without id")
	}
	return &Order{
		ID:       resp.ID,
		Amount:   FromMinor(resp.Amount),
		Currency: resp.Currency,
		Receipt:  resp.Receipt,
		Status:   resp.Status,
	}, nil
}

func (c *RazorpayClient) FetchPayment(ctx context.Context, paymentID string) (*PaymentInfo, error) {
	var resp paymentResponse
	if err := c.do(ctx, "fetch_payment", http.MethodGet, "/payments/"+paymentID, nil, &resp); err != nil {
		return nil, err
	}
	return &PaymentInfo{
		ID:       resp.ID,
		OrderID:  resp.OrderID,
		Amount:   FromMinor(resp.Amount),
		Currency: resp.Currency,
		Status:   resp.Status,
		Method:   resp.Method,
	}, nil
}

func (c *RazorpayClient) Refund(ctx context.Context, paymentID string, amount *decimal.Decimal, notes map[string]string) (*RefundInfo, error) {
	body := refundRequest{Notes: notes}
	if amount != nil {
		minor := ToMinor(*amount)
		body.Amount = &minor
	}

	var resp refundResponse
	if err := c.do(ctx, "refund", http.MethodPost, "/payments/"+paymentID+"/refund", body, &resp); err != nil {
		return nil, err
	}
	return &RefundInfo{
		ID:        resp.ID,
		PaymentID: resp.PaymentID,
		Amount:    FromMinor(resp.Amount),
		Status:    resp.Status,
	}, nil
}

// do - один HTTP-вызов через circuit breaker с собственным таймаутом
func (c *RazorpayClient) do(ctx context.Context, operation, method, path string, in, out any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	data, err := c.breaker.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, method, path, in)
	})
	err = classify(ctx, err)
	logger.GatewayLog(operation, time.Since(start), err)
	if c.cfg.Observe != nil {
		c.cfg.Observe(operation, start, err)
	}
	if err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}

func (c *RazorpayClient) roundTrip(ctx context.Context, method, path string, in any) ([]byte, error) {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.cfg.KeyID, c.cfg.KeySecret)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var er errorResponse
		if json.Unmarshal(data, &er) == nil {
			apiErr.Code = er.Error.Code
			apiErr.Description = er.Error.Description
		}
		return nil, apiErr
	}
	return data, nil
}

// classify - приводит транспортные ошибки к ErrTimeout / ErrUnavailable
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
