// Package webpay is a client for the Transbank Webpay Plus REST API.
package webpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	IntegrationBaseURL = "https://webpay3gint.transbank.cl"
	ProductionBaseURL  = "https://webpay3g.transbank.cl"

	// public integration credentials published by Transbank
	IntegrationCommerceCode = "597055555532"
	IntegrationAPIKey       = "579B532A7440BB0C9079DED94D31EA1615BACEB56610332264630D42D0A36B1C"

	transactionsPath = "/rswebpaytransaction/api/webpay/v1.2/transactions"
	initPath         = "/webpayserver/initTransaction"

	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
)

var (
	// ErrUnavailable is returned without calling the gateway while the
	// breaker is open.
	ErrUnavailable = errors.New("webpay unavailable")
)

// StatusError is a non-2xx reply from the gateway.
type StatusError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("webpay %s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("webpay %s: unexpected status %d: %s", e.Op, e.StatusCode, e.Message)
}

type Config struct {
	BaseURL      string
	CommerceCode string
	APIKey       string
	Timeout      time.Duration
}

type CreateRequest struct {
	BuyOrder  string `json:"buy_order"`
	SessionID string `json:"session_id"`
	Amount    int64  `json:"amount"`
	ReturnURL string `json:"return_url"`
}

type CreateResponse struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

type CardDetail struct {
	CardNumber string `json:"card_number"`
}

// CommitResponse mirrors the gateway's commit payload.
type CommitResponse struct {
	VCI                string     `json:"vci"`
	Amount             int64      `json:"amount"`
	Status             string     `json:"status"`
	BuyOrder           string     `json:"buy_order"`
	SessionID          string     `json:"session_id"`
	CardDetail         CardDetail `json:"card_detail"`
	AccountingDate     string     `json:"accounting_date"`
	TransactionDate    time.Time  `json:"transaction_date"`
	AuthorizationCode  string     `json:"authorization_code"`
	PaymentTypeCode    string     `json:"payment_type_code"`
	ResponseCode       int        `json:"response_code"`
	InstallmentsAmount int64      `json:"installments_amount"`
	InstallmentsNumber int        `json:"installments_number"`
}

type apiError struct {
	ErrorMessage string `json:"error_message"`
}

type Client struct {
	baseURL      string
	commerceCode string
	apiKey       string
	httpClient   *http.Client
	breaker      *gobreaker.CircuitBreaker[[]byte]
	tracer       trace.Tracer
	log          *slog.Logger
}

func NewClient(cfg Config, log *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = IntegrationBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	c := &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		commerceCode: cfg.CommerceCode,
		apiKey:       cfg.APIKey,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		tracer: otel.Tracer("github.com/fjod/macstore/internal/gateway/webpay"),
		log:    log,
	}

	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "webpay",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// 4xx replies are business answers from a healthy gateway
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.StatusCode < http.StatusInternalServerError
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})

	return c
}

// FormAction is the page the shopper's browser posts token_ws to.
func (c *Client) FormAction() string {
	return c.baseURL + initPath
}

// BaseURL is the configured gateway origin.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// CreateTransaction opens a transaction and returns its token.
func (c *Client) CreateTransaction(ctx context.Context, req CreateRequest) (*CreateResponse, error) {
	ctx, span := c.tracer.Start(ctx, "webpay.CreateTransaction",
		trace.WithAttributes(attribute.String("webpay.buy_order", req.BuyOrder), attribute.Int64("webpay.amount", req.Amount)))
	defer span.End()

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	body, err := c.do(ctx, "create", http.MethodPost, c.baseURL+transactionsPath, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create failed")
		return nil, err
	}

	var resp CreateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal create response: %w", err)
	}
	if resp.Token == "" {
		return nil, fmt.Errorf("webpay create: response without token")
	}
	if resp.URL == "" {
		resp.URL = c.FormAction()
	}
	return &resp, nil
}

// CommitTransaction settles the transaction the shopper completed on the
// gateway's page.
func (c *Client) CommitTransaction(ctx context.Context, token string) (*CommitResponse, error) {
	ctx, span := c.tracer.Start(ctx, "webpay.CommitTransaction")
	defer span.End()

	endpoint := c.baseURL + transactionsPath + "/" + url.PathEscape(token)
	body, err := c.do(ctx, "commit", http.MethodPut, endpoint, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		return nil, err
	}

	var resp CommitResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal commit response: %w", err)
	}
	span.SetAttributes(
		attribute.String("webpay.buy_order", resp.BuyOrder),
		attribute.Int("webpay.response_code", resp.ResponseCode),
	)
	return &resp, nil
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, payload []byte) ([]byte, error) {
	body, err := c.breaker.Execute(func() ([]byte, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Tbk-Api-Key-Id", c.commerceCode)
		req.Header.Set("Tbk-Api-Key-Secret", c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to call webpay: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			var apiErr apiError
			_ = json.Unmarshal(body, &apiErr)
			return nil, &StatusError{Op: op, StatusCode: resp.StatusCode, Message: apiErr.ErrorMessage}
		}
		return body, nil
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err != nil {
		c.log.ErrorContext(ctx, "webpay request failed", "op", op, "error", err)
		return nil, err
	}
	return body, nil
}
