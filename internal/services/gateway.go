package services

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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/example/immo/internal/config"
	"github.com/example/immo/internal/models"
	"github.com/example/immo/internal/monitoring"
)

// Mobile-money mediums accepted by the gateway. An empty medium lets the
// gateway infer it from the phone number.
const (
	MediumMobileMoney = "mobile money"
	MediumOrangeMoney = "orange money"
)

const (
	opCollect  = "collect"
	opWithdraw = "withdraw"
	opStatus   = "status"
)

// PaymentGateway is the subset of the mobile-money API the payment core uses.
type PaymentGateway interface {
	InitiateCollection(ctx context.Context, req PaymentRequest) (*InitiateResult, error)
	InitiateWithdrawal(ctx context.Context, req PaymentRequest) (*InitiateResult, error)
	GetStatus(ctx context.Context, transactionID string) (*StatusResult, error)
}

// PaymentRequest enumerates every field the gateway accepts on collect and
// payout calls.
type PaymentRequest struct {
	Amount     int64  `json:"amount"`
	Phone      string `json:"phone"`
	Medium     string `json:"medium,omitempty"`
	Name       string `json:"name,omitempty"`
	Email      string `json:"email,omitempty"`
	UserID     string `json:"userId,omitempty"`
	ExternalID string `json:"externalId,omitempty"`
	Message    string `json:"message,omitempty"`
}

// InitiateResult is returned by collect and payout calls.
type InitiateResult struct {
	TransactionID string `json:"transId"`
	Message       string `json:"message"`
	DateInitiated string `json:"dateInitiated"`
}

// StatusResult is the normalized gateway view of a transaction.
type StatusResult struct {
	TransactionID string
	Status        models.PaymentStatus
	Amount        int64
	Medium        string
	ExternalID    string
	DateInitiated *time.Time
	DateConfirmed *time.Time
	Raw           json.RawMessage
}

type statusPayload struct {
	TransID       string `json:"transId"`
	Status        string `json:"status"`
	Medium        string `json:"medium"`
	Amount        int64  `json:"amount"`
	ExternalID    string `json:"externalId"`
	DateInitiated string `json:"dateInitiated"`
	DateConfirmed string `json:"dateConfirmed"`
}

type gatewayErrorPayload struct {
	Message string `json:"message"`
}

// FapshiClient talks to a Fapshi-compatible mobile-money gateway.
type FapshiClient struct {
	baseURL    string
	apiUser    string
	apiKey     string
	httpClient *http.Client
}

// NewFapshiClient builds a client with an instrumented transport.
func NewFapshiClient(cfg config.GatewayConfig) *FapshiClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &FapshiClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiUser: cfg.APIUser,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   timeout,
		},
	}
}

// InitiateCollection asks the payer to approve a debit on their wallet.
func (c *FapshiClient) InitiateCollection(ctx context.Context, req PaymentRequest) (*InitiateResult, error) {
	return c.initiate(ctx, opCollect, "/direct-pay", req)
}

// InitiateWithdrawal sends money from the merchant balance to a wallet.
func (c *FapshiClient) InitiateWithdrawal(ctx context.Context, req PaymentRequest) (*InitiateResult, error) {
	return c.initiate(ctx, opWithdraw, "/payout", req)
}

func (c *FapshiClient) initiate(ctx context.Context, op, path string, req PaymentRequest) (*InitiateResult, error) {
	if req.Amount <= 0 {
		return nil, &GatewayError{Op: op, Message: "amount must be positive", Err: ErrInvalidAmount}
	}
	if strings.TrimSpace(req.Phone) == "" {
		return nil, &GatewayError{Op: op, Message: "phone is required", Err: ErrPhoneRequired}
	}

	body, err := c.do(ctx, op, http.MethodPost, path, req)
	if err != nil {
		return nil, err
	}

	var result InitiateResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, c.fail(op, &GatewayError{Op: op, Message: "malformed response", Err: err})
	}
	if result.TransactionID == "" {
		return nil, c.fail(op, &GatewayError{Op: op, Message: "response has no transaction id"})
	}
	return &result, nil
}

// GetStatus fetches the current state of a transaction.
func (c *FapshiClient) GetStatus(ctx context.Context, transactionID string) (*StatusResult, error) {
	if transactionID == "" {
		return nil, &GatewayError{Op: opStatus, Message: "transaction id is required"}
	}

	body, err := c.do(ctx, opStatus, http.MethodGet, "/payment-status/"+url.PathEscape(transactionID), nil)
	if err != nil {
		return nil, err
	}

	var payload statusPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, c.fail(opStatus, &GatewayError{Op: opStatus, Message: "malformed response", Err: err})
	}

	status, ok := models.ParsePaymentStatus(strings.ToUpper(payload.Status))
	if !ok {
		return nil, c.fail(opStatus, &GatewayError{Op: opStatus, Message: fmt.Sprintf("unknown status %q", payload.Status)})
	}

	result := &StatusResult{
		TransactionID: payload.TransID,
		Status:        status,
		Amount:        payload.Amount,
		Medium:        payload.Medium,
		ExternalID:    payload.ExternalID,
		DateInitiated: parseGatewayTime(payload.DateInitiated),
		DateConfirmed: parseGatewayTime(payload.DateConfirmed),
		Raw:           json.RawMessage(body),
	}
	if result.TransactionID == "" {
		result.TransactionID = transactionID
	}
	return result, nil
}

// do performs one request and returns the body of a 2xx response. Metrics are
// recorded for every outcome except the payload checks done by callers.
func (c *FapshiClient) do(ctx context.Context, op, method, path string, payload any) ([]byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, &GatewayError{Op: op, Message: "request marshal", Err: err}
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, &GatewayError{Op: op, Message: "request build", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apiuser", c.apiUser)
	req.Header.Set("apikey", c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		observeGateway(op, "error", start)
		return nil, &GatewayError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		observeGateway(op, "error", start)
		return nil, &GatewayError{Op: op, StatusCode: resp.StatusCode, Message: "read body", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		observeGateway(op, "rejected", start)
		msg := strings.TrimSpace(string(body))
		var errPayload gatewayErrorPayload
		if json.Unmarshal(body, &errPayload) == nil && errPayload.Message != "" {
			msg = errPayload.Message
		}
		return nil, &GatewayError{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}

	observeGateway(op, "ok", start)
	return body, nil
}

// fail reclassifies an already-counted successful call whose payload turned
// out to be unusable.
func (c *FapshiClient) fail(op string, err *GatewayError) error {
	monitoring.GatewayRequests.WithLabelValues(op, "malformed").Inc()
	return err
}

func observeGateway(op, outcome string, start time.Time) {
	monitoring.GatewayRequests.WithLabelValues(op, outcome).Inc()
	monitoring.GatewayDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
}

func parseGatewayTime(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}

// errorsIsContext reports whether err came from context cancellation rather
// than the gateway itself.
func errorsIsContext(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
