package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/immo/internal/config"
	"github.com/example/immo/internal/models"
)

func newGatewayServer(t *testing.T, handler http.HandlerFunc) (*FapshiClient, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	client := NewFapshiClient(config.GatewayConfig{
		BaseURL: srv.URL + "/",
		APIUser: "user-1",
		APIKey:  "key-1",
		Timeout: 2 * time.Second,
	})
	return client, &hits
}

func TestFapshiClient_InitiateCollection(t *testing.T) {
	client, hits := newGatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/direct-pay", r.URL.Path)
		assert.Equal(t, "user-1", r.Header.Get("apiuser"))
		assert.Equal(t, "key-1", r.Header.Get("apikey"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 25000, body["amount"])
		assert.Equal(t, "237670000000", body["phone"])
		assert.Equal(t, "res-1", body["externalId"])
		assert.NotContains(t, body, "email")

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"message":"Request accepted","transId":"TX-123","dateInitiated":"2024-05-01T10:00:00.000Z"}`))
	})

	res, err := client.InitiateCollection(context.Background(), PaymentRequest{
		Amount:     25000,
		Phone:      "237670000000",
		ExternalID: "res-1",
	})

	require.NoError(t, err)
	assert.Equal(t, "TX-123", res.TransactionID)
	assert.Equal(t, "Request accepted", res.Message)
	assert.EqualValues(t, 1, hits.Load())
}

func TestFapshiClient_InitiateWithdrawalUsesPayout(t *testing.T) {
	client, _ := newGatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payout", r.URL.Path)
		_, _ = w.Write([]byte(`{"transId":"TX-OUT"}`))
	})

	res, err := client.InitiateWithdrawal(context.Background(), PaymentRequest{Amount: 100, Phone: "237670000000"})
	require.NoError(t, err)
	assert.Equal(t, "TX-OUT", res.TransactionID)
}

func TestFapshiClient_ValidatesBeforeCalling(t *testing.T) {
	client, hits := newGatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("gateway must not be called")
	})

	_, err := client.InitiateCollection(context.Background(), PaymentRequest{Amount: 0, Phone: "237670000000"})
	assert.ErrorIs(t, err, ErrInvalidAmount)
	assert.True(t, IsGatewayError(err))

	_, err = client.InitiateCollection(context.Background(), PaymentRequest{Amount: 100, Phone: " "})
	assert.ErrorIs(t, err, ErrPhoneRequired)

	_, err = client.GetStatus(context.Background(), "")
	assert.True(t, IsGatewayError(err))

	assert.Zero(t, hits.Load())
}

func TestFapshiClient_RejectionCarriesGatewayMessage(t *testing.T) {
	client, _ := newGatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"Invalid phone number"}`))
	})

	_, err := client.InitiateCollection(context.Background(), PaymentRequest{Amount: 100, Phone: "123"})

	var gwErr *GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, http.StatusBadRequest, gwErr.StatusCode)
	assert.Equal(t, "Invalid phone number", gwErr.Message)
	assert.Equal(t, opCollect, gwErr.Op)
}

func TestFapshiClient_MissingTransactionID(t *testing.T) {
	client, _ := newGatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":"ok"}`))
	})

	_, err := client.InitiateCollection(context.Background(), PaymentRequest{Amount: 100, Phone: "237670000000"})
	assert.True(t, IsGatewayError(err))
}

func TestFapshiClient_MalformedBody(t *testing.T) {
	client, _ := newGatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	})

	_, err := client.GetStatus(context.Background(), "TX-1")
	assert.True(t, IsGatewayError(err))
}

func TestFapshiClient_GetStatus(t *testing.T) {
	client, _ := newGatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/payment-status/TX-9", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"transId": "TX-9",
			"status": "successful",
			"medium": "mobile money",
			"amount": 5000,
			"externalId": "res-9",
			"dateInitiated": "2024-05-01T10:00:00.000Z",
			"dateConfirmed": "2024-05-01T10:01:30.000Z"
		}`))
	})

	res, err := client.GetStatus(context.Background(), "TX-9")
	require.NoError(t, err)

	assert.Equal(t, models.PaymentStatusSuccessful, res.Status)
	assert.EqualValues(t, 5000, res.Amount)
	assert.Equal(t, MediumMobileMoney, res.Medium)
	assert.Equal(t, "res-9", res.ExternalID)
	require.NotNil(t, res.DateConfirmed)
	assert.Equal(t, 90*time.Second, res.DateConfirmed.Sub(*res.DateInitiated))
	assert.NotEmpty(t, res.Raw)
}

func TestFapshiClient_UnknownStatus(t *testing.T) {
	client, _ := newGatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"transId":"TX-1","status":"REVERSED"}`))
	})

	_, err := client.GetStatus(context.Background(), "TX-1")
	var gwErr *GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Contains(t, gwErr.Message, "REVERSED")
}

func TestFapshiClient_ContextCancelled(t *testing.T) {
	client, _ := newGatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.GetStatus(ctx, "TX-1")
	assert.True(t, IsGatewayError(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseGatewayTime(t *testing.T) {
	assert.Nil(t, parseGatewayTime(""))
	assert.Nil(t, parseGatewayTime("yesterday"))
	require.NotNil(t, parseGatewayTime("2024-05-01T10:00:00Z"))
	require.NotNil(t, parseGatewayTime("2024-05-01 10:00:00"))
}
