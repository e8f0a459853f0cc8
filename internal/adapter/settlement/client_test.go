package settlement

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"agroledger/config"
	"agroledger/internal/core/domain"
	"agroledger/internal/core/ports"
	"agroledger/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, gatewayURL string) *Client {
	t.Helper()
	c, err := NewClient(config.SettlementConfig{
		Mode:         "network",
		GatewayURL:   gatewayURL,
		FallbackFees: map[string]string{"transfer": "0.0002"},
	}, http.DefaultClient, zerolog.Nop())
	require.NoError(t, err)
	return c
}

func testIntent() ports.TransferIntent {
	return ports.TransferIntent{
		FromAddress: "agc1sender",
		ToAddress:   "agc1receiver",
		Amount:      decimal.RequireFromString("10.50"),
		Nonce:       "2f7d1a9c",
	}
}

func TestClient_Sign_DeterministicReference(t *testing.T) {
	c := newTestClient(t, "http://gateway.invalid")

	first, err := c.Sign(testIntent(), "wallet-secret")
	require.NoError(t, err)
	second, err := c.Sign(testIntent(), "wallet-secret")
	require.NoError(t, err)

	assert.Equal(t, first.Reference, second.Reference)
	assert.Len(t, first.Reference, 64)
	assert.NotEmpty(t, first.Payload)
}

func TestClient_Sign_ReferenceVariesWithNonce(t *testing.T) {
	c := newTestClient(t, "http://gateway.invalid")

	first, err := c.Sign(testIntent(), "wallet-secret")
	require.NoError(t, err)

	other := testIntent()
	other.Nonce = "different"
	second, err := c.Sign(other, "wallet-secret")
	require.NoError(t, err)

	assert.NotEqual(t, first.Reference, second.Reference)
}

func TestClient_Submit_Accepted(t *testing.T) {
	var gotRef string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/transactions", r.URL.Path)
		var req submitRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotRef = req.Reference
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(submitResponse{Reference: req.Reference})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	signed, err := c.Sign(testIntent(), "wallet-secret")
	require.NoError(t, err)

	ref, err := c.Submit(context.Background(), signed)
	require.NoError(t, err)
	assert.Equal(t, signed.Reference, ref)
	assert.Equal(t, signed.Reference, gotRef)
}

func TestClient_Submit_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(submitResponse{Error: "invalid signature"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	signed, err := c.Sign(testIntent(), "wallet-secret")
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), signed)
	require.Error(t, err)

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "SET_002", appErr.Code)
}

func TestClient_Submit_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	c := newTestClient(t, srv.URL)
	signed, err := c.Sign(testIntent(), "wallet-secret")
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), signed)
	require.Error(t, err)

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "SET_001", appErr.Code)
}

func TestClient_Submit_GatewayError_IsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	signed, err := c.Sign(testIntent(), "wallet-secret")
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), signed)
	require.Error(t, err)

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "SET_001", appErr.Code, "5xx outcome is unknown, never a rejection")
}

func TestClient_GetStatus_Confirmed(t *testing.T) {
	height := int64(881245)
	fee := "0.0001"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transactions/abc123", r.URL.Path)
		json.NewEncoder(w).Encode(statusResponse{
			Status: "confirmed", BlockHeight: &height, NetworkFee: &fee,
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	receipt, err := c.GetStatus(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, ports.SettlementConfirmed, receipt.Status)
	require.NotNil(t, receipt.BlockHeight)
	assert.Equal(t, height, *receipt.BlockHeight)
	require.NotNil(t, receipt.NetworkFee)
	assert.True(t, decimal.RequireFromString("0.0001").Equal(*receipt.NetworkFee))
}

func TestClient_GetStatus_UnknownReference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	receipt, err := c.GetStatus(context.Background(), "neverheard")
	require.NoError(t, err)
	assert.Equal(t, ports.SettlementNotFound, receipt.Status)
}

func TestClient_GetStatus_Failed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(statusResponse{Status: "failed"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	receipt, err := c.GetStatus(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, ports.SettlementFailed, receipt.Status)
}

func TestClient_EstimateFee_FromGateway(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "transfer", r.URL.Query().Get("kind"))
		json.NewEncoder(w).Encode(feeResponse{Fee: "0.00015"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	fee, err := c.EstimateFee(context.Background(), domain.KindTransfer)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.00015").Equal(fee))
}

func TestClient_EstimateFee_FallsBackWhenUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := newTestClient(t, srv.URL)
	fee, err := c.EstimateFee(context.Background(), domain.KindTransfer)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.0002").Equal(fee))
}

func TestClient_EstimateFee_DefaultFallbackCoversUnlistedKinds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c, err := NewClient(config.SettlementConfig{
		Mode:       "network",
		GatewayURL: srv.URL,
		FallbackFees: map[string]string{
			"transfer": "0.0002",
			"default":  "0.005",
		},
	}, http.DefaultClient, zerolog.Nop())
	require.NoError(t, err)

	fee, err := c.EstimateFee(context.Background(), domain.KindPayment)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.005").Equal(fee))
}

func TestClient_EstimateFee_NoFallbackConfigured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.EstimateFee(context.Background(), domain.KindReward)
	require.Error(t, err)

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "SET_001", appErr.Code)
}

func TestClient_AccountBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/accounts/agc1sender/balance", r.URL.Path)
		json.NewEncoder(w).Encode(balanceResponse{Balance: "42.75"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	balance, err := c.AccountBalance(context.Background(), "agc1sender")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("42.75").Equal(balance))
}

func TestClient_AccountBalance_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.AccountBalance(context.Background(), "agc1sender")
	require.Error(t, err)

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "SET_001", appErr.Code)
}

func TestClient_GenerateKeypair(t *testing.T) {
	c := newTestClient(t, "http://gateway.invalid")

	addr1, secret1, err := c.GenerateKeypair()
	require.NoError(t, err)
	addr2, secret2, err := c.GenerateKeypair()
	require.NoError(t, err)

	assert.NotEqual(t, addr1, addr2)
	assert.NotEqual(t, secret1, secret2)
	assert.Len(t, addr1, 42)
	assert.Len(t, secret1, 64)
	assert.Equal(t, "agc1", addr1[:4])
}
