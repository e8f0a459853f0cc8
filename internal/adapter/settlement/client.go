package settlement

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"agroledger/config"
	"agroledger/internal/core/domain"
	"agroledger/internal/core/ports"
	"agroledger/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks JSON to the external settlement gateway. It is safe for
// concurrent use; every call is a self-contained request.
type Client struct {
	gatewayURL   string
	httpClient   HTTPClient
	fallbackFees map[domain.TransactionKind]decimal.Decimal
	log          zerolog.Logger
}

// NewClient creates a settlement gateway client. Fallback fees are parsed
// once at construction; a malformed entry is an error.
func NewClient(cfg config.SettlementConfig, httpClient HTTPClient, log zerolog.Logger) (*Client, error) {
	fallback := make(map[domain.TransactionKind]decimal.Decimal, len(cfg.FallbackFees))
	for kind, raw := range cfg.FallbackFees {
		fee, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("parse fallback fee for %q: %w", kind, err)
		}
		fallback[domain.TransactionKind(kind)] = fee
	}
	return &Client{
		gatewayURL:   cfg.GatewayURL,
		httpClient:   httpClient,
		fallbackFees: fallback,
		log:          log,
	}, nil
}

// intentPayload is the canonical wire form of a transfer intent. Field order
// matters: the signature and the reference are computed over these bytes.
type intentPayload struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
	Nonce  string `json:"nonce"`
}

type signedEnvelope struct {
	Intent    intentPayload `json:"intent"`
	Signature string        `json:"signature"`
}

// Sign binds an intent to the sender's key. The reference is the hex sha256
// of the signed envelope, computed before submission: a submit that times out
// still leaves a reference the sweeper can poll.
func (c *Client) Sign(intent ports.TransferIntent, secret string) (*ports.SignedIntent, error) {
	canonical, err := json.Marshal(intentPayload{
		From:   intent.FromAddress,
		To:     intent.ToAddress,
		Amount: intent.Amount.String(),
		Nonce:  intent.Nonce,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal transfer intent: %w", err)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(canonical)
	signature := hex.EncodeToString(mac.Sum(nil))

	envelope, err := json.Marshal(signedEnvelope{
		Intent: intentPayload{
			From:   intent.FromAddress,
			To:     intent.ToAddress,
			Amount: intent.Amount.String(),
			Nonce:  intent.Nonce,
		},
		Signature: signature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal signed envelope: %w", err)
	}

	digest := sha256.Sum256(envelope)
	return &ports.SignedIntent{
		Payload:   envelope,
		Reference: hex.EncodeToString(digest[:]),
	}, nil
}

type submitRequest struct {
	Reference string          `json:"reference"`
	Envelope  json.RawMessage `json:"envelope"`
}

type submitResponse struct {
	Reference string `json:"reference"`
	Error     string `json:"error"`
}

// Submit hands the signed intent to the gateway. It never waits for
// confirmation. A transport failure or timeout means the outcome is unknown
// and surfaces as SettlementUnreachable; only an explicit 4xx rejection is
// terminal.
func (c *Client) Submit(ctx context.Context, signed *ports.SignedIntent) (string, error) {
	body, err := json.Marshal(submitRequest{
		Reference: signed.Reference,
		Envelope:  signed.Payload,
	})
	if err != nil {
		return "", fmt.Errorf("marshal submit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.gatewayURL+"/v1/transactions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("reference", signed.Reference).Msg("settlement submit unreachable")
		return "", apperror.ErrSettlementUnreachable(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var sr submitResponse
		if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
			return "", apperror.ErrSettlementUnreachable(fmt.Errorf("decode submit response: %w", err))
		}
		if sr.Reference != "" && sr.Reference != signed.Reference {
			c.log.Warn().
				Str("local", signed.Reference).
				Str("gateway", sr.Reference).
				Msg("settlement gateway returned a different reference")
		}
		return signed.Reference, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var sr submitResponse
		_ = json.NewDecoder(resp.Body).Decode(&sr)
		if sr.Error == "" {
			sr.Error = resp.Status
		}
		return "", apperror.ErrSettlementRejected(sr.Error)
	default:
		// 5xx: the gateway may still have accepted the transaction.
		io.Copy(io.Discard, resp.Body)
		return "", apperror.ErrSettlementUnreachable(fmt.Errorf("gateway returned %s", resp.Status))
	}
}

type statusResponse struct {
	Status      string  `json:"status"`
	BlockHeight *int64  `json:"block_height"`
	NetworkFee  *string `json:"network_fee"`
}

// GetStatus queries the gateway for a reference. A 404 maps to
// SettlementNotFound: the transaction may still be propagating, so the
// caller must not treat it as failed.
func (c *Client) GetStatus(ctx context.Context, externalRef string) (*ports.SettlementReceipt, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.gatewayURL+"/v1/transactions/"+externalRef, nil)
	if err != nil {
		return nil, fmt.Errorf("create status request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperror.ErrSettlementUnreachable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return &ports.SettlementReceipt{Status: ports.SettlementNotFound}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, apperror.ErrSettlementUnreachable(fmt.Errorf("gateway returned %s", resp.Status))
	}

	var sr statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, apperror.ErrSettlementUnreachable(fmt.Errorf("decode status response: %w", err))
	}

	receipt := &ports.SettlementReceipt{BlockHeight: sr.BlockHeight}
	switch sr.Status {
	case "confirmed":
		receipt.Status = ports.SettlementConfirmed
	case "failed":
		receipt.Status = ports.SettlementFailed
	case "pending", "processing":
		receipt.Status = ports.SettlementPending
	default:
		receipt.Status = ports.SettlementNotFound
	}
	if sr.NetworkFee != nil {
		fee, err := decimal.NewFromString(*sr.NetworkFee)
		if err != nil {
			return nil, fmt.Errorf("parse network fee %q: %w", *sr.NetworkFee, err)
		}
		receipt.NetworkFee = &fee
	}
	return receipt, nil
}

type balanceResponse struct {
	Balance string `json:"balance"`
}

// AccountBalance queries the network's holdings for an address.
func (c *Client) AccountBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.gatewayURL+"/v1/accounts/"+address+"/balance", nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("create balance request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, apperror.ErrSettlementUnreachable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return decimal.Zero, apperror.ErrSettlementUnreachable(fmt.Errorf("gateway returned %s", resp.Status))
	}

	var br balanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return decimal.Zero, apperror.ErrSettlementUnreachable(fmt.Errorf("decode balance response: %w", err))
	}
	balance, err := decimal.NewFromString(br.Balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse account balance %q: %w", br.Balance, err)
	}
	return balance, nil
}

type feeResponse struct {
	Fee string `json:"fee"`
}

// EstimateFee asks the gateway for the current network fee for a kind. When
// the gateway cannot answer it falls back to the configured static fee.
func (c *Client) EstimateFee(ctx context.Context, kind domain.TransactionKind) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.gatewayURL+"/v1/fees?kind="+string(kind), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("create fee request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.fallbackFee(kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return c.fallbackFee(kind, fmt.Errorf("gateway returned %s", resp.Status))
	}

	var fr feeResponse
	if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
		return c.fallbackFee(kind, err)
	}
	fee, err := decimal.NewFromString(fr.Fee)
	if err != nil {
		return c.fallbackFee(kind, err)
	}
	return fee, nil
}

// fallbackFeeKey answers for any kind without its own fallback entry.
const fallbackFeeKey = domain.TransactionKind("default")

func (c *Client) fallbackFee(kind domain.TransactionKind, cause error) (decimal.Decimal, error) {
	fee, ok := c.fallbackFees[kind]
	if !ok {
		fee, ok = c.fallbackFees[fallbackFeeKey]
	}
	if !ok {
		return decimal.Zero, apperror.ErrSettlementUnreachable(cause)
	}
	c.log.Debug().Err(cause).Str("kind", string(kind)).Str("fee", fee.String()).
		Msg("fee estimate falling back to static value")
	return fee, nil
}

// GenerateKeypair creates a settlement address and its secret key for a new
// wallet. The address is derived from the secret one-way.
func (c *Client) GenerateKeypair() (string, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("generate wallet secret: %w", err)
	}
	secret := hex.EncodeToString(raw)
	digest := sha256.Sum256([]byte(secret))
	address := "agc1" + hex.EncodeToString(digest[:])[:38]
	return address, secret, nil
}

// NewHTTPClient builds the default transport with the configured timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}
