package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"agroledger/config"
	httpHandler "agroledger/internal/adapter/http/handler"
	"agroledger/internal/adapter/settlement"
	redisStorage "agroledger/internal/adapter/storage/redis"
	"agroledger/internal/core/domain"
	"agroledger/internal/service"
	"agroledger/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubGateway is a controllable settlement network. Submissions are recorded
// and answered per submitCode; status polls are answered from the statuses
// map (absent = 404).
type stubGateway struct {
	mu         sync.Mutex
	submitCode int
	submitted  []string
	statuses   map[string]map[string]any
}

func newStubGateway() *stubGateway {
	return &stubGateway{
		submitCode: http.StatusCreated,
		statuses:   make(map[string]map[string]any),
	}
}

func (g *stubGateway) setSubmitCode(code int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submitCode = code
}

func (g *stubGateway) setStatus(ref, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[ref] = map[string]any{"status": status}
}

func (g *stubGateway) lastSubmitted() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.submitted) == 0 {
		return ""
	}
	return g.submitted[len(g.submitted)-1]
}

func (g *stubGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/transactions":
		var req struct {
			Reference string `json:"reference"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if g.submitCode >= 400 {
			w.WriteHeader(g.submitCode)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid signature"})
			return
		}
		g.submitted = append(g.submitted, req.Reference)
		w.WriteHeader(g.submitCode)
		_ = json.NewEncoder(w).Encode(map[string]string{"reference": req.Reference})
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/transactions/"):
		ref := strings.TrimPrefix(r.URL.Path, "/v1/transactions/")
		body, ok := g.statuses[ref]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(body)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/accounts/"):
		_ = json.NewEncoder(w).Encode(map[string]string{"balance": "0.00"})
	case r.Method == http.MethodGet && r.URL.Path == "/v1/fees":
		_ = json.NewEncoder(w).Encode(map[string]string{"fee": "0.10"})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// testApp is the full ledger stack over in-memory storage, miniredis, and a
// stub settlement gateway.
type testApp struct {
	server     *httptest.Server
	gateway    *stubGateway
	gatewaySrv *httptest.Server
	redis      *miniredis.Miniredis
	sweeper    *service.Sweeper
	txRepo     *inMemoryTransactionRepo
	walletRepo *inMemoryWalletRepo
}

func (a *testApp) close() {
	a.server.Close()
	a.gatewaySrv.Close()
	a.redis.Close()
}

func newTestApp(t *testing.T, mode string) *testApp {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	rateCache := redisStorage.NewRateCache(rdb)

	gateway := newStubGateway()
	gatewaySrv := httptest.NewServer(gateway)

	walletRepo := newInMemoryWalletRepo()
	txRepo := newInMemoryTransactionRepo()
	rateRepo := newInMemoryRateRepo()
	transactor := newInMemoryTransactor(walletRepo, txRepo)

	encSvc, err := service.NewAESEncryptionService("integration-test-passphrase", "integration-salt")
	require.NoError(t, err)
	sigSvc := service.NewHMACSignatureService()

	log := logger.New("error", false)

	settlementCfg := config.SettlementConfig{
		Mode:           mode,
		GatewayURL:     gatewaySrv.URL,
		RequestTimeout: 2 * time.Second,
	}
	settleClient, err := settlement.NewClient(settlementCfg,
		settlement.NewHTTPClient(settlementCfg.RequestTimeout), log)
	require.NoError(t, err)

	notifier := service.NewEventDispatcher(config.EventsConfig{}, sigSvc,
		settlement.NewHTTPClient(time.Second), log)

	oracle, err := service.NewRateService(rateRepo, rateCache, settleClient, config.OracleConfig{
		DefaultRate: "5.00",
		CacheTTL:    5 * time.Minute,
		FeeCacheTTL: 10 * time.Minute,
	}, log)
	require.NoError(t, err)

	walletSvc := service.NewWalletService(walletRepo, settleClient, encSvc, oracle, log)
	transferSvc, err := service.NewTransferService(walletRepo, txRepo, transactor,
		settleClient, encSvc, oracle, notifier, settlementCfg, "0.05", log)
	require.NoError(t, err)

	sweeper := service.NewSweeper(txRepo, walletRepo, settleClient, transferSvc, config.SweeperConfig{
		Interval:         time.Minute,
		GracePeriod:      0,
		StalenessCeiling: 24 * time.Hour,
		BatchSize:        100,
	}, log)

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		WalletSvc:   walletSvc,
		TransferSvc: transferSvc,
		Oracle:      oracle,
		Logger:      log,
	})

	return &testApp{
		server:     httptest.NewServer(router),
		gateway:    gateway,
		gatewaySrv: gatewaySrv,
		redis:      mr,
		sweeper:    sweeper,
		txRepo:     txRepo,
		walletRepo: walletRepo,
	}
}

type envelope struct {
	Data      json.RawMessage `json:"data"`
	ErrorCode string          `json:"error_code"`
}

func (a *testApp) post(t *testing.T, path, body string) (int, envelope) {
	t.Helper()
	resp, err := http.Post(a.server.URL+path, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func (a *testApp) get(t *testing.T, path string) (int, envelope) {
	t.Helper()
	resp, err := http.Get(a.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

type walletData struct {
	ID      string `json:"id"`
	UserID  string `json:"user_id"`
	Balance string `json:"balance"`
}

type txnData struct {
	ID          string  `json:"id"`
	Status      string  `json:"status"`
	ExternalRef *string `json:"external_ref"`
	PlatformFee string  `json:"platform_fee"`
}

// provisionFunded creates a wallet and mints balance into it.
func (a *testApp) provisionFunded(t *testing.T, balance string) walletData {
	t.Helper()
	userID := uuid.NewString()
	code, env := a.post(t, "/api/v1/wallets", fmt.Sprintf(`{"user_id":%q}`, userID))
	require.Equal(t, http.StatusCreated, code)
	var w walletData
	require.NoError(t, json.Unmarshal(env.Data, &w))

	if balance != "" {
		code, _ = a.post(t, "/api/v1/mints", fmt.Sprintf(
			`{"wallet_id":%q,"amount":%q,"kind":"purchase","external_ref":"seed-%s"}`,
			w.ID, balance, uuid.NewString()))
		require.Equal(t, http.StatusCreated, code)
	}
	return w
}

func (a *testApp) balanceOf(t *testing.T, userID string) string {
	t.Helper()
	code, env := a.get(t, "/api/v1/wallets/"+userID)
	require.Equal(t, http.StatusOK, code)
	var w walletData
	require.NoError(t, json.Unmarshal(env.Data, &w))
	return w.Balance
}

func TestImmediateTransfer_DebitsAndCreditsAtomically(t *testing.T) {
	app := newTestApp(t, "immediate")
	defer app.close()

	sender := app.provisionFunded(t, "500.00")
	receiver := app.provisionFunded(t, "")

	code, env := app.post(t, "/api/v1/transfers", fmt.Sprintf(
		`{"from_wallet_id":%q,"to_wallet_id":%q,"amount":"200.00","kind":"transfer"}`,
		sender.ID, receiver.ID))
	require.Equal(t, http.StatusCreated, code)

	var txn txnData
	require.NoError(t, json.Unmarshal(env.Data, &txn))
	assert.Equal(t, "confirmed", txn.Status)

	assert.Equal(t, "300.00", app.balanceOf(t, sender.UserID))
	assert.Equal(t, "200.00", app.balanceOf(t, receiver.UserID))
}

func TestTransfer_ValidationRejections(t *testing.T) {
	app := newTestApp(t, "immediate")
	defer app.close()

	sender := app.provisionFunded(t, "100.00")

	// Non-positive amount never reaches the ledger.
	code, _ := app.post(t, "/api/v1/transfers", fmt.Sprintf(
		`{"from_wallet_id":%q,"to_wallet_id":%q,"amount":"-5.00","kind":"transfer"}`,
		sender.ID, uuid.NewString()))
	assert.Equal(t, http.StatusBadRequest, code)

	// Self transfer.
	code, env := app.post(t, "/api/v1/transfers", fmt.Sprintf(
		`{"from_wallet_id":%q,"to_wallet_id":%q,"amount":"5.00","kind":"transfer"}`,
		sender.ID, sender.ID))
	assert.NotEqual(t, http.StatusCreated, code)
	assert.Equal(t, "LED_003", env.ErrorCode)

	assert.Equal(t, "100.00", app.balanceOf(t, sender.UserID))
}

func TestTransfer_InsufficientFundsLeavesNoTrace(t *testing.T) {
	app := newTestApp(t, "immediate")
	defer app.close()

	sender := app.provisionFunded(t, "50.00")
	receiver := app.provisionFunded(t, "")

	code, env := app.post(t, "/api/v1/transfers", fmt.Sprintf(
		`{"from_wallet_id":%q,"to_wallet_id":%q,"amount":"80.00","kind":"transfer"}`,
		sender.ID, receiver.ID))
	assert.NotEqual(t, http.StatusCreated, code)
	assert.Equal(t, "LED_002", env.ErrorCode)

	assert.Equal(t, "50.00", app.balanceOf(t, sender.UserID))
	assert.Equal(t, "0.00", app.balanceOf(t, receiver.UserID))

	// Only the seed mint exists on the sender's history.
	_, listEnv := app.get(t, "/api/v1/wallets/"+sender.UserID+"/transactions")
	var list struct {
		Total int64 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(listEnv.Data, &list))
	assert.Equal(t, int64(1), list.Total)
}

func TestNetworkTransfer_SettlesThroughSweep(t *testing.T) {
	app := newTestApp(t, "network")
	defer app.close()

	sender := app.provisionFunded(t, "500.00")
	receiver := app.provisionFunded(t, "")

	code, env := app.post(t, "/api/v1/transfers", fmt.Sprintf(
		`{"from_wallet_id":%q,"to_wallet_id":%q,"amount":"200.00","kind":"transfer"}`,
		sender.ID, receiver.ID))
	require.Equal(t, http.StatusAccepted, code)

	var txn txnData
	require.NoError(t, json.Unmarshal(env.Data, &txn))
	assert.Equal(t, "processing", txn.Status)
	require.NotNil(t, txn.ExternalRef)

	// Sender debited up front; receiver credited only on confirmation.
	assert.Equal(t, "300.00", app.balanceOf(t, sender.UserID))
	assert.Equal(t, "0.00", app.balanceOf(t, receiver.UserID))

	// The network confirms; the sweeper picks it up.
	app.gateway.setStatus(*txn.ExternalRef, "confirmed")
	report, err := app.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Confirmed)

	assert.Equal(t, "200.00", app.balanceOf(t, receiver.UserID))

	// A second sweep is a no-op: the credit is applied exactly once.
	report, err = app.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Confirmed)
	assert.Equal(t, "200.00", app.balanceOf(t, receiver.UserID))

	code, env = app.get(t, "/api/v1/transactions/"+txn.ID)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &txn))
	assert.Equal(t, "confirmed", txn.Status)
}

func TestNetworkTransfer_RejectionRefundsSender(t *testing.T) {
	app := newTestApp(t, "network")
	defer app.close()

	sender := app.provisionFunded(t, "500.00")
	receiver := app.provisionFunded(t, "")

	app.gateway.setSubmitCode(http.StatusUnprocessableEntity)

	code, env := app.post(t, "/api/v1/transfers", fmt.Sprintf(
		`{"from_wallet_id":%q,"to_wallet_id":%q,"amount":"200.00","kind":"transfer"}`,
		sender.ID, receiver.ID))
	assert.NotEqual(t, http.StatusAccepted, code)
	assert.Equal(t, "SET_002", env.ErrorCode)

	// Refunded synchronously.
	assert.Equal(t, "500.00", app.balanceOf(t, sender.UserID))
	assert.Equal(t, "0.00", app.balanceOf(t, receiver.UserID))
}

func TestNetworkTransfer_FailureOnSweepRefundsSender(t *testing.T) {
	app := newTestApp(t, "network")
	defer app.close()

	sender := app.provisionFunded(t, "500.00")
	receiver := app.provisionFunded(t, "")

	code, env := app.post(t, "/api/v1/transfers", fmt.Sprintf(
		`{"from_wallet_id":%q,"to_wallet_id":%q,"amount":"200.00","kind":"transfer"}`,
		sender.ID, receiver.ID))
	require.Equal(t, http.StatusAccepted, code)

	var txn txnData
	require.NoError(t, json.Unmarshal(env.Data, &txn))
	require.NotNil(t, txn.ExternalRef)

	app.gateway.setStatus(*txn.ExternalRef, "failed")
	report, err := app.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	assert.Equal(t, "500.00", app.balanceOf(t, sender.UserID))
	assert.Equal(t, "0.00", app.balanceOf(t, receiver.UserID))
}

func TestSweep_UnknownReferenceStaysPending(t *testing.T) {
	app := newTestApp(t, "network")
	defer app.close()

	sender := app.provisionFunded(t, "500.00")
	receiver := app.provisionFunded(t, "")

	_, env := app.post(t, "/api/v1/transfers", fmt.Sprintf(
		`{"from_wallet_id":%q,"to_wallet_id":%q,"amount":"200.00","kind":"transfer"}`,
		sender.ID, receiver.ID))

	var txn txnData
	require.NoError(t, json.Unmarshal(env.Data, &txn))

	// Gateway has no record yet: must not refund.
	report, err := app.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, "300.00", app.balanceOf(t, sender.UserID))
}

func TestSweep_EscalatesPastStalenessCeiling(t *testing.T) {
	app := newTestApp(t, "network")
	defer app.close()

	sender := app.provisionFunded(t, "500.00")
	senderID := uuid.MustParse(sender.ID)

	// Seed a transaction stuck since two days ago.
	ref := "stale-ref-001"
	stale := &domain.Transaction{
		ID:           uuid.New(),
		FromWalletID: &senderID,
		Kind:         domain.KindTransfer,
		Amount:       decimal.RequireFromString("50.00"),
		Status:       domain.StatusProcessing,
		ExternalRef:  &ref,
		CreatedAt:    time.Now().UTC().Add(-48 * time.Hour),
	}
	require.NoError(t, app.txRepo.Create(context.Background(), nil, stale))

	report, err := app.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Escalated)

	got, err := app.txRepo.GetByID(context.Background(), stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusManualReview, got.Status)

	// No balance moved: escalation never auto-reverses.
	assert.Equal(t, "500.00", app.balanceOf(t, sender.UserID))
}

// TestRollback_DiscardsUncommittedWrites pins the transactor's atomicity: a
// balance written inside an aborted transaction must not survive it.
func TestRollback_DiscardsUncommittedWrites(t *testing.T) {
	walletRepo := newInMemoryWalletRepo()
	txRepo := newInMemoryTransactionRepo()
	transactor := newInMemoryTransactor(walletRepo, txRepo)
	ctx := context.Background()

	w := &domain.Wallet{
		ID:       uuid.New(),
		UserID:   uuid.New(),
		Balance:  decimal.RequireFromString("100.00"),
		IsActive: true,
	}
	require.NoError(t, walletRepo.Create(ctx, w))

	tx, err := transactor.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, walletRepo.UpdateBalance(ctx, tx, w.ID,
		decimal.RequireFromString("250.00"), decimal.RequireFromString("1250.00")))
	require.NoError(t, txRepo.Create(ctx, tx, &domain.Transaction{
		ID:         uuid.New(),
		ToWalletID: &w.ID,
		Kind:       domain.KindPurchase,
		Amount:     decimal.RequireFromString("150.00"),
		Status:     domain.StatusConfirmed,
		CreatedAt:  time.Now().UTC(),
	}))
	require.NoError(t, tx.Rollback(ctx))

	got, err := walletRepo.GetByID(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("100.00").Equal(got.Balance))

	_, total, err := txRepo.ListByWallet(ctx, w.ID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}

func TestMint_SameReferenceIsRejectedOnce(t *testing.T) {
	app := newTestApp(t, "immediate")
	defer app.close()

	wallet := app.provisionFunded(t, "")

	body := fmt.Sprintf(
		`{"wallet_id":%q,"amount":"100.00","kind":"purchase","external_ref":"pay-123"}`, wallet.ID)

	code, _ := app.post(t, "/api/v1/mints", body)
	require.Equal(t, http.StatusCreated, code)

	code, env := app.post(t, "/api/v1/mints", body)
	assert.NotEqual(t, http.StatusCreated, code)
	assert.Equal(t, "INV_001", env.ErrorCode)

	// Credited exactly once.
	assert.Equal(t, "100.00", app.balanceOf(t, wallet.UserID))
}

func TestProvision_IsIdempotentPerUser(t *testing.T) {
	app := newTestApp(t, "immediate")
	defer app.close()

	userID := uuid.NewString()
	body := fmt.Sprintf(`{"user_id":%q}`, userID)

	code, env := app.post(t, "/api/v1/wallets", body)
	require.Equal(t, http.StatusCreated, code)
	var first walletData
	require.NoError(t, json.Unmarshal(env.Data, &first))

	code, env = app.post(t, "/api/v1/wallets", body)
	require.Equal(t, http.StatusCreated, code)
	var second walletData
	require.NoError(t, json.Unmarshal(env.Data, &second))

	assert.Equal(t, first.ID, second.ID)
}

func TestPlatformFee_InformationalOnly(t *testing.T) {
	app := newTestApp(t, "immediate")
	defer app.close()

	payer := app.provisionFunded(t, "200.00")
	expert := app.provisionFunded(t, "")

	code, env := app.post(t, "/api/v1/transfers", fmt.Sprintf(
		`{"from_wallet_id":%q,"to_wallet_id":%q,"amount":"100.00","kind":"expert_payment"}`,
		payer.ID, expert.ID))
	require.Equal(t, http.StatusCreated, code)

	var txn txnData
	require.NoError(t, json.Unmarshal(env.Data, &txn))
	assert.Equal(t, "5.00", txn.PlatformFee)

	// Fee is recorded, never netted: full amount moved.
	assert.Equal(t, "100.00", app.balanceOf(t, payer.UserID))
	assert.Equal(t, "100.00", app.balanceOf(t, expert.UserID))
}

// TestConcurrentTransfers_NoDoubleSpend fires two transfers that together
// exceed the sender's balance: exactly one must succeed.
func TestConcurrentTransfers_NoDoubleSpend(t *testing.T) {
	app := newTestApp(t, "immediate")
	defer app.close()

	sender := app.provisionFunded(t, "100.00")
	receiver := app.provisionFunded(t, "")

	body := fmt.Sprintf(
		`{"from_wallet_id":%q,"to_wallet_id":%q,"amount":"60.00","kind":"transfer"}`,
		sender.ID, receiver.ID)

	var wg sync.WaitGroup
	var successCount, insufficientCount atomic.Int64

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Post(app.server.URL+"/api/v1/transfers", "application/json",
				bytes.NewBufferString(body))
			if err != nil {
				return
			}
			defer resp.Body.Close()
			var env envelope
			_ = json.NewDecoder(resp.Body).Decode(&env)
			switch {
			case resp.StatusCode == http.StatusCreated:
				successCount.Add(1)
			case env.ErrorCode == "LED_002":
				insufficientCount.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), successCount.Load())
	assert.Equal(t, int64(1), insufficientCount.Load())
	assert.Equal(t, "40.00", app.balanceOf(t, sender.UserID))
	assert.Equal(t, "60.00", app.balanceOf(t, receiver.UserID))
}
