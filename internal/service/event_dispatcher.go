package service

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"agroledger/config"
	"agroledger/internal/core/domain"
	"agroledger/internal/core/ports"

	"github.com/rs/zerolog"
)

// dispatchRetryIntervals spaces out redelivery attempts to the dispatcher.
var dispatchRetryIntervals = []time.Duration{
	15 * time.Second,
	60 * time.Second,
	2 * time.Minute,
	5 * time.Minute,
	10 * time.Minute,
}

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// eventEnvelope is the JSON structure posted to the dispatcher endpoint.
type eventEnvelope struct {
	Event     domain.LedgerEvent `json:"event"`
	Signature string             `json:"signature"`
}

// EventDispatcher implements ports.Notifier by posting signed events to the
// notification dispatcher. Delivery is asynchronous: Publish never blocks
// the ledger on a slow collaborator.
type EventDispatcher struct {
	url        string
	secret     string
	sigSvc     ports.SignatureService
	httpClient HTTPClient
	log        zerolog.Logger

	quit      chan struct{}
	closeOnce sync.Once
}

// NewEventDispatcher creates the outbound event notifier. When cfg has no
// dispatcher URL, events are logged and dropped.
func NewEventDispatcher(cfg config.EventsConfig, sigSvc ports.SignatureService, httpClient HTTPClient, log zerolog.Logger) *EventDispatcher {
	return &EventDispatcher{
		url:        cfg.DispatcherURL,
		secret:     cfg.SigningSecret,
		sigSvc:     sigSvc,
		httpClient: httpClient,
		log:        log,
		quit:       make(chan struct{}),
	}
}

// Close abandons in-flight redeliveries. Events the dispatcher endpoint has
// already accepted are unaffected.
func (d *EventDispatcher) Close() {
	d.closeOnce.Do(func() { close(d.quit) })
}

// Publish signs the event and hands it to the delivery goroutine.
func (d *EventDispatcher) Publish(_ context.Context, event domain.LedgerEvent) error {
	if d.url == "" {
		d.log.Debug().
			Str("event", string(event.Type)).
			Str("txn_id", event.TransactionID.String()).
			Msg("no dispatcher configured, event dropped")
		return nil
	}

	eventBytes, err := json.Marshal(event)
	if err != nil {
		return err
	}
	envelope := eventEnvelope{
		Event:     event,
		Signature: d.sigSvc.Sign(d.secret, string(eventBytes)),
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	go d.deliverWithRetries(payload, event)
	return nil
}

// deliverWithRetries posts the payload, backing off between attempts. Close
// aborts the backoff so shutdown never waits out the schedule.
func (d *EventDispatcher) deliverWithRetries(payload []byte, event domain.LedgerEvent) {
	txnID := event.TransactionID.String()

	for attempt := 0; attempt <= len(dispatchRetryIntervals); attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(dispatchRetryIntervals[attempt-1]):
			case <-d.quit:
				d.log.Info().Str("txn_id", txnID).Str("event", string(event.Type)).
					Msg("event: delivery abandoned on shutdown")
				return
			}
		}

		req, err := http.NewRequest(http.MethodPost, d.url, bytes.NewReader(payload))
		if err != nil {
			d.log.Error().Err(err).Str("txn_id", txnID).Msg("event: failed to create request")
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.httpClient.Do(req)
		if err != nil {
			d.log.Warn().Err(err).Str("txn_id", txnID).Int("attempt", attempt+1).Msg("event: delivery failed")
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			d.log.Info().
				Str("txn_id", txnID).
				Str("event", string(event.Type)).
				Int("attempt", attempt+1).
				Msg("event: delivered")
			return
		}

		d.log.Warn().
			Str("txn_id", txnID).
			Int("attempt", attempt+1).
			Int("status", resp.StatusCode).
			Msg("event: non-2xx response, retrying")
	}

	d.log.Error().Str("txn_id", txnID).Str("event", string(event.Type)).Msg("event: all retry attempts exhausted")
}
