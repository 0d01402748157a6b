package pow

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"pow-node/logging"
	"pow-node/utils"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultSendInterval = 5 * time.Second
	DefaultAckTimeout   = 30 * time.Second

	ackPollInterval = 100 * time.Millisecond
)

type SenderConfig struct {
	// CallbackUrl is the coordinator's HTTP base url; batches fall back
	// to POST {CallbackUrl}/generated and {CallbackUrl}/validated.
	CallbackUrl    string
	RTarget        float64
	FraudThreshold float64
	SendInterval   time.Duration
	AckTimeout     time.Duration
}

// Sender drains the compute workers' result queues, batches their
// output and delivers it to the coordinator. Delivery prefers the
// websocket transport with per-message acks and falls back to plain
// HTTP POST. Undelivered batches are retried every tick until they
// land (at-least-once; the coordinator dedups).
//
// Sender owns its pending lists exclusively. Everything else reaches
// it through channels, so it runs as a single goroutine with no locks.
type Sender struct {
	cfg          SenderConfig
	phaseTracker *PhaseTracker

	generationQueue   <-chan ProofBatch
	validationQueue   <-chan ProofBatch
	inValidationQueue <-chan ProofBatch

	wsOut     chan<- BatchMessage
	wsAck     chan AckMessage
	connState *ConnState

	httpClient *http.Client
	clock      clockwork.Clock

	inValidation     []*InValidation
	generatedNotSent []ProofBatch
	validatedNotSent []ValidatedBatch
}

func NewSender(
	cfg SenderConfig,
	phaseTracker *PhaseTracker,
	generationQueue <-chan ProofBatch,
	validationQueue <-chan ProofBatch,
	inValidationQueue <-chan ProofBatch,
	wsOut chan<- BatchMessage,
	wsAck chan AckMessage,
	connState *ConnState,
) *Sender {
	if cfg.SendInterval <= 0 {
		cfg.SendInterval = DefaultSendInterval
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = DefaultAckTimeout
	}
	return &Sender{
		cfg:               cfg,
		phaseTracker:      phaseTracker,
		generationQueue:   generationQueue,
		validationQueue:   validationQueue,
		inValidationQueue: inValidationQueue,
		wsOut:             wsOut,
		wsAck:             wsAck,
		connState:         connState,
		httpClient:        utils.NewHttpClient(30 * time.Second),
		clock:             clockwork.NewRealClock(),
	}
}

// WithClock swaps the wall clock, used by tests to drive ticks.
func (s *Sender) WithClock(clock clockwork.Clock) *Sender {
	s.clock = clock
	return s
}

// Run executes the tick loop until ctx is canceled. Cancellation is
// cooperative: an in-flight delivery attempt finishes first.
func (s *Sender) Run(ctx context.Context) {
	logging.Info("Sender started", logging.PoC, "callbackUrl", s.cfg.CallbackUrl)
	for {
		s.tick()

		select {
		case <-ctx.Done():
			logging.Info("Sender stopped", logging.PoC)
			return
		case <-s.clock.After(s.cfg.SendInterval):
		}
	}
}

func (s *Sender) tick() {
	switch s.phaseTracker.Phase() {
	case PhaseGenerate:
		generated := MergeProofBatches(drainQueue(s.generationQueue))
		if !generated.IsEmpty() {
			s.generatedNotSent = append(s.generatedNotSent, generated)
		}
		s.sendGenerated()
	case PhaseValidate:
		s.validatedNotSent = append(s.validatedNotSent, s.collectValidated()...)
		s.dropReadyValidations()
		s.sendValidated()
	}

	pendingBatches.WithLabelValues(BatchTypeGenerated).Set(float64(len(s.generatedNotSent)))
	pendingBatches.WithLabelValues(BatchTypeValidated).Set(float64(len(s.validatedNotSent)))
	openValidations.Set(float64(len(s.inValidation)))
}

// collectValidated feeds every queued validation result into every
// open accumulator and returns the ones that completed this tick.
func (s *Sender) collectValidated() []ValidatedBatch {
	for _, seed := range drainQueue(s.inValidationQueue) {
		s.inValidation = append(s.inValidation, NewInValidation(seed))
	}

	for _, batch := range drainQueue(s.validationQueue) {
		for _, inVal := range s.inValidation {
			inVal.Process(batch)
		}
	}

	var ready []ValidatedBatch
	for _, inVal := range s.inValidation {
		if inVal.IsReady() {
			ready = append(ready, inVal.Validated(s.cfg.RTarget, s.cfg.FraudThreshold))
		}
	}
	return ready
}

func (s *Sender) dropReadyValidations() {
	open := s.inValidation[:0]
	for _, inVal := range s.inValidation {
		if !inVal.IsReady() {
			open = append(open, inVal)
		}
	}
	s.inValidation = open
}

func (s *Sender) sendGenerated() {
	var failed []ProofBatch
	for _, batch := range s.generatedNotSent {
		if s.trySendViaWebsocket(BatchTypeGenerated, batch) {
			continue
		}
		if err := s.sendViaHttp(BatchTypeGenerated, batch); err != nil {
			failed = append(failed, batch)
			logging.Error("Failed to send generated batch", logging.PoC, "url", s.cfg.CallbackUrl, "error", err)
		}
	}
	s.generatedNotSent = failed
}

func (s *Sender) sendValidated() {
	var failed []ValidatedBatch
	for _, batch := range s.validatedNotSent {
		if s.trySendViaWebsocket(BatchTypeValidated, batch) {
			continue
		}
		if err := s.sendViaHttp(BatchTypeValidated, batch); err != nil {
			failed = append(failed, batch)
			logging.Error("Failed to send validated batch", logging.PoC, "url", s.cfg.CallbackUrl, "error", err)
		}
	}
	s.validatedNotSent = failed
}

// trySendViaWebsocket pushes the batch onto the transport's outbound
// queue and waits for a matching ack. Acks for other in-flight
// deliveries are held aside and re-queued so concurrent deliveries
// don't lose each other's acks; acks older than twice the timeout are
// dropped as stale. Any miss here is not an error, just the trigger
// for HTTP fallback.
func (s *Sender) trySendViaWebsocket(batchType string, batch any) bool {
	if s.connState == nil || !s.connState.IsConnected() {
		return false
	}
	if s.wsOut == nil || s.wsAck == nil {
		return false
	}

	batchId := uuid.New().String()
	message := BatchMessage{
		Type:  batchType,
		Batch: batch,
		Id:    batchId,
	}

	select {
	case s.wsOut <- message:
	default:
		logging.Debug("WebSocket queue is full, falling back to HTTP", logging.PoC)
		return false
	}

	logging.Info("Sent batch via WebSocket, waiting for ack", logging.PoC, "type", batchType, "id", batchId)

	start := s.clock.Now()
	deadline := start.Add(s.cfg.AckTimeout)
	maxAckAge := 2 * s.cfg.AckTimeout
	var collected []AckMessage

	for s.clock.Now().Before(deadline) {
		select {
		case ack := <-s.wsAck:
			if ack.Id == batchId {
				logging.Info("Received ack via WebSocket", logging.PoC, "type", batchType, "id", batchId)
				batchesSent.WithLabelValues(batchType, "websocket").Inc()
				s.requeueAcks(collected)
				return true
			}
			age := s.ackAge(ack, start)
			if age < maxAckAge {
				collected = append(collected, ack)
			} else {
				logging.Debug("Discarding stale ack", logging.PoC, "id", ack.Id, "age", age)
			}
		case <-s.clock.After(ackPollInterval):
		}
	}

	logging.Warn("Timeout waiting for ack via WebSocket", logging.PoC,
		"type", batchType, "id", batchId, "timeout", s.cfg.AckTimeout)
	ackTimeouts.Inc()
	s.requeueAcks(collected)
	return false
}

func (s *Sender) ackAge(ack AckMessage, fallback time.Time) time.Duration {
	if ack.Timestamp == 0 {
		// Transport didn't stamp it; measure from this attempt's start.
		return s.clock.Now().Sub(fallback)
	}
	stamped := time.Unix(0, int64(ack.Timestamp*float64(time.Second)))
	return s.clock.Now().Sub(stamped)
}

func (s *Sender) requeueAcks(acks []AckMessage) {
	for _, ack := range acks {
		select {
		case s.wsAck <- ack:
		default:
			logging.Debug("Could not re-queue ack: queue full", logging.PoC, "id", ack.Id)
		}
	}
}

func (s *Sender) sendViaHttp(batchType string, batch any) error {
	url := fmt.Sprintf("%s/%s", s.cfg.CallbackUrl, batchType)
	logging.Info("Sending batch via HTTP", logging.PoC, "type", batchType, "url", url)

	resp, err := utils.SendPostJsonRequest(s.httpClient, url, batch)
	if err != nil {
		deliveryFailures.WithLabelValues(batchType).Inc()
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		deliveryFailures.WithLabelValues(batchType).Inc()
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	batchesSent.WithLabelValues(batchType, "http").Inc()
	logging.Info("Successfully sent batch via HTTP", logging.PoC, "type", batchType)
	return nil
}

// drainQueue empties everything currently buffered without blocking.
func drainQueue[T any](queue <-chan T) []T {
	var items []T
	for {
		select {
		case item, ok := <-queue:
			if !ok {
				return items
			}
			items = append(items, item)
		default:
			return items
		}
	}
}
