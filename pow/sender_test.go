package pow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type coordinatorStub struct {
	mu        sync.Mutex
	failFirst int
	generated []ProofBatch
	validated []ValidatedBatch
	server    *httptest.Server
}

func newCoordinatorStub(t *testing.T, failFirst int) *coordinatorStub {
	t.Helper()
	stub := &coordinatorStub{failFirst: failFirst}
	mux := http.NewServeMux()
	mux.HandleFunc("/generated", func(w http.ResponseWriter, r *http.Request) {
		stub.mu.Lock()
		defer stub.mu.Unlock()
		if stub.failFirst > 0 {
			stub.failFirst--
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		var batch ProofBatch
		require.NoError(t, json.NewDecoder(r.Body).Decode(&batch))
		stub.generated = append(stub.generated, batch)
	})
	mux.HandleFunc("/validated", func(w http.ResponseWriter, r *http.Request) {
		stub.mu.Lock()
		defer stub.mu.Unlock()
		if stub.failFirst > 0 {
			stub.failFirst--
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		var batch ValidatedBatch
		require.NoError(t, json.NewDecoder(r.Body).Decode(&batch))
		stub.validated = append(stub.validated, batch)
	})
	stub.server = httptest.NewServer(mux)
	t.Cleanup(stub.server.Close)
	return stub
}

func (s *coordinatorStub) generatedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.generated)
}

func (s *coordinatorStub) validatedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.validated)
}

type senderFixture struct {
	sender            *Sender
	phaseTracker      *PhaseTracker
	generationQueue   chan ProofBatch
	validationQueue   chan ProofBatch
	inValidationQueue chan ProofBatch
	wsOut             chan BatchMessage
	wsAck             chan AckMessage
	connState         *ConnState
}

func newSenderFixture(t *testing.T, callbackUrl string) *senderFixture {
	t.Helper()
	f := &senderFixture{
		phaseTracker:      NewPhaseTracker(),
		generationQueue:   make(chan ProofBatch, 16),
		validationQueue:   make(chan ProofBatch, 16),
		inValidationQueue: make(chan ProofBatch, 16),
		wsOut:             make(chan BatchMessage, 16),
		wsAck:             make(chan AckMessage, 16),
		connState:         &ConnState{},
	}
	f.sender = NewSender(
		SenderConfig{
			CallbackUrl:    callbackUrl,
			RTarget:        1.0,
			FraudThreshold: 0.01,
			AckTimeout:     200 * time.Millisecond,
		},
		f.phaseTracker,
		f.generationQueue,
		f.validationQueue,
		f.inValidationQueue,
		f.wsOut,
		f.wsAck,
		f.connState,
	)
	return f
}

func TestSenderDeliversGeneratedViaHttp(t *testing.T) {
	stub := newCoordinatorStub(t, 0)
	f := newSenderFixture(t, stub.server.URL)
	f.phaseTracker.SetPhase(PhaseGenerate)

	f.generationQueue <- batchWithRecords([]int64{1}, []float64{0.1})
	f.generationQueue <- batchWithRecords([]int64{2}, []float64{0.2})
	f.sender.tick()

	// Both queued batches merge into a single delivery.
	require.Equal(t, 1, stub.generatedCount())
	assert.Equal(t, 2, stub.generated[0].Len())
	assert.Empty(t, f.sender.generatedNotSent)
}

func TestSenderRetriesUntilHttpSucceeds(t *testing.T) {
	stub := newCoordinatorStub(t, 2)
	f := newSenderFixture(t, stub.server.URL)
	f.phaseTracker.SetPhase(PhaseGenerate)

	f.generationQueue <- batchWithRecords([]int64{1}, []float64{0.1})

	f.sender.tick()
	assert.Len(t, f.sender.generatedNotSent, 1, "batch must stay pending after first failure")

	f.sender.tick()
	assert.Len(t, f.sender.generatedNotSent, 1, "batch must stay pending after second failure")

	f.sender.tick()
	assert.Empty(t, f.sender.generatedNotSent)
	assert.Equal(t, 1, stub.generatedCount())
}

func TestSenderKeepsFailedBatchesAheadOfNewOnes(t *testing.T) {
	stub := newCoordinatorStub(t, 1)
	f := newSenderFixture(t, stub.server.URL)
	f.phaseTracker.SetPhase(PhaseGenerate)

	f.generationQueue <- batchWithRecords([]int64{1}, []float64{0.1})
	f.sender.tick()
	require.Len(t, f.sender.generatedNotSent, 1)

	f.generationQueue <- batchWithRecords([]int64{2}, []float64{0.2})
	f.sender.tick()

	require.Equal(t, 2, stub.generatedCount())
	assert.Equal(t, []int64{1}, stub.generated[0].Nonces)
	assert.Equal(t, []int64{2}, stub.generated[1].Nonces)
}

func TestSenderWebsocketDeliveryWithAck(t *testing.T) {
	stub := newCoordinatorStub(t, 0)
	f := newSenderFixture(t, stub.server.URL)
	f.phaseTracker.SetPhase(PhaseGenerate)
	require.True(t, f.connState.TryAttach())

	// Fake transport: ack whatever shows up on the outbound queue.
	done := make(chan struct{})
	go func() {
		defer close(done)
		message := <-f.wsOut
		f.wsAck <- AckMessage{Type: MessageTypeAck, Id: message.Id}
	}()

	f.generationQueue <- batchWithRecords([]int64{1}, []float64{0.1})
	f.sender.tick()
	<-done

	assert.Empty(t, f.sender.generatedNotSent)
	assert.Equal(t, 0, stub.generatedCount(), "websocket delivery must not hit HTTP")
}

func TestSenderFallsBackToHttpOnAckTimeout(t *testing.T) {
	stub := newCoordinatorStub(t, 0)
	f := newSenderFixture(t, stub.server.URL)
	f.phaseTracker.SetPhase(PhaseGenerate)
	require.True(t, f.connState.TryAttach())

	f.generationQueue <- batchWithRecords([]int64{1}, []float64{0.1})
	f.sender.tick()

	// No ack ever arrives: the message sits on the outbound queue and
	// the batch goes out over HTTP instead.
	assert.Equal(t, 1, stub.generatedCount())
	assert.Empty(t, f.sender.generatedNotSent)
	assert.Len(t, f.wsOut, 1)
}

func TestSenderRequeuesForeignAcks(t *testing.T) {
	stub := newCoordinatorStub(t, 0)
	f := newSenderFixture(t, stub.server.URL)
	f.phaseTracker.SetPhase(PhaseGenerate)
	require.True(t, f.connState.TryAttach())

	foreign := AckMessage{
		Type:      MessageTypeAck,
		Id:        "someone-elses-delivery",
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
	}
	f.wsAck <- foreign

	f.generationQueue <- batchWithRecords([]int64{1}, []float64{0.1})
	f.sender.tick()

	require.Len(t, f.wsAck, 1)
	requeued := <-f.wsAck
	assert.Equal(t, foreign.Id, requeued.Id)
}

func TestSenderDiscardsStaleAcks(t *testing.T) {
	stub := newCoordinatorStub(t, 0)
	f := newSenderFixture(t, stub.server.URL)
	f.phaseTracker.SetPhase(PhaseGenerate)
	require.True(t, f.connState.TryAttach())

	stale := AckMessage{
		Type:      MessageTypeAck,
		Id:        "long-gone-delivery",
		Timestamp: float64(time.Now().Add(-time.Minute).UnixNano()) / float64(time.Second),
	}
	f.wsAck <- stale

	f.generationQueue <- batchWithRecords([]int64{1}, []float64{0.1})
	f.sender.tick()

	assert.Empty(t, f.wsAck, "acks older than twice the timeout are dropped")
}

func TestSenderSkipsWebsocketWhenQueueFull(t *testing.T) {
	stub := newCoordinatorStub(t, 0)
	f := newSenderFixture(t, stub.server.URL)
	f.phaseTracker.SetPhase(PhaseGenerate)
	require.True(t, f.connState.TryAttach())

	// Saturate the outbound queue so the non-blocking push fails.
	for i := 0; i < cap(f.wsOut); i++ {
		f.wsOut <- BatchMessage{Type: BatchTypeGenerated, Id: "filler"}
	}

	f.generationQueue <- batchWithRecords([]int64{1}, []float64{0.1})
	f.sender.tick()

	assert.Equal(t, 1, stub.generatedCount())
	assert.Empty(t, f.sender.generatedNotSent)
}

func TestSenderValidationPipeline(t *testing.T) {
	stub := newCoordinatorStub(t, 0)
	f := newSenderFixture(t, stub.server.URL)
	f.phaseTracker.SetPhase(PhaseValidate)

	seed := batchWithRecords([]int64{1, 2}, []float64{0.4, 0.5})
	f.inValidationQueue <- seed

	// First tick opens the accumulator; nothing is complete yet.
	f.sender.tick()
	require.Len(t, f.sender.inValidation, 1)
	assert.Equal(t, 0, stub.validatedCount())

	f.validationQueue <- batchWithRecords([]int64{1, 2}, []float64{0.4, 0.5})
	f.sender.tick()

	require.Equal(t, 1, stub.validatedCount())
	validated := stub.validated[0]
	assert.Equal(t, int64(0), validated.NInvalid)
	assert.False(t, validated.FraudDetected)
	assert.Empty(t, f.sender.inValidation, "ready accumulators are dropped from the in-flight list")
	assert.Empty(t, f.sender.validatedNotSent)
}

func TestSenderIdlePhaseDoesNothing(t *testing.T) {
	stub := newCoordinatorStub(t, 0)
	f := newSenderFixture(t, stub.server.URL)

	f.generationQueue <- batchWithRecords([]int64{1}, []float64{0.1})
	f.sender.tick()

	assert.Equal(t, 0, stub.generatedCount())
	assert.Len(t, f.generationQueue, 1, "idle phase must not drain the queues")
}

func TestSenderRunStopsOnContextCancel(t *testing.T) {
	stub := newCoordinatorStub(t, 0)
	f := newSenderFixture(t, stub.server.URL)
	clock := clockwork.NewFakeClock()
	f.sender.WithClock(clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.sender.Run(ctx)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sender did not stop after context cancellation")
	}
}
