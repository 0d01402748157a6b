package pow

import "sync/atomic"

// BatchMessage is one delivery attempt pushed onto the websocket
// outbound queue. Batch is a ProofBatch or ValidatedBatch; Type tells
// the coordinator which one.
type BatchMessage struct {
	Type  string `json:"type"`
	Batch any    `json:"batch"`
	Id    string `json:"id"`
}

const (
	BatchTypeGenerated = "generated"
	BatchTypeValidated = "validated"
	MessageTypeAck     = "ack"
)

// AckMessage is the coordinator's per-message acknowledgment.
// Timestamp is unix seconds, stamped by the transport when the ack is
// read off the socket, never by the coordinator.
type AckMessage struct {
	Type      string  `json:"type"`
	Id        string  `json:"id"`
	Timestamp float64 `json:"timestamp"`
}

// ConnState says whether a coordinator is currently attached to the
// websocket endpoint. The transport is the only writer; the Sender
// only reads it to decide between websocket and HTTP delivery.
type ConnState struct {
	connected atomic.Bool
}

func (s *ConnState) IsConnected() bool {
	return s.connected.Load()
}

// TryAttach claims the single client slot. It fails when another
// coordinator connection is already attached.
func (s *ConnState) TryAttach() bool {
	return s.connected.CompareAndSwap(false, true)
}

func (s *ConnState) Detach() {
	s.connected.Store(false)
}
