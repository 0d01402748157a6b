package pow

import "sync"

// Phase is the pipeline stage the compute workers are in.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseGenerate
	PhaseValidate
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseGenerate:
		return "Generate"
	case PhaseValidate:
		return "Validate"
	default:
		return "Invalid"
	}
}

// PhaseTracker is the shared phase cell: written by the control
// endpoints, read once per Sender tick.
type PhaseTracker struct {
	mu      sync.RWMutex
	phase   Phase
	running bool
}

func NewPhaseTracker() *PhaseTracker {
	return &PhaseTracker{phase: PhaseIdle, running: true}
}

func (t *PhaseTracker) Phase() Phase {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.phase
}

func (t *PhaseTracker) SetPhase(phase Phase) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phase = phase
}

func (t *PhaseTracker) IsRunning() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.running
}

func (t *PhaseTracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	t.phase = PhaseIdle
}
