package invoice

import (
	"sync"

	"github.com/google/uuid"
)

// Progress stages, emitted in this order for a successful run. `error`
// replaces whatever stage the pipeline died in.
const (
	StageConverting = "converting"
	StageConverted  = "converted"
	StageScanning   = "scanning"
	StageExtracting = "extracting"
	StageCompleted  = "completed"
	StageError      = "error"
)

// ProgressEvent is one entry in a session's ordered progress stream.
type ProgressEvent struct {
	Stage         string   `json:"stage"`
	TotalPages    *int     `json:"total_pages,omitempty"`
	Page          int      `json:"page,omitempty"`
	Total         int      `json:"total,omitempty"`
	ItemsCount    *int     `json:"items_count,omitempty"`
	Supplier      *string  `json:"supplier,omitempty"`
	InvoiceNumber *string  `json:"invoice_number,omitempty"`
	TotalAmount   *float64 `json:"total_amount,omitempty"`
	Message       string   `json:"message,omitempty"`
}

// progressBuffer bounds how far an observer may lag before events are
// dropped on the floor.
const progressBuffer = 32

// ProgressHub fans pipeline progress out to whoever is watching a session.
// Publishing never blocks: with no observer attached, or an observer whose
// buffer is full, events are simply dropped and processing continues.
type ProgressHub struct {
	mu   sync.RWMutex
	subs map[uuid.UUID][]chan ProgressEvent
}

func NewProgressHub() *ProgressHub {
	return &ProgressHub{
		subs: make(map[uuid.UUID][]chan ProgressEvent),
	}
}

// Subscribe attaches an observer to a session's stream. The returned cancel
// function detaches it; the channel is closed either by cancel or when the
// pipeline finishes the session.
func (h *ProgressHub) Subscribe(sessionID uuid.UUID) (<-chan ProgressEvent, func()) {
	ch := make(chan ProgressEvent, progressBuffer)

	h.mu.Lock()
	h.subs[sessionID] = append(h.subs[sessionID], ch)
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs := h.subs[sessionID]
		for i, sub := range subs {
			if sub == ch {
				h.subs[sessionID] = append(subs[:i], subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

// Publish delivers an event to every observer of the session, dropping it
// for any observer that cannot keep up.
func (h *ProgressHub) Publish(sessionID uuid.UUID, event ProgressEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs[sessionID] {
		select {
		case ch <- event:
		default:
			// observer is lagging; the session-details read path still has
			// the final state
		}
	}
}

// Finish closes every observer channel for a session once the pipeline has
// emitted its final event.
func (h *ProgressHub) Finish(sessionID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[sessionID] {
		close(ch)
	}
	delete(h.subs, sessionID)
}
