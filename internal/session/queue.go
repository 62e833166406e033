package session

import (
	"context"
	"sync"

	"hermes/internal/logging"
)

// Speaker voices update text to the user. Say reports whether the
// utterance was interrupted by new user speech before it finished.
type Speaker interface {
	Say(ctx context.Context, text string) (interrupted bool, err error)
}

// DeliveryQueue reconciles asynchronous backend updates with the
// synchronous, interruption-prone conversational turn model. Updates
// arriving while the engine is speaking or thinking are buffered FIFO;
// idle updates are voiced immediately; at most one buffered update
// surfaces per conversational turn.
type DeliveryQueue struct {
	states  StateProvider
	speaker Speaker
	logger  logging.Logger

	mu      sync.Mutex
	pending []string
}

// NewDeliveryQueue builds the queue owned by one conversational session.
func NewDeliveryQueue(states StateProvider, speaker Speaker, logger logging.Logger) *DeliveryQueue {
	return &DeliveryQueue{
		states:  states,
		speaker: speaker,
		logger:  logging.OrNop(logger),
	}
}

// Offer delivers or defers one update. Busy → enqueue and return. Idle →
// speak immediately; an interrupted or failed speak cycle re-queues the
// update, so delivery is only complete after an uninterrupted cycle.
func (q *DeliveryQueue) Offer(ctx context.Context, text string) {
	if q.states.ConversationState().Busy() {
		q.enqueue(text)
		return
	}

	interrupted, err := q.speaker.Say(ctx, text)
	if err != nil {
		q.logger.Warn("speak failed, re-queueing update: %v", err)
		q.enqueue(text)
		return
	}
	if interrupted {
		q.logger.Debug("speak interrupted, re-queueing update")
		q.enqueue(text)
	}
}

// NextForTurn pops at most one pending update at a turn boundary. The
// remaining items wait for subsequent turns, bounding per-turn latency
// while keeping delivery in order.
func (q *DeliveryQueue) NextForTurn() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return "", false
	}
	text := q.pending[0]
	q.pending = q.pending[1:]
	return text, true
}

// Len returns the number of buffered updates.
func (q *DeliveryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *DeliveryQueue) enqueue(text string) {
	q.mu.Lock()
	q.pending = append(q.pending, text)
	q.mu.Unlock()
}
