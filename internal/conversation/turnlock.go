package conversation

import (
	"context"
	"sync"
)

// turnLocks serializes turns per conversation. Each conversation gets its own
// one-slot channel, dropped again once nobody holds or waits for it.
type turnLocks struct {
	mu    sync.Mutex
	slots map[string]*turnSlot
}

type turnSlot struct {
	sem  chan struct{}
	refs int
}

func newTurnLocks() *turnLocks {
	return &turnLocks{slots: make(map[string]*turnSlot)}
}

// acquire waits for the conversation's turn or for ctx to end. The returned
// func releases the turn and must be called exactly once.
func (l *turnLocks) acquire(ctx context.Context, conversationID string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[conversationID]
	if !ok {
		slot = &turnSlot{sem: make(chan struct{}, 1)}
		l.slots[conversationID] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.sem <- struct{}{}:
		return func() {
			<-slot.sem
			l.release(conversationID, slot)
		}, nil
	case <-ctx.Done():
		l.release(conversationID, slot)
		return nil, ctx.Err()
	}
}

func (l *turnLocks) release(conversationID string, slot *turnSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, conversationID)
	}
}

// active reports how many conversations currently hold or await a turn.
func (l *turnLocks) active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
