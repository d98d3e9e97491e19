package app

import (
	"sync"

	"walletlink/go-client/pkg/models"
)

type NotificationEvent struct {
	Seq   int64
	Event models.Event
}

// EventHub fans classified wallet events out to subscribers and keeps a
// bounded history so a late subscriber can replay what it missed.
type EventHub struct {
	mu      sync.Mutex
	nextSeq int64
	limit   int
	history []NotificationEvent
	subs    map[int]chan NotificationEvent
	nextSub int
}

func NewEventHub(limit int) *EventHub {
	if limit < 1 {
		limit = 1
	}
	return &EventHub{
		limit: limit,
		subs:  make(map[int]chan NotificationEvent),
	}
}

// Publish records ev and delivers it. A subscriber that cannot keep up is
// closed and dropped.
func (h *EventHub) Publish(ev models.Event) NotificationEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextSeq++
	out := NotificationEvent{Seq: h.nextSeq, Event: ev}
	h.history = append(h.history, out)
	if len(h.history) > h.limit {
		h.history = append([]NotificationEvent(nil), h.history[len(h.history)-h.limit:]...)
	}

	for id, ch := range h.subs {
		select {
		case ch <- out:
		default:
			close(ch)
			delete(h.subs, id)
		}
	}
	return out
}

func (h *EventHub) Subscribe(fromSeq int64) ([]NotificationEvent, <-chan NotificationEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	replay := make([]NotificationEvent, 0)
	for _, ev := range h.history {
		if ev.Seq > fromSeq {
			replay = append(replay, ev)
		}
	}

	id := h.nextSub
	h.nextSub++
	ch := make(chan NotificationEvent, 64)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			close(sub)
			delete(h.subs, id)
		}
	}
	return replay, ch, cancel
}

func (h *EventHub) BacklogSize() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.history)
}
