// Package sse streams issuance and leak-detection events to dashboards.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Event types published by Tracemark.
const (
	EventIssuanceCreated = "issuance.created"
	EventLeakDetected    = "leak.detected"
	EventLeakUnknown     = "leak.unknown"
	EventLedgerUpdated   = "ledger.updated"
	EventScanFailed      = "scan.failed"
)

// clientBuffer is how many frames a dashboard may lag before frames are dropped for it.
const clientBuffer = 64

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// frame renders ev in text/event-stream wire form.
func frame(ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return nil, err
	}
	return fmt.Appendf(nil, "event: %s\ndata: %s\n\n", ev.Type, payload), nil
}

// Broker fans ledger activity out to dashboard streams.
//
// The dispatch goroutine is the only owner of the stream set and of the
// ledger.updated counter; every exported method is a request sent to it.
type Broker struct {
	summaryEvery time.Duration

	joinCh   chan chan []byte
	leaveCh  chan chan []byte
	directCh chan Event // forwarded as is
	ledgerCh chan Event // forwarded and counted towards ledger.updated
	countCh  chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker starts a broker that follows ledger events with at most one
// ledger.updated summary per summaryEvery.
func NewBroker(summaryEvery time.Duration) *Broker {
	if summaryEvery <= 0 {
		summaryEvery = 2 * time.Second
	}
	b := &Broker{
		summaryEvery: summaryEvery,
		joinCh:       make(chan chan []byte),
		leaveCh:      make(chan chan []byte),
		directCh:     make(chan Event, 256),
		ledgerCh:     make(chan Event, 256),
		countCh:      make(chan chan int),
		stopCh:       make(chan struct{}),
		stopped:      make(chan struct{}),
	}
	go b.dispatch()
	return b
}

func (b *Broker) dispatch() {
	defer close(b.stopped)

	streams := make(map[chan []byte]struct{})
	var (
		sinceSummary int
		lastSummary  time.Time
	)

	fanOut := func(ev Event) {
		msg, err := frame(ev)
		if err != nil {
			return
		}
		for s := range streams {
			select {
			case s <- msg:
			default: // lagging dashboard misses this frame
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for s := range streams {
				close(s)
			}
			return

		case s := <-b.joinCh:
			streams[s] = struct{}{}

		case s := <-b.leaveCh:
			if _, ok := streams[s]; ok {
				delete(streams, s)
				close(s)
			}

		case ev := <-b.directCh:
			fanOut(ev)

		case ev := <-b.ledgerCh:
			fanOut(ev)
			sinceSummary++
			if now := time.Now(); now.Sub(lastSummary) >= b.summaryEvery {
				fanOut(Event{Type: EventLedgerUpdated, Data: map[string]int{"events": sinceSummary}})
				lastSummary, sinceSummary = now, 0
			}

		case reply := <-b.countCh:
			reply <- len(streams)
		}
	}
}

// submit hands ev to the dispatcher unless the broker has shut down.
func (b *Broker) submit(ch chan<- Event, ev Event) {
	if b.closed.Load() {
		return
	}
	select {
	case ch <- ev:
	case <-b.stopped:
	}
}

// Close stops dispatching and ends every open stream. Safe to call twice.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers a dashboard stream. The returned channel is closed
// when the stream is unsubscribed or the broker closes.
func (b *Broker) Subscribe() chan []byte {
	s := make(chan []byte, clientBuffer)
	if b.closed.Load() {
		close(s)
		return s
	}
	select {
	case b.joinCh <- s:
	case <-b.stopped:
		close(s)
	}
	return s
}

// Unsubscribe drops a dashboard stream and closes its channel.
func (b *Broker) Unsubscribe(s chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.leaveCh <- s:
	case <-b.stopped:
	}
}

// ClientCount reports how many dashboards are attached.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}
	reply := make(chan int, 1)
	select {
	case b.countCh <- reply:
	case <-b.stopped:
		return 0
	}
	select {
	case n := <-reply:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish forwards an operational event, such as a failed inbox scan,
// without counting it as ledger activity.
func (b *Broker) Publish(ev Event) {
	b.submit(b.directCh, ev)
}

// PublishLedgerEvent forwards an issuance or scan outcome and counts it
// towards the next ledger.updated summary.
func (b *Broker) PublishLedgerEvent(kind string, data any) {
	b.submit(b.ledgerCh, Event{Type: kind, Data: data})
}

// ServeHTTP streams events to one dashboard until it disconnects.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	stream := b.Subscribe()
	defer b.Unsubscribe(stream)

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, open := <-stream:
			if !open {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
