package stream

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Transport is the stream-transport collaborator contract the orchestrator
// and publisher depend on.
type Transport interface {
	CreateStream(sessionID string) (string, error)
	DestroyStream(streamID string) error
	PublishEvent(streamID string, ev Event) error
}

// Broker is an in-process Transport fanning events out to subscribers.
// Subscribers with full buffers have events dropped rather than blocking the
// publisher.
type Broker struct {
	mu      sync.RWMutex
	streams map[string]*streamState
	bufSize int
	log     *slog.Logger
}

type streamState struct {
	sessionID string
	nextSub   int
	subs      map[int]chan Event
}

// NewBroker creates a broker whose subscriber channels buffer bufSize events.
func NewBroker(bufSize int, log *slog.Logger) *Broker {
	if bufSize <= 0 {
		bufSize = 256
	}
	if log == nil {
		log = slog.Default()
	}
	return &Broker{
		streams: make(map[string]*streamState),
		bufSize: bufSize,
		log:     log,
	}
}

// CreateStream allocates a stream for a session and returns its id.
func (b *Broker) CreateStream(sessionID string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	b.streams[id] = &streamState{
		sessionID: sessionID,
		subs:      make(map[int]chan Event),
	}
	b.log.Debug("stream created", "stream_id", id, "session_id", sessionID)
	return id, nil
}

// DestroyStream closes all subscriber channels and removes the stream.
// Buffered events remain readable by subscribers after close.
func (b *Broker) DestroyStream(streamID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.streams[streamID]
	if !ok {
		return nil
	}
	for _, ch := range st.subs {
		close(ch)
	}
	delete(b.streams, streamID)
	b.log.Debug("stream destroyed", "stream_id", streamID, "session_id", st.sessionID)
	return nil
}

// PublishEvent delivers an event to every subscriber of the stream.
func (b *Broker) PublishEvent(streamID string, ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st, ok := b.streams[streamID]
	if !ok {
		return fmt.Errorf("stream %s not found", streamID)
	}
	for id, ch := range st.subs {
		select {
		case ch <- ev:
		default:
			b.log.Warn("subscriber buffer full, dropping event",
				"stream_id", streamID, "subscriber", id, "event_type", string(ev.Type))
		}
	}
	return nil
}

// Subscribe attaches a consumer to a stream. The returned cancel function
// detaches the subscriber and closes its channel; it is safe to call after
// the stream was destroyed.
func (b *Broker) Subscribe(streamID string) (<-chan Event, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.streams[streamID]
	if !ok {
		return nil, nil, fmt.Errorf("stream %s not found", streamID)
	}
	id := st.nextSub
	st.nextSub++
	ch := make(chan Event, b.bufSize)
	st.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		cur, ok := b.streams[streamID]
		if !ok {
			return
		}
		if sub, ok := cur.subs[id]; ok {
			delete(cur.subs, id)
			close(sub)
		}
	}
	return ch, cancel, nil
}

// HasStream reports whether a stream id is known to the broker.
func (b *Broker) HasStream(streamID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.streams[streamID]
	return ok
}
