package routes

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"poolrewards/core/events"
	"poolrewards/core/types"
)

const (
	wsWriteTimeout     = 10 * time.Second
	streamBufferLength = 256
)

// StreamMessage is one event delivered to websocket subscribers.
type StreamMessage struct {
	Sequence uint64       `json:"sequence"`
	Event    *types.Event `json:"event"`
}

type subscriber struct {
	ch     chan StreamMessage
	prefix string
}

// Stream fans committed events out to websocket subscribers. Slow
// subscribers lose messages instead of blocking the emitter.
type Stream struct {
	mu      sync.Mutex
	seq     uint64
	nextID  uint64
	subs    map[uint64]*subscriber
	dropped uint64
	logger  *slog.Logger
}

// NewStream constructs an empty hub.
func NewStream(logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{subs: make(map[uint64]*subscriber), logger: logger}
}

// Emit implements events.Emitter.
func (s *Stream) Emit(evt events.Event) {
	if s == nil || evt == nil {
		return
	}
	rendered := events.Render(evt)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	msg := StreamMessage{Sequence: s.seq, Event: rendered}
	for _, sub := range s.subs {
		if sub.prefix != "" && !strings.HasPrefix(rendered.Type, sub.prefix) {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			s.dropped++
		}
	}
}

// Subscribe registers a subscriber for events whose type starts with prefix.
// The returned cancel func must be called to release it.
func (s *Stream) Subscribe(prefix string) (<-chan StreamMessage, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	sub := &subscriber{ch: make(chan StreamMessage, streamBufferLength), prefix: prefix}
	s.subs[id] = sub
	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Subscribers reports the number of live subscriptions.
func (s *Stream) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Dropped reports how many messages were discarded for full buffers.
func (s *Stream) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// ServeHTTP upgrades the request and streams events until the client leaves.
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	prefix := strings.TrimSpace(r.URL.Query().Get("type"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx := conn.CloseRead(r.Context())
	updates, cancel := s.Subscribe(prefix)
	defer cancel()
	if err := s.pump(ctx, conn, updates); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			s.logger.Debug("event stream closed", slog.Any("error", err))
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Stream) pump(ctx context.Context, conn *websocket.Conn, updates <-chan StreamMessage) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-updates:
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := wsjson.Write(writeCtx, conn, msg)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
