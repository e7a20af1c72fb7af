package push

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ems-pm/project/internal/app/notify"
	"github.com/ems-pm/project/internal/contracts"
	"github.com/ems-pm/project/internal/platform/logging"
	"github.com/ems-pm/project/internal/platform/metrics"
	"github.com/nats-io/nuid"
	"go.uber.org/zap"
)

var ErrUnknownSession = errors.New("unknown push session")

const sessionBuffer = 64

// Session is one connected push stream. An employee may hold several.
type Session struct {
	ID     string
	events chan contracts.Envelope
	topics map[string]struct{}
}

func (s *Session) Events() <-chan contracts.Envelope {
	return s.events
}

type topicState struct {
	sub     notify.Subscription
	members map[string]*Session
	// pending is non-nil while the broker subscription is being set up.
	pending chan struct{}
}

// Hub tracks push sessions and the topics they joined. Each topic holds a
// single broker subscription for as long as at least one session is joined.
type Hub struct {
	broker notify.Broker
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	topics   map[string]*topicState
}

func NewHub(broker notify.Broker, logger *zap.Logger) *Hub {
	logger = logging.OrNop(logger)
	return &Hub{
		broker:   broker,
		logger:   logger,
		sessions: map[string]*Session{},
		topics:   map[string]*topicState{},
	}
}

func (h *Hub) Open() *Session {
	s := &Session{
		ID:     nuid.Next(),
		events: make(chan contracts.Envelope, sessionBuffer),
		topics: map[string]struct{}{},
	}
	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()
	metrics.PushSessionsActive.Inc()
	return s
}

// Join adds the session to topic. Joining a topic twice is a no-op.
func (h *Hub) Join(sessionID, topic string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for {
		s, ok := h.sessions[sessionID]
		if !ok {
			return ErrUnknownSession
		}
		if _, joined := s.topics[topic]; joined {
			return nil
		}

		state, ok := h.topics[topic]
		if !ok {
			if err := h.subscribeLocked(topic); err != nil {
				return err
			}
			if _, alive := h.sessions[sessionID]; !alive {
				// Closed while subscribing. Waiters are still blocked on h.mu,
				// so the topic has no members yet.
				h.releaseLocked(topic, h.topics[topic])
				return ErrUnknownSession
			}
			continue
		}
		if state.pending != nil {
			pending := state.pending
			h.mu.Unlock()
			<-pending
			h.mu.Lock()
			continue
		}

		state.members[sessionID] = s
		s.topics[topic] = struct{}{}
		return nil
	}
}

// subscribeLocked registers a pending topic and subscribes with h.mu
// released, so other topics keep delivering and changing membership.
func (h *Hub) subscribeLocked(topic string) error {
	pending := make(chan struct{})
	state := &topicState{members: map[string]*Session{}, pending: pending}
	h.topics[topic] = state

	h.mu.Unlock()
	sub, err := h.broker.Subscribe(topic, func(payload []byte) {
		h.deliver(topic, payload)
	})
	h.mu.Lock()

	state.pending = nil
	close(pending)
	if err != nil {
		delete(h.topics, topic)
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	state.sub = sub
	metrics.PushTopicsActive.Inc()
	return nil
}

func (h *Hub) Leave(sessionID, topic string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[sessionID]
	if !ok {
		return ErrUnknownSession
	}
	h.leaveLocked(s, topic)
	return nil
}

// Close drops the session and every topic membership it held.
func (h *Hub) Close(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	for topic := range s.topics {
		h.leaveLocked(s, topic)
	}
	delete(h.sessions, sessionID)
	metrics.PushSessionsActive.Dec()
}

func (h *Hub) leaveLocked(s *Session, topic string) {
	if _, joined := s.topics[topic]; !joined {
		return
	}
	delete(s.topics, topic)
	state, ok := h.topics[topic]
	if !ok {
		return
	}
	delete(state.members, s.ID)
	if len(state.members) > 0 {
		return
	}
	h.releaseLocked(topic, state)
}

func (h *Hub) releaseLocked(topic string, state *topicState) {
	delete(h.topics, topic)
	metrics.PushTopicsActive.Dec()
	if err := state.sub.Unsubscribe(); err != nil {
		h.logger.Warn("unsubscribe topic failed", zap.String("topic", topic), zap.Error(err))
	}
}

// Members reports how many sessions joined topic.
func (h *Hub) Members(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if state, ok := h.topics[topic]; ok {
		return len(state.members)
	}
	return 0
}

func (h *Hub) deliver(topic string, payload []byte) {
	var env contracts.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		h.logger.Warn("drop malformed envelope", zap.String("topic", topic), zap.Error(err))
		return
	}

	h.mu.Lock()
	state, ok := h.topics[topic]
	targets := make([]*Session, 0)
	if ok {
		for _, s := range state.members {
			targets = append(targets, s)
		}
	}
	h.mu.Unlock()

	for _, s := range targets {
		select {
		case s.events <- env:
		default:
			metrics.PushEventsDropped.Inc()
		}
	}
}
