package push

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ems-pm/project/internal/app/notify"
	"github.com/ems-pm/project/internal/contracts"
)

func recv(t *testing.T, s *Session) contracts.Envelope {
	t.Helper()
	select {
	case env := <-s.Events():
		return env
	case <-time.After(time.Second):
		t.Fatalf("session %s received nothing", s.ID)
		return contracts.Envelope{}
	}
}

func TestHub_AllSessionsOfEmployeeReceive(t *testing.T) {
	broker := notify.NewLocalBroker()
	hub := NewHub(broker, nil)
	notifier := notify.NewNotifier(broker, nil)

	first := hub.Open()
	second := hub.Open()
	other := hub.Open()
	for _, s := range []*Session{first, second} {
		if err := hub.Join(s.ID, "user_5"); err != nil {
			t.Fatalf("Join error: %v", err)
		}
	}
	if err := hub.Join(other.ID, "user_9"); err != nil {
		t.Fatalf("Join error: %v", err)
	}

	notifier.NotifyAssigned(context.Background(), 4, []int64{5}, "pending", "Task #4 has been assigned to you")

	for _, s := range []*Session{first, second} {
		env := recv(t, s)
		if env.Event != contracts.EventTaskAssigned || env.Payload.TaskID != 4 {
			t.Fatalf("unexpected envelope: %+v", env)
		}
	}
	select {
	case env := <-other.Events():
		t.Fatalf("employee 9 must not receive employee 5's event: %+v", env)
	default:
	}
}

func TestHub_SubscriptionIsRefCounted(t *testing.T) {
	broker := notify.NewLocalBroker()
	hub := NewHub(broker, nil)

	a := hub.Open()
	b := hub.Open()
	_ = hub.Join(a.ID, "user_1")
	_ = hub.Join(b.ID, "user_1")
	_ = hub.Join(b.ID, "user_1")
	if got := hub.Members("user_1"); got != 2 {
		t.Fatalf("expected 2 members, got %d", got)
	}

	if err := hub.Leave(a.ID, "user_1"); err != nil {
		t.Fatalf("Leave error: %v", err)
	}
	if got := hub.Members("user_1"); got != 1 {
		t.Fatalf("expected 1 member, got %d", got)
	}

	hub.Close(b.ID)
	if got := hub.Members("user_1"); got != 0 {
		t.Fatalf("expected topic released, got %d members", got)
	}

	// Nothing is subscribed anymore, so publishing reaches no one.
	notify.NewNotifier(broker, nil).NotifyDeleted(context.Background(), 1, []int64{1}, "gone")
	select {
	case <-b.Events():
		t.Fatalf("closed session must not receive events")
	default:
	}
}

func TestHub_UnknownSession(t *testing.T) {
	hub := NewHub(notify.NewLocalBroker(), nil)
	if err := hub.Join("nope", "user_1"); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession, got %v", err)
	}
	if err := hub.Leave("nope", "user_1"); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession, got %v", err)
	}
	hub.Close("nope")
}

func TestHub_FullBufferDropsWithoutBlocking(t *testing.T) {
	broker := notify.NewLocalBroker()
	hub := NewHub(broker, nil)
	notifier := notify.NewNotifier(broker, nil)

	s := hub.Open()
	_ = hub.Join(s.ID, "user_3")

	done := make(chan struct{})
	go func() {
		for i := 0; i < sessionBuffer+10; i++ {
			notifier.NotifyUpdated(context.Background(), int64(i), []int64{3}, "pending", "x")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publishing to a slow session blocked")
	}
	if got := len(s.events); got != sessionBuffer {
		t.Fatalf("expected full buffer of %d, got %d", sessionBuffer, got)
	}
	if first := recv(t, s); first.Payload.TaskID != 0 {
		t.Fatalf("expected oldest event kept first, got task %d", first.Payload.TaskID)
	}
}

type failingBroker struct {
	*notify.LocalBroker
}

func (failingBroker) Subscribe(string, notify.Handler) (notify.Subscription, error) {
	return nil, errors.New("broker unavailable")
}

func TestHub_SubscribeFailureLeavesSessionUnjoined(t *testing.T) {
	hub := NewHub(failingBroker{notify.NewLocalBroker()}, nil)
	s := hub.Open()
	if err := hub.Join(s.ID, "user_1"); err == nil {
		t.Fatalf("expected subscribe error")
	}
	if got := hub.Members("user_1"); got != 0 {
		t.Fatalf("expected no members, got %d", got)
	}
}

// gatedBroker holds Subscribe for one topic until release is closed.
type gatedBroker struct {
	*notify.LocalBroker
	topic   string
	entered chan struct{}
	release chan struct{}
}

func newGatedBroker(topic string) *gatedBroker {
	return &gatedBroker{
		LocalBroker: notify.NewLocalBroker(),
		topic:       topic,
		entered:     make(chan struct{}, 1),
		release:     make(chan struct{}),
	}
}

func (b *gatedBroker) Subscribe(topic string, handle notify.Handler) (notify.Subscription, error) {
	if topic == b.topic {
		b.entered <- struct{}{}
		<-b.release
	}
	return b.LocalBroker.Subscribe(topic, handle)
}

func TestHub_SlowSubscribeDoesNotBlockOtherTopics(t *testing.T) {
	broker := newGatedBroker("user_1")
	hub := NewHub(broker, nil)
	notifier := notify.NewNotifier(broker, nil)

	slow := hub.Open()
	waiter := hub.Open()
	fast := hub.Open()

	slowDone := make(chan error, 1)
	go func() { slowDone <- hub.Join(slow.ID, "user_1") }()
	<-broker.entered

	waiterDone := make(chan error, 1)
	go func() { waiterDone <- hub.Join(waiter.ID, "user_1") }()

	joined := make(chan error, 1)
	go func() { joined <- hub.Join(fast.ID, "user_2") }()
	select {
	case err := <-joined:
		if err != nil {
			t.Fatalf("Join error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("join of another topic blocked behind a pending subscribe")
	}

	notifier.NotifyAssigned(context.Background(), 7, []int64{2}, "pending", "Task #7 has been assigned to you")
	if env := recv(t, fast); env.Payload.TaskID != 7 {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if got := hub.Members("user_1"); got != 0 {
		t.Fatalf("pending topic must have no members yet, got %d", got)
	}

	close(broker.release)
	for _, done := range []chan error{slowDone, waiterDone} {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("Join error: %v", err)
			}
		case <-time.After(time.Second):
			t.Fatalf("join did not finish after subscribe completed")
		}
	}
	if got := hub.Members("user_1"); got != 2 {
		t.Fatalf("expected 2 members once subscribed, got %d", got)
	}
}

func TestHub_CloseDuringSubscribeReleasesTopic(t *testing.T) {
	broker := newGatedBroker("user_4")
	hub := NewHub(broker, nil)
	s := hub.Open()

	done := make(chan error, 1)
	go func() { done <- hub.Join(s.ID, "user_4") }()
	<-broker.entered

	hub.Close(s.ID)
	close(broker.release)

	select {
	case err := <-done:
		if !errors.Is(err, ErrUnknownSession) {
			t.Fatalf("expected ErrUnknownSession, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("join did not return")
	}

	hub.mu.Lock()
	_, held := hub.topics["user_4"]
	hub.mu.Unlock()
	if held {
		t.Fatalf("topic subscription must be released when its session closed")
	}
}
