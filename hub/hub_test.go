package hub

import (
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"collab-server/core"
)

func newTestHub(buffer int) *Hub {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return New(buffer, logger)
}

func TestPublish_DeliversToAllSubscribers(t *testing.T) {
	h := newTestHub(8)
	a := h.Subscribe("document:d1", "conn-a")
	b := h.Subscribe("document:d1", "conn-b")

	h.Publish("document:d1", core.ContentSynced("hello", 1))

	for _, sub := range []*Subscriber{a, b} {
		select {
		case ev := <-sub.Events():
			if ev.Name != core.EventContentSync {
				t.Errorf("got event %q, want %q", ev.Name, core.EventContentSync)
			}
		default:
			t.Errorf("subscriber %s received nothing", sub.ConnectionID())
		}
	}
}

func TestPublish_DoesNotCrossRooms(t *testing.T) {
	h := newTestHub(8)
	other := h.Subscribe("task:t1", "conn-a")

	h.Publish("document:d1", core.ContentSynced("hello", 1))

	select {
	case ev := <-other.Events():
		t.Errorf("subscriber of another room received %q", ev.Name)
	default:
	}
}

func TestPublish_ExcludesConnection(t *testing.T) {
	h := newTestHub(8)
	sender := h.Subscribe("document:d1", "conn-sender")
	peer := h.Subscribe("document:d1", "conn-peer")

	h.Publish("document:d1", core.ContentSynced("x", 1), ExcludeConnection("conn-sender"))

	select {
	case ev := <-sender.Events():
		t.Errorf("excluded sender received %q", ev.Name)
	default:
	}
	select {
	case <-peer.Events():
	default:
		t.Error("peer received nothing")
	}
}

func TestPublish_SlowSubscriberDoesNotBlockOthers(t *testing.T) {
	h := newTestHub(2)
	slow := h.Subscribe("document:d1", "conn-slow")
	fast := h.Subscribe("document:d1", "conn-fast")

	// Drain fast after every publish; never drain slow, whose 2-slot
	// buffer overflows after two events.
	for i := 0; i < 10; i++ {
		h.Publish("document:d1", core.ContentSynced(fmt.Sprintf("v%d", i), int64(i)))
		select {
		case ev := <-fast.Events():
			payload := ev.Payload.(core.ContentSyncPayload)
			if payload.Version != int64(i) {
				t.Fatalf("event %d out of order: version %d", i, payload.Version)
			}
		default:
			t.Fatalf("fast subscriber missed event %d", i)
		}
	}

	if h.Dropped() != 8 {
		t.Errorf("dropped = %d, want 8", h.Dropped())
	}
	if len(slow.Events()) != 2 {
		t.Errorf("slow subscriber buffered %d events, want 2", len(slow.Events()))
	}
}

func TestSubscribe_SameConnectionTwiceReturnsExisting(t *testing.T) {
	h := newTestHub(8)
	first := h.Subscribe("document:d1", "conn-a")
	second := h.Subscribe("document:d1", "conn-a")

	if first != second {
		t.Error("second Subscribe returned a new subscriber")
	}
	if h.SubscriberCount() != 1 {
		t.Errorf("SubscriberCount = %d, want 1", h.SubscriberCount())
	}
}

func TestUnsubscribe_ClosesChannel(t *testing.T) {
	h := newTestHub(8)
	sub := h.Subscribe("document:d1", "conn-a")

	h.Unsubscribe("document:d1", "conn-a")

	if _, open := <-sub.Events(); open {
		t.Error("events channel still open after Unsubscribe")
	}
	// Unknown subscription must be a no-op.
	h.Unsubscribe("document:d1", "conn-a")
	h.Unsubscribe("document:never", "conn-z")
}

func TestUnsubscribeAll_RemovesFromEveryRoom(t *testing.T) {
	h := newTestHub(8)
	h.Subscribe("document:d1", "conn-a")
	h.Subscribe("task:t1", "conn-a")
	h.Subscribe("document:d1", "conn-b")

	h.UnsubscribeAll("conn-a")

	if h.SubscriberCount() != 1 {
		t.Fatalf("SubscriberCount = %d, want 1", h.SubscriberCount())
	}
}

type recordingEmitter struct {
	mu    sync.Mutex
	calls []emitCall
}

type emitCall struct {
	room    string
	event   string
	exclude string
}

func (r *recordingEmitter) Emit(room string, ev core.Event, exclude string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, emitCall{room: room, event: ev.Name, exclude: exclude})
}

func TestPublish_ForwardsToEmitter(t *testing.T) {
	h := newTestHub(8)
	em := &recordingEmitter{}
	h.SetEmitter(em)

	h.Publish("document:d1", core.ContentSynced("x", 1), ExcludeConnection("conn-a"))

	em.mu.Lock()
	defer em.mu.Unlock()
	if len(em.calls) != 1 {
		t.Fatalf("emitter called %d times, want 1", len(em.calls))
	}
	call := em.calls[0]
	if call.room != "document:d1" || call.event != core.EventContentSync || call.exclude != "conn-a" {
		t.Errorf("unexpected emit call: %+v", call)
	}
}

func TestPublish_ConcurrentPublishersAreSerialized(t *testing.T) {
	h := newTestHub(256)
	sub := h.Subscribe("document:d1", "conn-a")

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 16; i++ {
				h.Publish("document:d1", core.ContentSynced("x", 0))
			}
		}()
	}
	wg.Wait()

	if got := len(sub.Events()); got != 128 {
		t.Errorf("subscriber buffered %d events, want 128", got)
	}
	if h.Published() != 128 {
		t.Errorf("Published = %d, want 128", h.Published())
	}
}

func TestSubscriber_LookupDoesNotCreate(t *testing.T) {
	h := newTestHub(2)

	if _, ok := h.Subscriber("document:d1", "conn-a"); ok {
		t.Fatal("lookup invented a subscription")
	}

	want := h.Subscribe("document:d1", "conn-a")
	got, ok := h.Subscriber("document:d1", "conn-a")
	if !ok || got != want {
		t.Errorf("Subscriber() = %v, %v; want the registered subscriber", got, ok)
	}
	if h.SubscriberCount() != 1 {
		t.Errorf("SubscriberCount() = %d, want 1", h.SubscriberCount())
	}
}
