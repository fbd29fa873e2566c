package events

import "testing"

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventTimeslotStart)

	bus.Publish(EventTimeslotStart, Payload{"mode": "irrigate"})
	bus.Publish(EventTimeslotEnd, Payload{"mode": "ignored"})

	select {
	case p := <-sub:
		if p["mode"] != "irrigate" {
			t.Errorf("payload mode = %v, want irrigate", p["mode"])
		}
	default:
		t.Fatal("expected a payload")
	}

	select {
	case p := <-sub:
		t.Fatalf("unexpected payload %v", p)
	default:
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventScheduleUpdate)
	bus.Unsubscribe(EventScheduleUpdate, sub)

	if _, ok := <-sub; ok {
		t.Error("subscriber channel still open")
	}

	// Publishing after unsubscribe must not panic on the closed channel.
	bus.Publish(EventScheduleUpdate, Payload{})
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventTimeslotEnd)

	for i := 0; i < cap(sub)+4; i++ {
		bus.Publish(EventTimeslotEnd, Payload{"i": i})
	}
	if len(sub) != cap(sub) {
		t.Errorf("buffered = %d, want %d", len(sub), cap(sub))
	}
}
