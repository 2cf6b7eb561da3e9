package eventbus

import (
	"fmt"
	"testing"

	"github.com/jeff4444/autoduty-backend/model"
)

func TestPublishOrderAndDoneSentinel(t *testing.T) {
	bus := NewInMemoryBus()
	ch := bus.Subscribe("inc1")

	const n = 5
	for i := 0; i < n; i++ {
		bus.Publish("inc1", model.AgentEvent{Kind: "status_change", Payload: map[string]any{"seq": i}})
	}
	bus.Close("inc1", model.StatusVerified)

	var got []model.AgentEvent
	for ev := range ch {
		got = append(got, ev)
	}

	if len(got) != n+1 {
		t.Fatalf("expected %d events plus done, got %d", n, len(got))
	}
	for i := 0; i < n; i++ {
		if got[i].Kind != "status_change" {
			t.Fatalf("event %d: expected status_change, got %s", i, got[i].Kind)
		}
		if seq := got[i].Payload["seq"].(int); seq != i {
			t.Fatalf("event %d delivered out of order: seq=%d", i, seq)
		}
	}
	last := got[n]
	if last.Kind != "done" {
		t.Fatalf("expected final done event, got %s", last.Kind)
	}
	if last.Payload["status"] != string(model.StatusVerified) {
		t.Fatalf("expected done status verified, got %v", last.Payload["status"])
	}
}

func TestSlowSubscriberDropsNewest(t *testing.T) {
	bus := NewInMemoryBus()
	ch := bus.Subscribe("inc1")

	// Overfill the buffer without draining; the publisher must never block.
	for i := 0; i < subscriberBuffer+10; i++ {
		bus.Publish("inc1", model.AgentEvent{Kind: "sandbox_output", Payload: map[string]any{"seq": i}})
	}
	bus.Close("inc1", model.StatusFailed)

	count := 0
	for ev := range ch {
		if ev.Kind == "sandbox_output" {
			if seq := ev.Payload["seq"].(int); seq != count {
				t.Fatalf("expected oldest events retained in order, got seq=%d at position %d", seq, count)
			}
			count++
		}
	}
	if count != subscriberBuffer {
		t.Fatalf("expected exactly %d buffered events, got %d", subscriberBuffer, count)
	}
}

func TestLateSubscriberGetsOnlyTerminalSignal(t *testing.T) {
	bus := NewInMemoryBus()
	bus.Publish("inc1", model.AgentEvent{Kind: "status_change"})
	bus.Close("inc1", model.StatusFailed)

	ch := bus.Subscribe("inc1")
	var got []model.AgentEvent
	for ev := range ch {
		got = append(got, ev)
	}
	if len(got) != 1 || got[0].Kind != "done" {
		t.Fatalf("expected single done event, got %+v", got)
	}
}

func TestMultipleSubscribersEachReceiveAll(t *testing.T) {
	bus := NewInMemoryBus()
	ch1 := bus.Subscribe("inc1")
	ch2 := bus.Subscribe("inc1")

	bus.Publish("inc1", model.AgentEvent{Kind: "tool_call"})
	bus.Close("inc1", model.StatusVerified)

	for i, ch := range []<-chan model.AgentEvent{ch1, ch2} {
		var kinds []string
		for ev := range ch {
			kinds = append(kinds, ev.Kind)
		}
		want := fmt.Sprintf("%v", []string{"tool_call", "done"})
		if fmt.Sprintf("%v", kinds) != want {
			t.Fatalf("subscriber %d: expected %s, got %v", i, want, kinds)
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewInMemoryBus()
	ch := bus.Subscribe("inc1")
	bus.Unsubscribe("inc1", ch)

	// Channel must be closed and publishing must not panic.
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after unsubscribe")
	}
	bus.Publish("inc1", model.AgentEvent{Kind: "status_change"})
	bus.Close("inc1", model.StatusFailed)
}

func TestPublishAfterCloseIsDiscarded(t *testing.T) {
	bus := NewInMemoryBus()
	bus.Close("inc1", model.StatusFailed)
	bus.Publish("inc1", model.AgentEvent{Kind: "status_change"}) // must not panic

	ch := bus.Subscribe("inc1")
	n := 0
	for range ch {
		n++
	}
	if n != 1 {
		t.Fatalf("expected only the terminal event, got %d events", n)
	}
}
