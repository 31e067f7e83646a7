package integration

import (
	"testing"
	"time"
)

func TestInProcessPublisher_FanOut(t *testing.T) {
	p := NewInProcessPublisher()

	ch1, cancel1 := p.Subscribe(DriftTopic("acme"))
	defer cancel1()
	ch2, cancel2 := p.Subscribe(DriftTopic("acme"))
	defer cancel2()
	other, cancelOther := p.Subscribe(DriftTopic("globex"))
	defer cancelOther()

	p.Publish(DriftTopic("acme"), []byte("hello"))

	for i, ch := range []<-chan []byte{ch1, ch2} {
		select {
		case msg := <-ch:
			if string(msg) != "hello" {
				t.Fatalf("subscriber %d: unexpected payload %q", i, msg)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: no message", i)
		}
	}

	select {
	case msg := <-other:
		t.Fatalf("other tenant's subscriber must not receive, got %q", msg)
	default:
	}
}

func TestInProcessPublisher_NoSubscribers(t *testing.T) {
	p := NewInProcessPublisher()
	// Must not panic or block.
	p.Publish(DriftTopic("acme"), []byte("into the void"))
}

func TestInProcessPublisher_CancelClosesChannel(t *testing.T) {
	p := NewInProcessPublisher()
	ch, cancel := p.Subscribe(DriftTopic("acme"))

	cancel()
	if _, open := <-ch; open {
		t.Fatal("cancel must close the channel")
	}
	// Cancel is idempotent; publishing after cancel reaches nobody.
	cancel()
	p.Publish(DriftTopic("acme"), []byte("late"))
}

func TestInProcessPublisher_LaggingSubscriberDrops(t *testing.T) {
	var dropped bool
	orig := logPrintf
	logPrintf = func(format string, args ...any) { dropped = true }
	defer func() { logPrintf = orig }()

	p := NewInProcessPublisher()
	ch, cancel := p.Subscribe(DriftTopic("acme"))
	defer cancel()

	// Fill the buffer, then one more: the overflow drops instead of blocking.
	for i := 0; i < subscriberBuffer+1; i++ {
		p.Publish(DriftTopic("acme"), []byte{byte(i)})
	}
	if !dropped {
		t.Fatal("expected the overflow message to be dropped and logged")
	}
	if got := len(ch); got != subscriberBuffer {
		t.Fatalf("expected a full buffer of %d, got %d", subscriberBuffer, got)
	}
}
