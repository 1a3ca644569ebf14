package storage

import (
	"context"
	"errors"
	"testing"

	"visa-instrument/pkg/protocol"
)

type failingSink struct {
	err    error
	closed bool
}

func (s *failingSink) Publish(ctx context.Context, event *protocol.StateEvent) error { return s.err }
func (s *failingSink) Close() error {
	s.closed = true
	return s.err
}

func TestFanoutContinuesAfterFailure(t *testing.T) {
	boom := errors.New("broker down")
	bad := &failingSink{err: boom}
	rec := NewRecorder(4)
	sinks := Fanout{bad, rec}

	event := &protocol.StateEvent{Device: "daq", Command: "ROUT:CLOS (@101)"}
	err := sinks.Publish(context.Background(), event)
	if !errors.Is(err, boom) {
		t.Fatalf("Publish err = %v, want %v", err, boom)
	}
	select {
	case got := <-rec.Events():
		if got != event {
			t.Fatalf("recorded %+v", got)
		}
	default:
		t.Fatal("recorder did not receive the event")
	}

	if err := sinks.Close(); !errors.Is(err, boom) {
		t.Fatalf("Close err = %v", err)
	}
	if !bad.closed {
		t.Fatal("failing sink was not closed")
	}
}

func TestRecorderDropsWhenFull(t *testing.T) {
	rec := NewRecorder(1)
	for i := 0; i < 3; i++ {
		if err := rec.Publish(context.Background(), &protocol.StateEvent{Device: "psu"}); err != nil {
			t.Fatal(err)
		}
	}
	if n := len(rec.Events()); n != 1 {
		t.Fatalf("buffered %d events, want 1", n)
	}
}

func TestSinkNames(t *testing.T) {
	cases := []struct {
		sink EventSink
		want string
	}{
		{&MessageQueue{}, "redis"},
		{&MQTTPublisher{}, "mqtt"},
		{NewRecorder(1), "memory"},
		{&failingSink{}, "other"},
	}
	for _, c := range cases {
		if got := sinkName(c.sink); got != c.want {
			t.Errorf("sinkName(%T) = %q, want %q", c.sink, got, c.want)
		}
	}
}

func TestEventTopic(t *testing.T) {
	if got := eventTopic("", "vna"); got != "visa/events/vna" {
		t.Fatalf("default topic = %q", got)
	}
	if got := eventTopic("lab/bench1", "daq"); got != "lab/bench1/daq" {
		t.Fatalf("topic = %q", got)
	}
}
