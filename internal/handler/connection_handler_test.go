package handler

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"visa-instrument/internal/simulator"
	"visa-instrument/internal/storage"
)

type session struct {
	t      *testing.T
	conn   net.Conn
	r      *bufio.Reader
	events *storage.Recorder
	done   chan struct{}
}

func newSession(t *testing.T, device string) *session {
	t.Helper()
	sim, err := simulator.New(simulator.DefaultOptions(device))
	if err != nil {
		t.Fatal(err)
	}
	log := logrus.New()
	log.SetOutput(io.Discard)

	server, client := net.Pipe()
	rec := storage.NewRecorder(64)
	h := NewConnectionHandler(server, sim, storage.Fanout{rec}, log, Settings{ReadTimeout: 50 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{t: t, conn: client, r: bufio.NewReader(client), events: rec, done: make(chan struct{})}
	go func() {
		h.Handle(ctx)
		close(s.done)
	}()
	t.Cleanup(func() {
		cancel()
		client.Close()
		<-s.done
	})
	return s
}

func (s *session) send(text string) {
	s.t.Helper()
	s.conn.SetWriteDeadline(time.Now().Add(time.Second))
	if _, err := s.conn.Write([]byte(text)); err != nil {
		s.t.Fatalf("write %q: %v", text, err)
	}
}

func (s *session) readLine() string {
	s.t.Helper()
	s.conn.SetReadDeadline(time.Now().Add(time.Second))
	line, err := s.r.ReadString('\n')
	if err != nil {
		s.t.Fatalf("read: %v", err)
	}
	return strings.TrimSuffix(line, "\n")
}

func (s *session) query(cmd string) string {
	s.t.Helper()
	s.send(cmd + "\n")
	return s.readLine()
}

func TestHandleQueryAndWrite(t *testing.T) {
	s := newSession(t, simulator.DeviceDAQ)

	if got := s.query("*IDN?"); !strings.Contains(got, "34970A") {
		t.Fatalf("*IDN? = %q", got)
	}
	s.send("ROUT:CLOS (@101,102)\n")
	if got := s.query("ROUT:CLOS? (@101,102,103)"); got != "1,1,0" {
		t.Fatalf("ROUT:CLOS? = %q", got)
	}
}

func TestHandleSplitsAndCarries(t *testing.T) {
	s := newSession(t, simulator.DeviceDAQ)

	s.send("*CLS;ROUT:DONE?\r\n")
	if got := s.readLine(); got != "1" {
		t.Fatalf("ROUT:DONE? = %q", got)
	}

	s.send("*ID")
	s.send("N?\n")
	if got := s.readLine(); !strings.HasPrefix(got, "AGILENT") {
		t.Fatalf("split *IDN? = %q", got)
	}
}

func TestHandleErrorsSetStatus(t *testing.T) {
	s := newSession(t, simulator.DeviceDAQ)

	s.send("BOGUS:CMD 1\n")
	if got := s.query("*ESR?"); got != "32" {
		t.Fatalf("unknown write ESR = %q", got)
	}

	if got := s.query("BOGUS:CMD?"); got != "-100" {
		t.Fatalf("unknown query = %q", got)
	}
	if got := s.query("*ESR?"); got != "4" {
		t.Fatalf("unknown query ESR = %q", got)
	}

	s.send("::\n")
	if got := s.query("*ESR?"); got != "32" {
		t.Fatalf("malformed header ESR = %q", got)
	}
}

func TestHandleMalformedQueryStillReplies(t *testing.T) {
	s := newSession(t, simulator.DeviceDAQ)

	for _, line := range []string{"ROUT::OPEN? (@101)", "?"} {
		if got := s.query(line); got != "-100" {
			t.Fatalf("%q = %q, want -100", line, got)
		}
		if got := s.query("*ESR?"); got != "4" {
			t.Fatalf("%q ESR = %q, want query error", line, got)
		}
	}
}

func TestHandlePublishesWrites(t *testing.T) {
	s := newSession(t, simulator.DeviceDAQ)

	s.send("ROUT:CLOS (@105)\n")
	s.query("ROUT:CLOS? (@105)")

	select {
	case ev := <-s.events.Events():
		if ev.Device != simulator.DeviceDAQ || ev.Command != "ROUT:CLOS (@105)" || ev.Error != "" {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}

	select {
	case ev := <-s.events.Events():
		t.Fatalf("query published an event: %+v", ev)
	default:
	}
}

func TestHandleStopsOnCancel(t *testing.T) {
	sim, err := simulator.New(simulator.DefaultOptions(simulator.DevicePSU))
	if err != nil {
		t.Fatal(err)
	}
	log := logrus.New()
	log.SetOutput(io.Discard)

	server, client := net.Pipe()
	defer client.Close()
	h := NewConnectionHandler(server, sim, nil, log, Settings{ReadTimeout: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Handle(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler did not stop after cancel")
	}
}
