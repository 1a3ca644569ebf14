package server

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"visa-instrument/internal/config"
	"visa-instrument/internal/simulator"
	"visa-instrument/pkg/visa"
)

func startServer(t *testing.T, device string, maxConn int) *TCPServer {
	t.Helper()
	cfg := config.GetDefaultConfig()
	cfg.Server.MaxConnections = maxConn
	cfg.Server.ReadTimeout = time.Second

	sim, err := simulator.New(simulator.DefaultOptions(device))
	if err != nil {
		t.Fatal(err)
	}
	log := logrus.New()
	log.SetOutput(io.Discard)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := NewTCPServer(cfg, sim, nil, log)
	go srv.Serve(context.Background(), ln)

	deadline := time.Now().Add(time.Second)
	for srv.Addr() == nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	t.Cleanup(func() { srv.Shutdown(2 * time.Second) })
	return srv
}

func openResource(t *testing.T, srv *TCPServer) *visa.Resource {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	r := visa.NewResource("sim", srv.Addr().String(), visa.WithDelay(0), visa.WithTimeout(time.Second), visa.WithLogger(log))
	if err := r.Open("", "", 0); err != nil {
		t.Fatal(err)
	}
	return r
}

func TestServeAsyncSweep(t *testing.T) {
	srv := startServer(t, simulator.DeviceVNA, 4)
	r := openResource(t, srv)
	defer r.Close()

	id, err := r.ID()
	if err != nil || id == "" {
		t.Fatalf("ID() = %q, %v", id, err)
	}
	if err := r.WriteAsync("SENS:SWE:MODE SING", 5*time.Millisecond, time.Second); err != nil {
		t.Fatalf("WriteAsync: %v", err)
	}
	mode, err := r.Query("SENS:SWE:MODE?")
	if err != nil || mode != "SINGLE" {
		t.Fatalf("sweep mode = %q, %v", mode, err)
	}
}

func TestServeSharesState(t *testing.T) {
	srv := startServer(t, simulator.DeviceDAQ, 4)
	a := openResource(t, srv)
	defer a.Close()
	b := openResource(t, srv)
	defer b.Close()

	if err := a.Write("ROUT:CLOS (@201)"); err != nil {
		t.Fatal(err)
	}
	closed, err := b.QueryBool("ROUT:CLOS? (@201)")
	if err != nil || !closed {
		t.Fatalf("route closed via other connection = %v, %v", closed, err)
	}
}

func TestShutdownStopsAccepting(t *testing.T) {
	srv := startServer(t, simulator.DevicePSU, 1)
	addr := srv.Addr().String()

	if err := srv.Shutdown(2 * time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
	if err == nil {
		conn.Close()
		t.Fatal("dial succeeded after shutdown")
	}
}
