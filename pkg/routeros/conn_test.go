package routeros_test

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/tzrikka/gorouteros/pkg/proto"
	"github.com/tzrikka/gorouteros/pkg/routeros"
)

// connectedPair dials a client against a fakeRouter and completes a
// successful login, returning both ends ready for test-specific
// traffic.
func connectedPair(t *testing.T, opts ...routeros.Option) (*routeros.Client, *fakeRouter) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	serverConnCh := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		serverConnCh <- conn
	}()

	clientCh := make(chan *routeros.Client, 1)
	errCh := make(chan error, 1)
	go func() {
		c, err := routeros.Connect(context.Background(), ln.Addr().String(), "admin", "password", opts...)
		if err != nil {
			errCh <- err
			return
		}
		clientCh <- c
	}()

	serverConn := <-serverConnCh
	t.Cleanup(func() { serverConn.Close() })
	router := newFakeRouter(t, serverConn)
	loginTag := router.recvTag()
	router.send("!done", ".tag="+strconv.Itoa(int(loginTag)))

	select {
	case c := <-clientCh:
		t.Cleanup(func() { c.Close() })
		return c, router
	case err := <-errCh:
		t.Fatalf("Connect() error = %v", err)
		return nil, nil
	}
}

func sendCommand(t *testing.T, client *routeros.Client, tag uint16, path string) *routeros.Stream {
	t.Helper()
	cmd, err := proto.NewCommandWithTag(tag).Command(path)
	if err != nil {
		t.Fatalf("Command() error = %v", err)
	}
	built, err := cmd.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	stream, err := client.Send(context.Background(), built)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	return stream
}

func TestConcurrentCommandsAreMultiplexedByTag(t *testing.T) {
	client, router := connectedPair(t)

	s1 := sendCommand(t, client, 10, "/interface/print")
	tag1 := router.recvTag()
	s2 := sendCommand(t, client, 11, "/ip/address/print")
	tag2 := router.recvTag()

	// Respond out of submission order; each stream must still get its
	// own tag's response.
	router.send("!done", ".tag="+strconv.Itoa(int(tag2)))
	router.send("!done", ".tag="+strconv.Itoa(int(tag1)))

	r2 := <-s2.C
	if r2.Tag != 11 {
		t.Errorf("s2 got tag %d, want 11", r2.Tag)
	}
	r1 := <-s1.C
	if r1.Tag != 10 {
		t.Errorf("s1 got tag %d, want 10", r1.Tag)
	}
}

func TestTrapDeliversToStreamWithoutBreakingConnection(t *testing.T) {
	client, router := connectedPair(t)

	stream := sendCommand(t, client, 20, "/interface/bad-path")
	router.recvTag()
	router.send("!trap", ".tag=20", "=category=2", "=message=no such command")

	resp, ok := <-stream.C
	if !ok {
		t.Fatal("stream.C closed before delivering trap")
	}
	if resp.Kind != proto.ResponseTrap || resp.Message != "no such command" {
		t.Errorf("resp = %+v, want trap 'no such command'", resp)
	}

	// The connection must still be usable afterwards.
	stream2 := sendCommand(t, client, 21, "/interface/print")
	router.recvTag()
	router.send("!done", ".tag=21")
	if _, ok := <-stream2.C; !ok {
		t.Error("stream2.C closed without delivering a response")
	}
}

func TestMalformedSentenceRoutesToItsTagWithoutBreakingConnection(t *testing.T) {
	client, router := connectedPair(t)

	stream := sendCommand(t, client, 60, "/interface/print")
	router.recvTag()
	// A !trap sentence without a =message= word fails response
	// validation, but still names tag 60 - the connection must survive
	// and only that one stream should see the failure.
	router.send("!trap", ".tag=60")

	if _, ok := <-stream.C; ok {
		t.Fatal("stream.C should close without a value after a malformed sentence")
	}
	if stream.Err() == nil {
		t.Error("Err() = nil, want a protocol error")
	}

	stream2 := sendCommand(t, client, 61, "/interface/print")
	router.recvTag()
	router.send("!done", ".tag=61")
	if _, ok := <-stream2.C; !ok {
		t.Error("stream2.C closed without delivering a response after an unrelated parse error")
	}
}

func TestFatalBroadcastsToAllPendingAndEndsConnection(t *testing.T) {
	client, router := connectedPair(t)

	s1 := sendCommand(t, client, 30, "/interface/print")
	router.recvTag()
	s2 := sendCommand(t, client, 31, "/ip/address/print")
	router.recvTag()

	router.send("!fatal", "router rebooting")

	r1, ok1 := <-s1.C
	r2, ok2 := <-s2.C
	if !ok1 || !ok2 {
		t.Fatal("fatal response was not delivered to both streams")
	}
	if r1.Kind != proto.ResponseFatal || r2.Kind != proto.ResponseFatal {
		t.Errorf("r1 = %+v, r2 = %+v, want both !fatal", r1, r2)
	}
	if r1.FatalMessage != "router rebooting" {
		t.Errorf("FatalMessage = %q, want %q", r1.FatalMessage, "router rebooting")
	}
}

func TestCancelUnblocksEngineAndSendsCancelCommand(t *testing.T) {
	client, router := connectedPair(t)

	stream := sendCommand(t, client, 40, "/ping")
	router.recvTag()

	// Fill the stream's sink (capacity 16) without draining it, so the
	// engine's next delivery attempt can't succeed by sending - only
	// the cancellation case can become ready.
	for i := 0; i < 16; i++ {
		router.send("!re", ".tag=40", "=seq=filler")
	}
	// Give the engine a moment to drain these into the sink's buffer.
	time.Sleep(50 * time.Millisecond)

	stream.Cancel()

	// The engine should notice the cancellation and issue /cancel for
	// tag 40 the next time it tries (and fails) to deliver.
	router.send("!re", ".tag=40", "=seq=overflow")

	words := router.recvWords()
	foundCancelPath := false
	for _, w := range words {
		if w.Kind == proto.WordKindMessage && w.Message == "/cancel" {
			foundCancelPath = true
		}
	}
	if !foundCancelPath {
		t.Errorf("expected a /cancel command after Cancel(), got words = %+v", words)
	}
}

func TestPeerCloseDeliversConnectionErrorToEveryPendingStream(t *testing.T) {
	client, router := connectedPair(t)

	s1 := sendCommand(t, client, 70, "/interface/print")
	router.recvTag()
	s2 := sendCommand(t, client, 71, "/ip/address/print")
	router.recvTag()

	router.conn.Close()

	if _, ok := <-s1.C; ok {
		t.Error("s1.C should close without a value after the peer closed the connection")
	}
	if _, ok := <-s2.C; ok {
		t.Error("s2.C should close without a value after the peer closed the connection")
	}

	rerr1, ok := s1.Err().(*routeros.Error)
	if !ok || rerr1.Kind != routeros.KindConnection {
		t.Errorf("s1.Err() = %v, want a *routeros.Error with Kind == KindConnection", s1.Err())
	}
	rerr2, ok := s2.Err().(*routeros.Error)
	if !ok || rerr2.Kind != routeros.KindConnection {
		t.Errorf("s2.Err() = %v, want a *routeros.Error with Kind == KindConnection", s2.Err())
	}
}

func TestCloseWaitsForShutdownGrace(t *testing.T) {
	client, router := connectedPair(t, routeros.WithShutdownGrace(50*time.Millisecond))

	sendCommand(t, client, 50, "/ping")
	router.recvTag()

	start := time.Now()
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	elapsed := time.Since(start)
	if elapsed > time.Second {
		t.Errorf("Close() took %v, want it bounded by the shutdown grace period", elapsed)
	}
}

