package transport

import (
	"bytes"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mvarga/horstbeacon/datagram"
)

func TestSubscribersLivePrunesExpired(t *testing.T) {
	subs := NewSubscribers()
	subs.Touch("127.0.0.1:1111", time.Millisecond)
	subs.Touch("127.0.0.1:2222", time.Hour)

	time.Sleep(5 * time.Millisecond)
	live := subs.Live(time.Now())
	if len(live) != 1 || live[0] != "127.0.0.1:2222" {
		t.Fatalf("expected only the long-lived subscriber, got %v", live)
	}
	if subs.Count() != 1 {
		t.Fatalf("expected expired subscriber to be pruned, count=%d", subs.Count())
	}
}

func TestSenderReceiverEndToEnd(t *testing.T) {
	var running atomic.Bool
	running.Store(true)

	sender, err := NewSender("127.0.0.1:0", 64, 2*time.Second, 0, &running)
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	defer sender.Close()

	heartbeatAddr := sender.HeartbeatAddr()
	receiver, err := NewReceiver("127.0.0.1:0", heartbeatAddr, 64, 20*time.Millisecond, &running)
	if err != nil {
		t.Fatalf("NewReceiver: %v", err)
	}
	defer receiver.Close()

	// Give the receiver's heartbeat goroutine time to register.
	deadline := time.Now().Add(2 * time.Second)
	for sender.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sender.SubscriberCount() == 0 {
		t.Fatal("receiver never registered as a subscriber")
	}

	asm := datagram.NewAssembler(64, time.Minute)
	payload := bytes.Repeat([]byte("broadcast-payload-"), 10)

	resultCh := make(chan []byte, 1)
	go func() {
		out, err := receiver.Receive(asm)
		if err != nil {
			return
		}
		resultCh <- out
	}()

	// Retry the broadcast briefly in case the first send races the
	// receiver's socket setup.
	for i := 0; i < 5; i++ {
		if err := sender.Broadcast(payload); err != nil {
			t.Fatalf("Broadcast: %v", err)
		}
		select {
		case got := <-resultCh:
			if !bytes.Equal(got, payload) {
				t.Fatalf("received payload mismatch: got %d bytes want %d", len(got), len(payload))
			}
			running.Store(false)
			return
		case <-time.After(200 * time.Millisecond):
		}
	}
	running.Store(false)
	t.Fatal("receiver never reassembled the broadcast payload")
}

func TestBroadcastPacesFragmentsBetweenSends(t *testing.T) {
	var running atomic.Bool
	running.Store(true)

	const pacing = 20 * time.Millisecond
	sender, err := NewSender("127.0.0.1:0", 64, time.Minute, pacing, &running)
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	defer sender.Close()
	running.Store(false)

	heartbeatAddr := sender.HeartbeatAddr()
	receiver, err := NewReceiver("127.0.0.1:0", heartbeatAddr, 64, time.Minute, &running)
	if err != nil {
		t.Fatalf("NewReceiver: %v", err)
	}
	defer receiver.Close()
	sender.subs.Touch(receiver.conn.LocalAddr().String(), time.Minute)

	payload := bytes.Repeat([]byte("x"), 64*4)
	start := time.Now()
	if err := sender.Broadcast(payload); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	elapsed := time.Since(start)
	if elapsed < 3*pacing {
		t.Fatalf("expected at least %v of pacing delay across fragments, took %v", 3*pacing, elapsed)
	}
}
