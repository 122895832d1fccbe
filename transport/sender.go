package transport

import (
	"encoding/binary"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/mvarga/horstbeacon/bcerr"
	"github.com/mvarga/horstbeacon/datagram"
)

// Sender broadcasts fragmented blocks to every subscriber that has
// registered a heartbeat recently enough.
type Sender struct {
	sendConn      *net.UDPConn
	heartbeatConn *net.UDPConn
	subs          *Subscribers
	dgramSize     int
	lifetime      time.Duration
	pacing        time.Duration
	running       *atomic.Bool
}

// NewSender binds a heartbeat-listening socket at heartbeatAddr and starts
// the background goroutine that registers subscribers as their heartbeats
// arrive. running is polled by that goroutine, which exits once the caller
// clears it; Close only closes the sockets.
// Fragments of one block are sent to each subscriber pacing apart, spread
// out rather than bursted, to reduce their odds of being dropped together.
func NewSender(heartbeatAddr string, dgramSize int, lifetime, pacing time.Duration, running *atomic.Bool) (*Sender, error) {
	resolved, err := net.ResolveUDPAddr("udp", heartbeatAddr)
	if err != nil {
		return nil, bcerr.Wrap(bcerr.Fatal, err, "transport: resolving heartbeat address %s", heartbeatAddr)
	}
	heartbeatConn, err := net.ListenUDP("udp", resolved)
	if err != nil {
		return nil, bcerr.Wrap(bcerr.Fatal, err, "transport: listening for heartbeats on %s", heartbeatAddr)
	}
	sendConn, err := net.ListenUDP("udp", nil)
	if err != nil {
		heartbeatConn.Close()
		return nil, bcerr.Wrap(bcerr.Fatal, err, "transport: opening send socket")
	}

	s := &Sender{
		sendConn:      sendConn,
		heartbeatConn: heartbeatConn,
		subs:          NewSubscribers(),
		dgramSize:     dgramSize,
		lifetime:      lifetime,
		pacing:        pacing,
		running:       running,
	}
	go s.registratorLoop()
	return s, nil
}

// registratorLoop reads 2-byte port announcements and registers the
// announcing peer's (IP, announced port) as a subscriber.
func (s *Sender) registratorLoop() {
	buf := make([]byte, 2)
	for s.running.Load() {
		_ = s.heartbeatConn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, peer, err := s.heartbeatConn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		if n < 2 {
			continue
		}
		port := binary.LittleEndian.Uint16(buf[:2])
		addr := net.JoinHostPort(peer.IP.String(), strconv.Itoa(int(port)))
		s.subs.Touch(addr, s.lifetime)
		bcerr.Logf("transport: registered subscriber %s", addr)
	}
}

// Broadcast fragments data and sends every fragment to every live
// subscriber. A send error is logged and skips that subscriber's remaining
// fragments for this block; it does not abort the broadcast and is not
// returned.
func (s *Sender) Broadcast(data []byte) error {
	frags, err := datagram.Split(data, s.dgramSize)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, addrStr := range s.subs.Live(now) {
		addr, resolveErr := net.ResolveUDPAddr("udp", addrStr)
		if resolveErr != nil {
			s.subs.Remove(addrStr)
			continue
		}
		for i, frag := range frags {
			if _, writeErr := s.sendConn.WriteToUDP(frag, addr); writeErr != nil {
				bcerr.Logf("transport: send to %s failed: %v", addrStr, writeErr)
				break
			}
			if i < len(frags)-1 && s.pacing > 0 {
				time.Sleep(s.pacing)
			}
		}
	}
	return nil
}

// SubscriberCount reports the current subscriber table size.
func (s *Sender) SubscriberCount() int { return s.subs.Count() }

// HeartbeatAddr returns the address receivers should send registration
// heartbeats to.
func (s *Sender) HeartbeatAddr() string { return s.heartbeatConn.LocalAddr().String() }

// Close shuts down both of the sender's sockets.
func (s *Sender) Close() error {
	return bcerr.CombineClose(s.sendConn.Close, s.heartbeatConn.Close)
}
