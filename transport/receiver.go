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

// Receiver listens for fragments and periodically announces its listen
// port to a sender's heartbeat address so the sender keeps broadcasting to
// it.
type Receiver struct {
	conn            *net.UDPConn
	heartbeatConn   *net.UDPConn
	senderAddr      *net.UDPAddr
	heartbeatPeriod time.Duration
	dgramSize       int
	running         *atomic.Bool
}

// NewReceiver binds a listening socket at listenAddr, resolves the sender's
// heartbeat address, and starts the background heartbeat goroutine.
func NewReceiver(listenAddr, senderHeartbeatAddr string, dgramSize int, heartbeatPeriod time.Duration, running *atomic.Bool) (*Receiver, error) {
	resolvedListen, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, bcerr.Wrap(bcerr.Fatal, err, "transport: resolving listen address %s", listenAddr)
	}
	conn, err := net.ListenUDP("udp", resolvedListen)
	if err != nil {
		return nil, bcerr.Wrap(bcerr.Fatal, err, "transport: listening on %s", listenAddr)
	}
	senderAddr, err := net.ResolveUDPAddr("udp", senderHeartbeatAddr)
	if err != nil {
		conn.Close()
		return nil, bcerr.Wrap(bcerr.Fatal, err, "transport: resolving sender heartbeat address %s", senderHeartbeatAddr)
	}
	heartbeatConn, err := net.ListenUDP("udp", nil)
	if err != nil {
		conn.Close()
		return nil, bcerr.Wrap(bcerr.Fatal, err, "transport: opening heartbeat socket")
	}

	r := &Receiver{
		conn:            conn,
		heartbeatConn:   heartbeatConn,
		senderAddr:      senderAddr,
		heartbeatPeriod: heartbeatPeriod,
		dgramSize:       dgramSize,
		running:         running,
	}
	go r.heartbeatLoop()
	return r, nil
}

func (r *Receiver) heartbeatLoop() {
	_, portStr, err := net.SplitHostPort(r.conn.LocalAddr().String())
	if err != nil {
		bcerr.Logf("transport: could not determine listen port: %v", err)
		return
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		bcerr.Logf("transport: invalid listen port %q: %v", portStr, err)
		return
	}
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], uint16(port))

	for r.running.Load() {
		if _, err := r.heartbeatConn.WriteToUDP(buf[:], r.senderAddr); err != nil {
			bcerr.Logf("transport: heartbeat send failed: %v", err)
		}
		time.Sleep(r.heartbeatPeriod)
	}
}

// Receive blocks until one full block has been reassembled from incoming
// fragments, feeding each arrival into asm.
func (r *Receiver) Receive(asm *datagram.Assembler) ([]byte, error) {
	buf := make([]byte, r.dgramSize)
	for r.running.Load() {
		_ = r.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		fragment := make([]byte, n)
		copy(fragment, buf[:n])
		out, ok, insertErr := asm.Insert(fragment, time.Now())
		if insertErr != nil {
			bcerr.Logf("transport: dropping malformed fragment: %v", insertErr)
			continue
		}
		if ok {
			return out, nil
		}
	}
	return nil, bcerr.New(bcerr.Recoverable, "transport: receiver stopped")
}

// Close shuts down both of the receiver's sockets.
func (r *Receiver) Close() error {
	return bcerr.CombineClose(r.conn.Close, r.heartbeatConn.Close)
}
