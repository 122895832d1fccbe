// Package diag defines an optional collaborator that observes signing and
// verification activity without participating in either: a Sink.
package diag

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/mvarga/horstbeacon/blocksign"
)

// Event is a single observation emitted after a sign or verify operation.
type Event struct {
	Time      time.Time            `json:"time"`
	Role      string               `json:"role"` // "sender" or "receiver"
	Seq       uint64               `json:"seq,omitempty"`
	State     blocksign.VerifyState `json:"state,omitempty"`
	SigDigest uint64               `json:"sig_digest,omitempty"`
	PksDigest uint64               `json:"pks_digest,omitempty"`
}

// Sink receives diagnostic events. Nothing in the signing or verification
// path depends on a Sink being present; it exists purely so an operator
// can observe what a running sender or receiver is doing.
type Sink interface {
	Emit(Event)
}

// NoopSink discards every event.
type NoopSink struct{}

// Emit implements Sink.
func (NoopSink) Emit(Event) {}

// FileSink appends newline-delimited JSON events to a file.
type FileSink struct {
	mu sync.Mutex
	f  *os.File
}

// NewFileSink opens (creating if needed) path for append-only diagnostic
// writes.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &FileSink{f: f}, nil
}

// Emit implements Sink.
func (s *FileSink) Emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	enc := json.NewEncoder(s.f)
	_ = enc.Encode(ev)
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
