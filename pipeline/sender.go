// Package pipeline wires the signing/transport and verification/transport
// stages together behind small bounded channels. Each pipeline runs all of
// its stages in one goroutine: SenderPipeline signs and broadcasts behind a
// bounded input queue, and ReceiverPipeline receives, reassembles and
// verifies ahead of a bounded output queue. Capture and delivery happen in
// the caller's goroutine.
package pipeline

import (
	"sync/atomic"
	"time"

	"github.com/mvarga/horstbeacon/bcerr"
	"github.com/mvarga/horstbeacon/blocksign"
	"github.com/mvarga/horstbeacon/diag"
	"github.com/mvarga/horstbeacon/transport"
)

// SenderPipeline reads raw payloads off a bounded queue, signs each one,
// and broadcasts the result.
type SenderPipeline struct {
	signer   *blocksign.Signer
	sender   *transport.Sender
	sink     diag.Sink
	in       chan []byte
	running  *atomic.Bool
	done     chan struct{}
	fatalErr error
}

// NewSenderPipeline builds a sender pipeline with a queue of the given
// capacity. sink may be diag.NoopSink{} when no diagnostics are wanted.
func NewSenderPipeline(signer *blocksign.Signer, sender *transport.Sender, sink diag.Sink, queueSize int, running *atomic.Bool) *SenderPipeline {
	if sink == nil {
		sink = diag.NoopSink{}
	}
	return &SenderPipeline{
		signer:  signer,
		sender:  sender,
		sink:    sink,
		in:      make(chan []byte, queueSize),
		running: running,
		done:    make(chan struct{}),
	}
}

// Submit enqueues a payload to be signed and broadcast. It returns false
// without blocking if the queue is full or the pipeline has stopped.
func (p *SenderPipeline) Submit(payload []byte) bool {
	if !p.running.Load() {
		return false
	}
	select {
	case p.in <- payload:
		return true
	default:
		return false
	}
}

// Run drains the queue until the pipeline is stopped and its channel
// drained, signing and broadcasting each payload in turn. It is meant to
// run in its own goroutine. A persistence failure during signing is fatal
// (the sender's on-disk state must never diverge from what it has actually
// signed under), so Run stops the whole pipeline rather than dropping that
// one payload and continuing; the error is retrievable via Err.
func (p *SenderPipeline) Run() {
	defer close(p.done)
	for payload := range p.in {
		block, err := p.signer.Sign(payload)
		if err != nil {
			if bcerr.Is(err, bcerr.Fatal) {
				bcerr.Logf("pipeline: fatal sign failure, aborting: %v", err)
				p.fatalErr = err
				p.running.Store(false)
				return
			}
			bcerr.Logf("pipeline: sign failed: %v", err)
			continue
		}
		wire, err := block.Encode()
		if err != nil {
			bcerr.Logf("pipeline: encode failed: %v", err)
			continue
		}
		if err := p.sender.Broadcast(wire); err != nil {
			bcerr.Logf("pipeline: broadcast failed: %v", err)
		}
		p.sink.Emit(diag.Event{Time: time.Now(), Seq: block.Seq, Role: "sender"})
	}
}

// Err returns the fatal error that aborted Run, or nil if the pipeline
// stopped normally (or hasn't stopped yet).
func (p *SenderPipeline) Err() error { return p.fatalErr }

// Stop closes the input queue, letting Run drain and exit.
func (p *SenderPipeline) Stop() {
	close(p.in)
	<-p.done
}
