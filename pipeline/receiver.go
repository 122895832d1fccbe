package pipeline

import (
	"sync/atomic"
	"time"

	"github.com/mvarga/horstbeacon/bcerr"
	"github.com/mvarga/horstbeacon/blocksign"
	"github.com/mvarga/horstbeacon/datagram"
	"github.com/mvarga/horstbeacon/diag"
	"github.com/mvarga/horstbeacon/transport"
)

// DeliveredBlock is a verified payload handed to downstream consumers.
type DeliveredBlock struct {
	Payload []byte
	State   blocksign.VerifyState
}

// ReceiverPipeline reassembles incoming fragments, verifies each completed
// block, and delivers payloads on a bounded output channel. By default it
// delivers every payload regardless of verification state, annotated with
// that state, so the consumer can render trust level in its UI; StrictMode
// instead suppresses Unverified payloads entirely.
type ReceiverPipeline struct {
	receiver   *transport.Receiver
	asm        *datagram.Assembler
	verifier   *blocksign.Verifier
	sink       diag.Sink
	out        chan DeliveredBlock
	running    *atomic.Bool
	StrictMode bool
}

// NewReceiverPipeline builds a receiver pipeline with an output queue of
// the given capacity. Unverified payloads are delivered (not suppressed)
// unless StrictMode is set to true on the returned pipeline.
func NewReceiverPipeline(receiver *transport.Receiver, asm *datagram.Assembler, verifier *blocksign.Verifier, sink diag.Sink, queueSize int, running *atomic.Bool) *ReceiverPipeline {
	if sink == nil {
		sink = diag.NoopSink{}
	}
	return &ReceiverPipeline{
		receiver: receiver,
		asm:      asm,
		verifier: verifier,
		sink:     sink,
		out:      make(chan DeliveredBlock, queueSize),
		running:  running,
	}
}

// Out returns the channel delivered blocks arrive on.
func (p *ReceiverPipeline) Out() <-chan DeliveredBlock { return p.out }

// shouldDeliver reports whether a block with the given verification state
// should reach the output channel: every state does, unless StrictMode
// suppresses Unverified payloads.
func (p *ReceiverPipeline) shouldDeliver(state blocksign.VerifyState) bool {
	return state != blocksign.Unverified || !p.StrictMode
}

// Run reassembles and verifies blocks until the pipeline is stopped. It is
// meant to run in its own goroutine.
func (p *ReceiverPipeline) Run() {
	defer close(p.out)
	for p.running.Load() {
		wire, err := p.receiver.Receive(p.asm)
		if err != nil {
			if !p.running.Load() {
				return
			}
			bcerr.Logf("pipeline: receive failed: %v", err)
			continue
		}

		payload, state, sigDigest, pksDigest, err := p.verifier.Verify(wire)
		if err != nil {
			bcerr.Logf("pipeline: verify failed: %v", err)
			continue
		}
		p.sink.Emit(diag.Event{
			Time:      time.Now(),
			Role:      "receiver",
			State:     state,
			SigDigest: sigDigest,
			PksDigest: pksDigest,
		})

		if !p.shouldDeliver(state) {
			bcerr.Logf("pipeline: strict mode, discarding unverified block")
			continue
		}

		select {
		case p.out <- DeliveredBlock{Payload: payload, State: state}:
		default:
			bcerr.Logf("pipeline: output queue full, dropping delivered block")
		}
	}
}
