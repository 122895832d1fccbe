// Package config gathers every deployment constant that is not a free
// parameter of a single component: directory layout, network timings, and
// the two named HORST/key-layer profiles a deployment chooses between.
package config

import (
	"time"

	"github.com/mvarga/horstbeacon/horst"
)

const (
	// IdentityDir is the default directory for persisted sender/receiver
	// state.
	IdentityDir = ".identity"
	// SenderIdentityFile is the default filename for a sender's identity.
	SenderIdentityFile = "sender.bin"
	// ReceiverIdentityFile is the default filename for a receiver's
	// identity.
	ReceiverIdentityFile = "receiver.bin"

	// DatagramSize is the default UDP fragment size, including the
	// 20-byte fragment header.
	DatagramSize = 512

	// SubscriberLifetime is how long a sender keeps broadcasting to a
	// subscriber after its last heartbeat.
	SubscriberLifetime = 10 * time.Second

	// HeartbeatPeriod is how often a receiver announces itself.
	HeartbeatPeriod = 5 * time.Second

	// ReassemblyTTL bounds how long a receiver waits for the remaining
	// fragments of a block before giving up on it.
	ReassemblyTTL = 30 * time.Second

	// DatagramPacingDelay is the pause between consecutive fragment sends
	// to the same subscriber, spreading a block's datagrams out instead
	// of bursting them onto the wire where they are more likely to be
	// dropped together.
	DatagramPacingDelay = 200 * time.Microsecond

	// MaxPubKeysPerLayer bounds how many piggybacked public keys are kept
	// per layer, both on the signer's and the verifier's side.
	MaxPubKeysPerLayer = 3

	// KeyCharges is how many signatures a single minted key pair is
	// allowed to produce before it is retired.
	KeyCharges = 20

	// NumLayers is the default depth of the layered key manager.
	NumLayers = 8
)

// Profile bundles the HORST parameters and key-layer settings a deployment
// runs with.
type Profile struct {
	Horst       horst.Params
	NumLayers   int
	KeyCharges  int
	MaxPerLayer int
}

// Production is the default, full-strength profile (N=32, K=32, Tau=16).
func Production() Profile {
	return Profile{
		Horst:       horst.Production(),
		NumLayers:   NumLayers,
		KeyCharges:  KeyCharges,
		MaxPerLayer: MaxPubKeysPerLayer,
	}
}

// Debug is a cheaper profile for local iteration (N=32, K=128, Tau=4).
func Debug() Profile {
	return Profile{
		Horst:       horst.Debug(),
		NumLayers:   NumLayers,
		KeyCharges:  KeyCharges,
		MaxPerLayer: MaxPubKeysPerLayer,
	}
}
