// Package horst implements the HORST few-time hash-based signature scheme:
// a flat Merkle tree of secret leaves, a message-hash digest that selects
// which K leaves to reveal, and verification that walks each leaf's
// authentication path back to a shared public root.
package horst

import (
	"hash"

	"golang.org/x/crypto/sha3"

	"github.com/mvarga/horstbeacon/bcerr"
)

// Params fixes the shape of a HORST instance: the tree hash output size N,
// the number of leaves revealed per signature K, and the bit-width Tau of
// each selected leaf index (T = 2^Tau total leaves).
type Params struct {
	N        int
	K        int
	Tau      int
	MsgHash  func() hash.Hash
	TreeHash func() hash.Hash
}

// T is the total number of leaves in the HORST tree, 2^Tau.
func (p Params) T() int { return 1 << uint(p.Tau) }

// Validate checks the structural constraints the original scheme enforces
// before any key is generated: the message digest must be wide enough to
// carve K independent Tau-bit indices, the tree digest must match N, and
// Tau must be addressable within 64 bits.
func (p Params) Validate() error {
	if p.Tau <= 0 || p.Tau > 64 {
		return bcerr.New(bcerr.Fatal, "horst: tau must be in (0,64], got %d", p.Tau)
	}
	if p.K <= 0 {
		return bcerr.New(bcerr.Fatal, "horst: k must be positive, got %d", p.K)
	}
	if p.N <= 0 {
		return bcerr.New(bcerr.Fatal, "horst: n must be positive, got %d", p.N)
	}
	msgHashLen := p.MsgHash().Size()
	if (msgHashLen*8)%p.Tau != 0 {
		return bcerr.New(bcerr.Fatal, "horst: message hash of %d bits not divisible by tau=%d", msgHashLen*8, p.Tau)
	}
	if p.K*p.Tau > msgHashLen*8 {
		return bcerr.New(bcerr.Fatal, "horst: k*tau=%d exceeds message hash width %d bits", p.K*p.Tau, msgHashLen*8)
	}
	if p.TreeHash().Size() != p.N {
		return bcerr.New(bcerr.Fatal, "horst: tree hash size %d does not match n=%d", p.TreeHash().Size(), p.N)
	}
	return nil
}

// Production returns the deployment profile: N=32, K=32, Tau=16 (T=65536),
// SHA3-512 for the message digest and SHA3-256 for the tree, mirroring the
// PRODUCTION cfg_if profile of the system this scheme was adapted from.
func Production() Params {
	return Params{
		N:        32,
		K:        32,
		Tau:      16,
		MsgHash:  sha3.New512,
		TreeHash: sha3.New256,
	}
}

// Debug returns a cheaper profile (K=128, Tau=4, T=16) suitable for fast
// local iteration where signature/key-generation cost should stay low.
func Debug() Params {
	return Params{
		N:        32,
		K:        128,
		Tau:      4,
		MsgHash:  sha3.New512,
		TreeHash: sha3.New256,
	}
}
