package horst

import (
	"io"

	"github.com/mvarga/horstbeacon/bcerr"
)

// PublicKey is a HORST Merkle root. It is defined as a string rather than a
// []byte so it is directly comparable and hashable: both the key-layer
// manager and the verifier's trust cache use PublicKey as a map key.
type PublicKey string

// Bytes returns the raw root bytes.
func (pk PublicKey) Bytes() []byte { return []byte(pk) }

// NewPublicKey wraps raw root bytes as a PublicKey.
func NewPublicKey(root []byte) PublicKey { return PublicKey(root) }

// SecretKey holds every leaf secret together with the Merkle tree built over
// their hashes; Sign consumes it by leaf index, Public returns its root.
type SecretKey struct {
	leaves [][]byte
	tree   *tree
}

// Public returns the public key (Merkle root) for this secret key.
func (sk *SecretKey) Public() PublicKey {
	return NewPublicKey(sk.tree.root())
}

// Element is one revealed leaf of a HORST signature: the secret value at
// the selected index plus its authentication path to the root.
type Element struct {
	Secret   []byte
	AuthPath [][]byte
}

// Signature is the full set of K revealed elements, one per selected leaf
// index (indices are recomputed from the message during verification, so
// they are not stored).
type Signature struct {
	Elements []Element
}

// GenerateKeyPair draws T random leaf secrets from rng, builds the Merkle
// tree over their hashes, and returns the resulting key pair. threads
// controls how many goroutines hash leaves concurrently (buildTree clamps
// this to a sane range).
func GenerateKeyPair(p Params, rng io.Reader, threads int) (*SecretKey, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	t := p.T()
	leaves := make([][]byte, t)
	for i := range leaves {
		leaf := make([]byte, p.N)
		if _, err := io.ReadFull(rng, leaf); err != nil {
			return nil, bcerr.Wrap(bcerr.Fatal, err, "horst: drawing leaf secret %d", i)
		}
		leaves[i] = leaf
	}
	tr, err := buildTree(leaves, p.TreeHash, threads)
	if err != nil {
		return nil, err
	}
	return &SecretKey{leaves: leaves, tree: tr}, nil
}

// segmentIndices hashes msg and slices the digest into K big-endian Tau-bit
// segments, each naming one leaf index in [0, T).
func segmentIndices(p Params, msg []byte) []int {
	h := p.MsgHash()
	h.Write(msg)
	digest := h.Sum(nil)

	indices := make([]int, p.K)
	bitPos := 0
	for i := 0; i < p.K; i++ {
		indices[i] = readBits(digest, bitPos, p.Tau)
		bitPos += p.Tau
	}
	return indices
}

// readBits reads n bits starting at bit offset off from buf, most
// significant bit first, and returns them as an int.
func readBits(buf []byte, off, n int) int {
	v := 0
	for i := 0; i < n; i++ {
		bit := off + i
		byteIdx := bit / 8
		bitIdx := 7 - uint(bit%8)
		b := (buf[byteIdx] >> bitIdx) & 1
		v = (v << 1) | int(b)
	}
	return v
}

// Sign reveals the leaf secret and authentication path for each index the
// message digest selects.
func Sign(p Params, sk *SecretKey, msg []byte) (*Signature, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	indices := segmentIndices(p, msg)
	elems := make([]Element, len(indices))
	for i, idx := range indices {
		elems[i] = Element{
			Secret:   sk.leaves[idx],
			AuthPath: sk.tree.authPath(idx),
		}
	}
	return &Signature{Elements: elems}, nil
}

// Verify recomputes the selected indices from msg, then for each revealed
// element hashes its secret to a leaf and walks the authentication path,
// requiring every one of the K paths to reach pk.
func Verify(p Params, pk PublicKey, msg []byte, sig *Signature) bool {
	if err := p.Validate(); err != nil {
		return false
	}
	if len(sig.Elements) != p.K {
		return false
	}
	indices := segmentIndices(p, msg)
	root := pk.Bytes()
	for i, idx := range indices {
		elem := sig.Elements[i]
		h := p.TreeHash()
		h.Write(elem.Secret)
		leafHash := h.Sum(nil)
		if !verifyAuthPath(p.TreeHash, leafHash, idx, elem.AuthPath, root) {
			return false
		}
	}
	return true
}
