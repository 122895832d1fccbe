// Package blocksign signs and verifies broadcast blocks: each block carries
// a HORST signature plus the signer's full current set of live public keys,
// piggybacked so a receiver can extend trust to newly minted keys without
// an out-of-band exchange.
package blocksign

import (
	"bytes"
	"encoding/gob"

	"github.com/mvarga/horstbeacon/bcerr"
	"github.com/mvarga/horstbeacon/horst"
	"github.com/mvarga/horstbeacon/keylayer"
)

// SignedBlock is the unit a Signer produces and a Verifier consumes.
type SignedBlock struct {
	Payload   []byte
	Signature horst.Signature
	PubKeys   []keylayer.PubKeyEntry
	Seq       uint64
}

// signedMessage reconstructs the bytes a signature actually covers: the
// payload concatenated with the piggybacked public-key set, so a signature
// binds both and a tamperer cannot swap in a different key set under an
// otherwise-valid signature.
func signedMessage(payload []byte, pubKeys []keylayer.PubKeyEntry) ([]byte, error) {
	keysBytes, err := gobEncode(pubKeys)
	if err != nil {
		return nil, bcerr.Wrap(bcerr.Fatal, err, "blocksign: serializing piggybacked keys")
	}
	msg := make([]byte, 0, len(payload)+len(keysBytes))
	msg = append(msg, payload...)
	msg = append(msg, keysBytes...)
	return msg, nil
}

// Encode serializes a SignedBlock with encoding/gob. gob is the stdlib
// choice here rather than a hand-rolled binary layout: nothing in the
// example corpus ships a general-purpose Go object codec, and gob is the
// idiomatic way two Go processes exchange structured values without a
// shared schema compiler.
func (b *SignedBlock) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(b); err != nil {
		return nil, bcerr.Wrap(bcerr.Fatal, err, "blocksign: encoding signed block")
	}
	return buf.Bytes(), nil
}

// Decode deserializes a SignedBlock previously produced by Encode.
func Decode(wire []byte) (*SignedBlock, error) {
	var b SignedBlock
	if err := gob.NewDecoder(bytes.NewReader(wire)).Decode(&b); err != nil {
		return nil, bcerr.Wrap(bcerr.Malformed, err, "blocksign: decoding signed block")
	}
	return &b, nil
}
