package blocksign

import (
	"bytes"
	"encoding/gob"
	"time"

	"github.com/mvarga/horstbeacon/bcerr"
	"github.com/mvarga/horstbeacon/horst"
	"github.com/mvarga/horstbeacon/identity"
	"github.com/mvarga/horstbeacon/keylayer"
)

type pkMeta struct {
	Timestamp time.Time
	Layer     int
}

// Signer owns a layered key manager and the sender-side bookkeeping needed
// to prune stale piggybacked keys, persisting all of it after every block.
type Signer struct {
	params      horst.Params
	threads     int
	charges     int
	mgr         *keylayer.Manager
	rng         *horst.CSPRNG
	store       *identity.Store
	pks         map[horst.PublicKey]pkMeta
	maxPerLayer int
}

// OpenSigner loads a signer's persisted state from path, or bootstraps a
// fresh one (seeded from seed) if no identity file exists yet.
func OpenSigner(path string, params horst.Params, numLayers, charges, threads, maxPerLayer int, seed uint64) (*Signer, error) {
	store, err := identity.Open(path)
	if err != nil {
		return nil, err
	}

	sections, ok, err := store.Load()
	if err != nil {
		store.Close()
		return nil, err
	}
	if ok && len(sections) != 4 {
		bcerr.Logf("blocksign: identity file has %d sections, want 4; starting fresh", len(sections))
		ok = false
	}
	if !ok {
		rng := horst.NewCSPRNG(seed)
		mgr, err := keylayer.NewManager(params, numLayers, charges, threads, rng)
		if err != nil {
			store.Close()
			return nil, err
		}
		return &Signer{
			params:      params,
			threads:     threads,
			charges:     charges,
			mgr:         mgr,
			rng:         rng,
			store:       store,
			pks:         make(map[horst.PublicKey]pkMeta),
			maxPerLayer: maxPerLayer,
		}, nil
	}

	var rngState horst.State
	if err := gobDecode(sections[0], &rngState); err != nil {
		store.Close()
		return nil, bcerr.Wrap(bcerr.Malformed, err, "blocksign: decoding rng section")
	}
	rng := horst.Restore(rngState)

	var snap keylayer.Snapshot
	if err := gobDecode(sections[1], &snap); err != nil {
		store.Close()
		return nil, bcerr.Wrap(bcerr.Malformed, err, "blocksign: decoding layers section")
	}
	mgr, err := keylayer.Restore(params, charges, threads, rng, snap)
	if err != nil {
		store.Close()
		return nil, err
	}

	pks := make(map[horst.PublicKey]pkMeta)
	if err := gobDecode(sections[2], &pks); err != nil {
		store.Close()
		return nil, bcerr.Wrap(bcerr.Malformed, err, "blocksign: decoding pks section")
	}
	// section[3] (distribution weights) is redundant with snap.Weights and
	// kept only so the on-disk layout has the four sections the system's
	// persisted state is defined to carry; nothing further to decode here.

	return &Signer{
		params:      params,
		threads:     threads,
		charges:     charges,
		mgr:         mgr,
		rng:         rng,
		store:       store,
		pks:         pks,
		maxPerLayer: maxPerLayer,
	}, nil
}

// Close releases the signer's identity file lock.
func (s *Signer) Close() error { return s.store.Close() }

// Sign produces a signed block over payload, charging one signature
// against the next sampled layer's key, piggybacking every currently live
// public key, and persisting the resulting state.
func (s *Signer) Sign(payload []byte) (*SignedBlock, error) {
	sk, pubKeys, seq, err := s.mgr.NextKey()
	if err != nil {
		return nil, err
	}
	toSign, err := signedMessage(payload, pubKeys)
	if err != nil {
		return nil, err
	}
	sig, err := horst.Sign(s.params, sk, toSign)
	if err != nil {
		return nil, err
	}
	block := &SignedBlock{
		Payload:   payload,
		Signature: *sig,
		PubKeys:   pubKeys,
		Seq:       seq,
	}

	now := time.Now()
	for _, entry := range pubKeys {
		if _, seen := s.pks[entry.PublicKey]; !seen {
			s.pks[entry.PublicKey] = pkMeta{Timestamp: now, Layer: entry.Layer}
		}
	}
	s.prune()

	if err := s.persist(); err != nil {
		return nil, err
	}
	return block, nil
}

// prune keeps at most maxPerLayer entries of s.pks per layer, discarding
// the oldest first, mirroring the original signer's piggyback-cache
// bookkeeping.
func (s *Signer) prune() {
	if s.maxPerLayer <= 0 {
		return
	}
	byLayer := make(map[int][]horst.PublicKey)
	for pk, meta := range s.pks {
		byLayer[meta.Layer] = append(byLayer[meta.Layer], pk)
	}
	for _, keys := range byLayer {
		if len(keys) <= s.maxPerLayer {
			continue
		}
		sortByTimestamp(keys, s.pks)
		for _, pk := range keys[:len(keys)-s.maxPerLayer] {
			delete(s.pks, pk)
		}
	}
}

func (s *Signer) persist() error {
	rngSection, err := gobEncode(s.rng.Snapshot())
	if err != nil {
		return bcerr.Wrap(bcerr.Fatal, err, "blocksign: encoding rng section")
	}
	snap := s.mgr.Export()
	layersSection, err := gobEncode(snap)
	if err != nil {
		return bcerr.Wrap(bcerr.Fatal, err, "blocksign: encoding layers section")
	}
	pksSection, err := gobEncode(s.pks)
	if err != nil {
		return bcerr.Wrap(bcerr.Fatal, err, "blocksign: encoding pks section")
	}
	distSection, err := gobEncode(snap.Weights)
	if err != nil {
		return bcerr.Wrap(bcerr.Fatal, err, "blocksign: encoding distribution section")
	}
	return s.store.Save([][]byte{rngSection, layersSection, pksSection, distSection})
}

func sortByTimestamp(keys []horst.PublicKey, meta map[horst.PublicKey]pkMeta) {
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && meta[keys[j-1]].Timestamp.After(meta[keys[j]].Timestamp); j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
}

func gobEncode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
