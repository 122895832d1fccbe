package blocksign

import (
	"time"

	"github.com/cespare/xxhash"

	"github.com/mvarga/horstbeacon/bcerr"
	"github.com/mvarga/horstbeacon/horst"
	"github.com/mvarga/horstbeacon/identity"
)

// VerifyState classifies how much a receiver should trust a verified
// block's payload.
type VerifyState int

const (
	// Unverified means the signature did not check out against any
	// cached key; Verify still returns the payload, and whether it is
	// delivered is up to the caller.
	Unverified VerifyState = iota
	// Certified describes a cached public key that arrived piggybacked
	// under an authenticated block but has not itself yet been used to
	// sign a block this verifier checked. It is never returned by
	// Verify itself (see KeyState); it exists so callers can report a
	// key's trust level before it is exercised.
	Certified
	// Authenticated means the block was accepted: either its signature
	// verified against an already-cached key, or the cache was empty and
	// the block was accepted unconditionally on trust-on-first-use.
	Authenticated
)

func (s VerifyState) String() string {
	switch s {
	case Authenticated:
		return "authenticated"
	case Certified:
		return "certified"
	default:
		return "unverified"
	}
}

type cacheEntry struct {
	FirstSeen time.Time
	Layer     int
	Used      bool
}

// Verifier holds a receiver's trust-on-first-use public key cache.
type Verifier struct {
	params      horst.Params
	store       *identity.Store
	cache       map[horst.PublicKey]cacheEntry
	maxPerLayer int
}

// OpenVerifier loads a previously persisted key cache from path, or starts
// with an empty cache (which triggers trust-on-first-use on the very next
// block) if no identity file exists yet.
func OpenVerifier(path string, params horst.Params, maxPerLayer int) (*Verifier, error) {
	store, err := identity.Open(path)
	if err != nil {
		return nil, err
	}
	sections, ok, err := store.Load()
	if err != nil {
		store.Close()
		return nil, err
	}
	cache := make(map[horst.PublicKey]cacheEntry)
	if ok && len(sections) != 4 {
		bcerr.Logf("blocksign: identity file has %d sections, want 4; starting fresh", len(sections))
		ok = false
	}
	if ok {
		if err := gobDecode(sections[2], &cache); err != nil {
			store.Close()
			return nil, bcerr.Wrap(bcerr.Malformed, err, "blocksign: decoding receiver pk cache")
		}
	}
	return &Verifier{params: params, store: store, cache: cache, maxPerLayer: maxPerLayer}, nil
}

// Close releases the verifier's identity file lock.
func (v *Verifier) Close() error { return v.store.Close() }

// Verify decodes a wire-format signed block, checks its signature against
// the trust cache, and on success (or on first use) adopts its piggybacked
// keys. It returns the block's payload, the resulting trust state, and
// xxhash digests of the signature and piggybacked key set for diagnostics.
func (v *Verifier) Verify(wire []byte) (payload []byte, state VerifyState, sigDigest, pksDigest uint64, err error) {
	block, err := Decode(wire)
	if err != nil {
		return nil, Unverified, 0, 0, err
	}

	sigBytes, encErr := gobEncode(block.Signature)
	if encErr == nil {
		sigDigest = xxhash.Sum64(sigBytes)
	}
	pksBytes, encErr := gobEncode(block.PubKeys)
	if encErr == nil {
		pksDigest = xxhash.Sum64(pksBytes)
	}

	toVerify, err := signedMessage(block.Payload, block.PubKeys)
	if err != nil {
		return block.Payload, Unverified, sigDigest, pksDigest, err
	}

	tofu := len(v.cache) == 0
	var matched horst.PublicKey
	valid := false
	if tofu {
		// Nothing cached to check against yet; accept unconditionally,
		// but still identify which piggybacked key actually produced the
		// signature so its cache entry can be marked used immediately.
		for _, entry := range block.PubKeys {
			if horst.Verify(v.params, entry.PublicKey, toVerify, &block.Signature) {
				matched = entry.PublicKey
				valid = true
				break
			}
		}
	} else {
		for pk := range v.cache {
			if horst.Verify(v.params, pk, toVerify, &block.Signature) {
				matched = pk
				valid = true
				break
			}
		}
		if !valid {
			return block.Payload, Unverified, sigDigest, pksDigest, nil
		}
	}
	state = Authenticated

	now := time.Now()
	for _, entry := range block.PubKeys {
		if _, seen := v.cache[entry.PublicKey]; !seen {
			v.cache[entry.PublicKey] = cacheEntry{FirstSeen: now, Layer: entry.Layer}
		}
	}
	if valid {
		entry := v.cache[matched]
		entry.Used = true
		v.cache[matched] = entry
	}
	v.prune()

	if err := v.persist(); err != nil {
		return block.Payload, state, sigDigest, pksDigest, err
	}
	return block.Payload, state, sigDigest, pksDigest, nil
}

// KeyState reports a single cached key's trust level: Authenticated once
// it has itself signed a block this verifier checked, Certified if it is
// cached but has not yet done so, Unverified if it is not cached at all.
func (v *Verifier) KeyState(pk horst.PublicKey) VerifyState {
	entry, ok := v.cache[pk]
	if !ok {
		return Unverified
	}
	if entry.Used {
		return Authenticated
	}
	return Certified
}

func (v *Verifier) prune() {
	if v.maxPerLayer <= 0 {
		return
	}
	byLayer := make(map[int][]horst.PublicKey)
	for pk, meta := range v.cache {
		byLayer[meta.Layer] = append(byLayer[meta.Layer], pk)
	}
	for _, keys := range byLayer {
		if len(keys) <= v.maxPerLayer {
			continue
		}
		sortCacheByTimestamp(keys, v.cache)
		for _, pk := range keys[:len(keys)-v.maxPerLayer] {
			delete(v.cache, pk)
		}
	}
}

func sortCacheByTimestamp(keys []horst.PublicKey, cache map[horst.PublicKey]cacheEntry) {
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && cache[keys[j-1]].FirstSeen.After(cache[keys[j]].FirstSeen); j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
}

func (v *Verifier) persist() error {
	// The receiver's identity file shares the sender's four-section
	// layout (rng, layers, pks, distribution) so both sides can be
	// inspected with the same tooling; only the pks section is
	// meaningful here, the rest are empty placeholders.
	empty := []byte{}
	pksSection, err := gobEncode(v.cache)
	if err != nil {
		return bcerr.Wrap(bcerr.Fatal, err, "blocksign: encoding receiver pk cache")
	}
	return v.store.Save([][]byte{empty, empty, pksSection, empty})
}
