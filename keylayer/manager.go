// Package keylayer implements the layered key manager: a sender holds L
// queues of HORST key pairs, one per layer, where layer l keys are sampled
// roughly twice as often as layer l-1 — layer 0, the anchor, is used only
// sparingly. Every key pair carries a fixed signing budget (its "charges")
// and is replaced once that budget is exhausted, so a compromise of one
// leaf's secret only threatens the signatures that specific key pair ever
// produced.
package keylayer

import (
	"sync"
	"time"

	"github.com/mvarga/horstbeacon/bcerr"
	"github.com/mvarga/horstbeacon/horst"
)

// Record is a keypair in service: its signing budget, how much of that
// budget has been spent, and when it was minted.
type Record struct {
	Secret    *horst.SecretKey
	Public    horst.PublicKey
	SignsUsed int
	Charges   int
	Created   time.Time
}

// Dead reports whether a Record has exhausted its signing budget.
//
// The original predicate computed `(charges - signs_used) <= 0` using
// unsigned subtraction, which wraps around before it can go negative and so
// never fires; the corrected form compares directly and needs no
// subtraction at all.
func (r *Record) Dead() bool {
	return r.SignsUsed >= r.Charges
}

// PubKeyEntry is a public key tagged with the layer it was minted in. Every
// signed block piggybacks the full current set of these so receivers can
// build trust in newly introduced keys.
type PubKeyEntry struct {
	PublicKey horst.PublicKey
	Layer     int
}

// Manager owns every layer's queue of key pairs plus the shared CSPRNG and
// layer-sampling distribution. All public methods are safe for concurrent
// use; blocksign.Signer drives a Manager from one goroutine, calling NextKey
// and then Export to persist after each block.
type Manager struct {
	mu      sync.Mutex
	params  horst.Params
	rng     *horst.CSPRNG
	charges int
	threads int
	layers  [][]*Record
	distr   *Distribution
	firstSignDone bool
	nextSeq uint64
}

// bootstrapKeysPerLayer is the number of key pairs each layer starts with:
// two, so a layer's front key can die and be replaced without ever dropping
// to zero live keys mid-eviction.
const bootstrapKeysPerLayer = 2

// NewManager builds a manager with numLayers queues, each bootstrapped with
// bootstrapKeysPerLayer active key pairs, every key pair granted the given
// signing budget.
func NewManager(params horst.Params, numLayers, charges, threads int, rng *horst.CSPRNG) (*Manager, error) {
	if numLayers <= 0 {
		return nil, bcerr.New(bcerr.Fatal, "keylayer: numLayers must be positive, got %d", numLayers)
	}
	if charges <= 0 {
		return nil, bcerr.New(bcerr.Fatal, "keylayer: charges must be positive, got %d", charges)
	}
	m := &Manager{
		params:  params,
		rng:     rng,
		charges: charges,
		threads: threads,
		layers:  make([][]*Record, numLayers),
		distr:   NewWeightedDistribution(numLayers),
	}
	for l := 0; l < numLayers; l++ {
		queue := make([]*Record, 0, bootstrapKeysPerLayer)
		for i := 0; i < bootstrapKeysPerLayer; i++ {
			rec, err := m.mint()
			if err != nil {
				return nil, err
			}
			queue = append(queue, rec)
		}
		m.layers[l] = queue
	}
	return m, nil
}

func (m *Manager) mint() (*Record, error) {
	sk, err := horst.GenerateKeyPair(m.params, m.rng, m.threads)
	if err != nil {
		return nil, bcerr.Wrap(bcerr.Fatal, err, "keylayer: minting key pair")
	}
	return &Record{
		Secret:  sk,
		Public:  sk.Public(),
		Charges: m.charges,
		Created: time.Now(),
	}, nil
}

// poll returns the front live record of a layer, regenerating it first if
// the layer is empty or its front record has died.
func (m *Manager) poll(layer int) (*Record, error) {
	q := m.layers[layer]
	if len(q) == 0 || q[0].Dead() {
		if len(q) > 0 {
			q = q[1:]
		}
		rec, err := m.mint()
		if err != nil {
			return nil, err
		}
		q = append(q, rec)
		m.layers[layer] = q
	}
	return m.layers[layer][0], nil
}

// LivePubKeys returns every currently active public key across all layers,
// tagged with its layer, for piggybacking onto a signed block.
func (m *Manager) LivePubKeys() []PubKeyEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.livePubKeysLocked()
}

func (m *Manager) livePubKeysLocked() []PubKeyEntry {
	var out []PubKeyEntry
	for l, q := range m.layers {
		for _, rec := range q {
			out = append(out, PubKeyEntry{PublicKey: rec.Public, Layer: l})
		}
	}
	return out
}

// NextKey selects a layer (layer 0 on the very first call, then weighted by
// the layer distribution), charges one signature against that layer's
// active key, replacing it if it has just died, and returns the secret key
// to sign with plus the full live public-key set to piggyback.
func (m *Manager) NextKey() (*horst.SecretKey, []PubKeyEntry, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	layer := 0
	if m.firstSignDone {
		layer = m.distr.Sample(m.rng)
	} else {
		m.firstSignDone = true
	}

	rec, err := m.poll(layer)
	if err != nil {
		return nil, nil, 0, err
	}

	pubKeys := m.livePubKeysLocked()
	seq := m.nextSeq
	m.nextSeq++

	rec.SignsUsed++
	if rec.Dead() {
		// Pre-mint the layer's replacement now so the next poll finds a
		// live key already queued rather than paying generation latency
		// on the signing path.
		if replacement, mintErr := m.mint(); mintErr == nil {
			m.layers[layer] = append(m.layers[layer][1:], replacement)
		}
	}

	return rec.Secret, pubKeys, seq, nil
}

// NumLayers reports how many layers this manager maintains.
func (m *Manager) NumLayers() int { return len(m.layers) }
