package keylayer

import (
	"time"

	"github.com/mvarga/horstbeacon/bcerr"
	"github.com/mvarga/horstbeacon/horst"
)

// RecordSnapshot is the serializable form of a Record.
type RecordSnapshot struct {
	Secret    horst.SecretKeyData
	SignsUsed int
	Charges   int
	Created   time.Time
}

// Snapshot is the serializable form of a Manager's layer state, persisted
// alongside the CSPRNG and piggybacked public-key cache as one of the four
// sections of a sender's identity file.
type Snapshot struct {
	Layers        [][]RecordSnapshot
	Weights       []float64
	FirstSignDone bool
	NextSeq       uint64
}

// Export captures the manager's full layer state for persistence.
func (m *Manager) Export() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	layers := make([][]RecordSnapshot, len(m.layers))
	for l, q := range m.layers {
		recs := make([]RecordSnapshot, len(q))
		for i, rec := range q {
			recs[i] = RecordSnapshot{
				Secret:    rec.Secret.Export(),
				SignsUsed: rec.SignsUsed,
				Charges:   rec.Charges,
				Created:   rec.Created,
			}
		}
		layers[l] = recs
	}
	return Snapshot{
		Layers:        layers,
		Weights:       m.distr.Weights(),
		FirstSignDone: m.firstSignDone,
		NextSeq:       m.nextSeq,
	}
}

// Restore rebuilds a Manager from a previously exported Snapshot, sharing
// the given rng (itself restored by the caller from its own persisted
// state) rather than re-seeding.
func Restore(params horst.Params, charges, threads int, rng *horst.CSPRNG, snap Snapshot) (*Manager, error) {
	if len(snap.Layers) == 0 {
		return nil, bcerr.New(bcerr.Fatal, "keylayer: snapshot has no layers")
	}
	m := &Manager{
		params:        params,
		rng:           rng,
		charges:       charges,
		threads:       threads,
		layers:        make([][]*Record, len(snap.Layers)),
		distr:         RestoreDistribution(snap.Weights),
		firstSignDone: snap.FirstSignDone,
		nextSeq:       snap.NextSeq,
	}
	for l, recs := range snap.Layers {
		q := make([]*Record, len(recs))
		for i, rs := range recs {
			sk, err := horst.ImportSecretKey(params, rs.Secret, threads)
			if err != nil {
				return nil, bcerr.Wrap(bcerr.Fatal, err, "keylayer: restoring layer %d record %d", l, i)
			}
			q[i] = &Record{
				Secret:    sk,
				Public:    sk.Public(),
				SignsUsed: rs.SignsUsed,
				Charges:   rs.Charges,
				Created:   rs.Created,
			}
		}
		m.layers[l] = q
	}
	return m, nil
}
