package keylayer

import (
	"testing"

	"github.com/mvarga/horstbeacon/horst"
)

func testParams() horst.Params {
	return horst.Params{
		N:        32,
		K:        8,
		Tau:      4,
		MsgHash:  horst.Debug().MsgHash,
		TreeHash: horst.Debug().TreeHash,
	}
}

func TestNewManagerBootstrapsEveryLayer(t *testing.T) {
	m, err := NewManager(testParams(), 4, 3, 1, horst.NewCSPRNG(1))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if m.NumLayers() != 4 {
		t.Fatalf("expected 4 layers, got %d", m.NumLayers())
	}
	if want := 4 * bootstrapKeysPerLayer; len(m.LivePubKeys()) != want {
		t.Fatalf("expected %d live keys (two per layer), got %d", want, len(m.LivePubKeys()))
	}
}

func TestFirstSignUsesLayerZero(t *testing.T) {
	m, _ := NewManager(testParams(), 3, 5, 1, horst.NewCSPRNG(2))
	firstPub := m.layers[0][0].Public
	sk, _, seq, err := m.NextKey()
	if err != nil {
		t.Fatalf("NextKey: %v", err)
	}
	if seq != 0 {
		t.Fatalf("expected first sequence number 0, got %d", seq)
	}
	if sk.Public() != firstPub {
		t.Fatal("first signature did not use layer 0's key")
	}
}

func TestKeyDiesAfterChargesExhausted(t *testing.T) {
	m, _ := NewManager(testParams(), 1, 2, 1, horst.NewCSPRNG(3))
	firstPub := m.layers[0][0].Public

	sk1, _, _, _ := m.NextKey()
	if sk1.Public() != firstPub {
		t.Fatal("expected first call to use the bootstrapped key")
	}
	sk2, _, _, _ := m.NextKey()
	if sk2.Public() != firstPub {
		t.Fatal("expected second call to still use the bootstrapped key (charges=2)")
	}
	sk3, _, _, _ := m.NextKey()
	if sk3.Public() == firstPub {
		t.Fatal("expected the key to have been replaced after exhausting its charges")
	}
}

func TestDeadPredicateIsNotOffByOne(t *testing.T) {
	rec := &Record{SignsUsed: 0, Charges: 1}
	if rec.Dead() {
		t.Fatal("a fresh key with charges=1 should not be dead before its first use")
	}
	rec.SignsUsed = 1
	if !rec.Dead() {
		t.Fatal("a key with signs_used==charges must be dead")
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	params := testParams()
	m, _ := NewManager(params, 2, 4, 1, horst.NewCSPRNG(9))
	_, _, _, _ = m.NextKey()
	snap := m.Export()

	restored, err := Restore(params, 4, 1, horst.NewCSPRNG(9), snap)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.NumLayers() != m.NumLayers() {
		t.Fatalf("layer count mismatch after restore: got %d want %d", restored.NumLayers(), m.NumLayers())
	}
	origKeys := m.LivePubKeys()
	restoredKeys := restored.LivePubKeys()
	if len(origKeys) != len(restoredKeys) {
		t.Fatalf("live key count mismatch: got %d want %d", len(restoredKeys), len(origKeys))
	}
	for i := range origKeys {
		if origKeys[i].PublicKey != restoredKeys[i].PublicKey || origKeys[i].Layer != restoredKeys[i].Layer {
			t.Fatalf("restored key %d does not match original", i)
		}
	}
}

func TestDistributionSampleInRange(t *testing.T) {
	d := NewWeightedDistribution(5)
	rng := horst.NewCSPRNG(42)
	for i := 0; i < 500; i++ {
		l := d.Sample(rng)
		if l < 0 || l >= 5 {
			t.Fatalf("sample out of range: %d", l)
		}
	}
}
