package keylayer

import "github.com/mvarga/horstbeacon/horst"

// Distribution is a discrete probability distribution over layer indices,
// sampled by drawing a uniform threshold and walking the cumulative weight
// until it is reached.
type Distribution struct {
	weights []float64
	total   float64
}

// NewWeightedDistribution builds the default per-layer weighting: layer l
// gets weight 2^l, so higher layers are sampled more often and layer 0 (the
// anchor) is reserved for the rare, deliberate re-certification it needs.
func NewWeightedDistribution(numLayers int) *Distribution {
	weights := make([]float64, numLayers)
	total := 0.0
	for l := 0; l < numLayers; l++ {
		w := float64(uint64(1) << uint(l))
		weights[l] = w
		total += w
	}
	return &Distribution{weights: weights, total: total}
}

// Sample draws a layer index in [0, len(weights)).
func (d *Distribution) Sample(rng *horst.CSPRNG) int {
	threshold := d.total * rng.Float64()
	cum := 0.0
	for i, w := range d.weights {
		cum += w
		if cum >= threshold {
			return i
		}
	}
	return len(d.weights) - 1
}

// NumLayers reports how many layers this distribution covers.
func (d *Distribution) NumLayers() int { return len(d.weights) }

// Weights returns a copy of the raw per-layer weights, for persistence.
func (d *Distribution) Weights() []float64 {
	out := make([]float64, len(d.weights))
	copy(out, d.weights)
	return out
}

// RestoreDistribution rebuilds a Distribution from persisted weights.
func RestoreDistribution(weights []float64) *Distribution {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	return &Distribution{weights: weights, total: total}
}
