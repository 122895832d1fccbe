package horst

import (
	"hash"
	"runtime"
	"sync"

	"github.com/mvarga/horstbeacon/bcerr"
)

// tree is a flat, indexed binary Merkle tree over T leaves, stored in a
// single slice of size 2T-1 (layer 0 is the root, the last T entries are
// the leaves), the same layout as the reference implementation this scheme
// was adapted from.
type tree struct {
	nodes [][]byte
	t     int
	depth int // number of layers, including the leaf layer
}

// buildTree hashes leaves and folds them bottom-up into a single root. When
// threads > 1 the leaf-hashing pass is split across worker goroutines; this
// is the only stage worth parallelizing since internal layers shrink by
// half every step and quickly become not worth the synchronization cost.
func buildTree(leaves [][]byte, treeHash func() hash.Hash, threads int) (*tree, error) {
	t := len(leaves)
	if t == 0 || (t&(t-1)) != 0 {
		return nil, bcerr.New(bcerr.Fatal, "horst: leaf count %d must be a power of two", t)
	}
	depth := bitLen(t)
	size := 2*t - 1
	nodes := make([][]byte, size)
	base := size - t

	if threads < 1 {
		threads = 1
	}
	if threads > runtime.NumCPU() {
		threads = runtime.NumCPU()
	}
	if threads == 1 || t < 2*threads {
		for i, leaf := range leaves {
			h := treeHash()
			h.Write(leaf)
			nodes[base+i] = h.Sum(nil)
		}
	} else {
		var wg sync.WaitGroup
		chunk := (t + threads - 1) / threads
		for w := 0; w < threads; w++ {
			start := w * chunk
			end := start + chunk
			if start >= t {
				break
			}
			if end > t {
				end = t
			}
			wg.Add(1)
			go func(start, end int) {
				defer wg.Done()
				for i := start; i < end; i++ {
					h := treeHash()
					h.Write(leaves[i])
					nodes[base+i] = h.Sum(nil)
				}
			}(start, end)
		}
		wg.Wait()
	}

	// Fold layers bottom-up; each layer is small enough that sequential
	// hashing is simpler and fast enough not to need its own worker split.
	layerBase := base
	layerLen := t
	for layerLen > 1 {
		parentLen := layerLen / 2
		parentBase := layerBase - parentLen
		for i := 0; i < parentLen; i++ {
			h := treeHash()
			h.Write(nodes[layerBase+2*i])
			h.Write(nodes[layerBase+2*i+1])
			nodes[parentBase+i] = h.Sum(nil)
		}
		layerBase = parentBase
		layerLen = parentLen
	}

	return &tree{nodes: nodes, t: t, depth: depth}, nil
}

func bitLen(t int) int {
	d := 0
	for (1 << uint(d)) < t {
		d++
	}
	return d + 1
}

// root returns the tree's single root hash.
func (tr *tree) root() []byte {
	return tr.nodes[0]
}

// authPath returns the sibling hash at every level from leafIdx up to (but
// excluding) the root. leafIdx out of range is a programmer error and
// panics, matching the fail-fatally contract of the scheme this was
// adapted from.
func (tr *tree) authPath(leafIdx int) [][]byte {
	if leafIdx < 0 || leafIdx >= tr.t {
		panic(bcerr.New(bcerr.Fatal, "horst: leaf index %d out of range [0,%d)", leafIdx, tr.t))
	}
	path := make([][]byte, 0, tr.depth-1)
	base := len(tr.nodes) - tr.t
	layerLen := tr.t
	idx := leafIdx
	for layerLen > 1 {
		sibling := idx ^ 1
		path = append(path, tr.nodes[base+sibling])
		idx /= 2
		base -= layerLen / 2
		layerLen /= 2
	}
	return path
}

// verifyAuthPath recomputes a root from a leaf hash and its auth path,
// using the index's bits to decide left/right concatenation order at each
// level, and reports whether it matches root.
func verifyAuthPath(treeHash func() hash.Hash, leafHash []byte, leafIdx int, path [][]byte, root []byte) bool {
	cur := leafHash
	idx := leafIdx
	for _, sibling := range path {
		h := treeHash()
		if idx%2 == 0 {
			h.Write(cur)
			h.Write(sibling)
		} else {
			h.Write(sibling)
			h.Write(cur)
		}
		cur = h.Sum(nil)
		idx /= 2
	}
	return bytesEqual(cur, root)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
