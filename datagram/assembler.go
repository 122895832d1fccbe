package datagram

import (
	"container/heap"
	"sync"
	"time"

	"github.com/mvarga/horstbeacon/bcerr"
)

type assembly struct {
	data     []byte
	fragPayload int
	count    uint32
	finalLen uint32
	missing  map[uint32]struct{}
	deadline time.Time
}

// deadlineEntry orders pending blocks by when they should be given up on,
// mirroring the teacher's uint32Heap pattern generalized to a composite key.
type deadlineEntry struct {
	hash     uint64
	deadline time.Time
}

type deadlineHeap []deadlineEntry

func (h deadlineHeap) Len() int            { return len(h) }
func (h deadlineHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h deadlineHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *deadlineHeap) Push(x interface{}) { *h = append(*h, x.(deadlineEntry)) }
func (h *deadlineHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Assembler reassembles fragmented blocks, discarding any block that has
// not completed within ttl of its first fragment's arrival.
type Assembler struct {
	mu          sync.Mutex
	fragPayload int
	ttl         time.Duration
	blocks      map[uint64]*assembly
	deadlines   deadlineHeap
}

// NewAssembler builds an assembler for fragments produced with the given
// dgramSize, discarding incomplete blocks older than ttl.
func NewAssembler(dgramSize int, ttl time.Duration) *Assembler {
	return &Assembler{
		fragPayload: dgramSize - HeaderSize,
		ttl:         ttl,
		blocks:      make(map[uint64]*assembly),
	}
}

// Insert feeds one received fragment in. When it completes a block, the
// reassembled data is returned with ok=true.
func (a *Assembler) Insert(dgram []byte, now time.Time) (data []byte, ok bool, err error) {
	header, err := decodeHeader(dgram)
	if err != nil {
		return nil, false, err
	}
	payload := dgram[HeaderSize:]

	a.mu.Lock()
	defer a.mu.Unlock()

	a.expireLocked(now)

	blk, exists := a.blocks[header.BlockHash]
	if !exists {
		if header.Count == 0 {
			return nil, false, bcerr.New(bcerr.Malformed, "datagram: fragment declares zero total count")
		}
		blk = &assembly{
			data:        make([]byte, int(header.Count)*a.fragPayload),
			fragPayload: a.fragPayload,
			count:       header.Count,
			missing:     make(map[uint32]struct{}, header.Count),
			deadline:    now.Add(a.ttl),
		}
		for i := uint32(0); i < header.Count; i++ {
			blk.missing[i] = struct{}{}
		}
		a.blocks[header.BlockHash] = blk
		heap.Push(&a.deadlines, deadlineEntry{hash: header.BlockHash, deadline: blk.deadline})
	}

	if header.Index >= blk.count {
		return nil, false, bcerr.New(bcerr.Malformed, "datagram: fragment index %d exceeds declared count %d", header.Index, blk.count)
	}
	if header.Index == blk.count-1 {
		blk.finalLen = header.FinalLen
	}

	start := int(header.Index) * a.fragPayload
	copy(blk.data[start:], payload)
	delete(blk.missing, header.Index)

	if len(blk.missing) > 0 {
		return nil, false, nil
	}

	delete(a.blocks, header.BlockHash)
	total := int(blk.count-1)*a.fragPayload + int(blk.finalLen)
	if total < 0 || total > len(blk.data) {
		return nil, false, bcerr.New(bcerr.Malformed, "datagram: final length %d inconsistent with fragment count", blk.finalLen)
	}
	return blk.data[:total], true, nil
}

// expireLocked drops any block whose deadline has passed. Callers must
// hold a.mu.
func (a *Assembler) expireLocked(now time.Time) int {
	removed := 0
	for a.deadlines.Len() > 0 && !a.deadlines[0].deadline.After(now) {
		entry := heap.Pop(&a.deadlines).(deadlineEntry)
		if blk, ok := a.blocks[entry.hash]; ok && !blk.deadline.After(now) {
			delete(a.blocks, entry.hash)
			removed++
		}
	}
	return removed
}

// Expire drops any pending block older than its ttl, for callers that want
// to reclaim memory on an idle receiver rather than waiting for the next
// Insert.
func (a *Assembler) Expire(now time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.expireLocked(now)
}

// Pending reports how many blocks are mid-assembly.
func (a *Assembler) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.blocks)
}
