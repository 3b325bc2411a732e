package rooms

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 64

// lockTable serializes read-modify-write cycles per room code. Distinct codes
// may share a stripe; that only costs throughput.
type lockTable struct {
	stripes [lockStripes]sync.Mutex
}

func (t *lockTable) lock(code string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(code))
	m := &t.stripes[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}
