package graphclient

import (
	"strconv"
	"sync/atomic"
)

// tagAllocator hands out request tags "1", "2", ... for one Conn.
type tagAllocator struct {
	n atomic.Uint64
}

func (a *tagAllocator) next() string {
	return strconv.FormatUint(a.n.Add(1), 10)
}
