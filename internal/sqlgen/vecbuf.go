package sqlgen

import "sync"

// vectorBufferPools holds one *sync.Pool of []float32 per vector
// dimensionality a collection has declared, so packing a query vector
// into a sqlite-vec BLOB doesn't allocate a fresh slice on every search.
// Keyed by dimension rather than a single shared pool since sync.Pool
// assumes items are roughly interchangeable, and a 3-dimensional
// embedding and a 1536-dimensional one are not.
var vectorBufferPools sync.Map // map[int]*sync.Pool

func acquireVectorBuffer(dim int) []float32 {
	v, _ := vectorBufferPools.LoadOrStore(dim, &sync.Pool{
		New: func() any { return make([]float32, dim) },
	})
	return v.(*sync.Pool).Get().([]float32)
}

// releaseVectorBuffer zeroes buf before returning it to its pool. Callers
// must have already copied out anything derived from buf — zeroing here
// happens unconditionally and isn't synchronized with a reader.
func releaseVectorBuffer(dim int, buf []float32) {
	for i := range buf {
		buf[i] = 0
	}
	v, ok := vectorBufferPools.Load(dim)
	if !ok {
		return
	}
	v.(*sync.Pool).Put(buf)
}
