package audio

import "sync"

var bufPool = sync.Pool{
	New: func() any {
		return make([]byte, 0, FrameBytes)
	},
}

func acquireBuf(size int) []byte {
	b := bufPool.Get().([]byte)
	if cap(b) < size {
		return make([]byte, size)
	}
	return b[:size]
}

// Release returns a pooled frame's payload to the pool. Frames built by the
// caller (not via Decode) are left alone.
func Release(f Frame) bool {
	if !f.pooled {
		return false
	}
	bufPool.Put(f.Payload[:0])
	return true
}
