package command

import (
	"bytes"
	"sync"
)

// newBoundedBuffer creates a boundedBuffer instance retaining at most limit
// bytes.
func newBoundedBuffer(limit int) *boundedBuffer {
	return &boundedBuffer{
		mutex: new(sync.Mutex),
		limit: limit,
	}
}

// boundedBuffer is an io.Writer retaining a bounded prefix of what is
// written to it. Writes beyond the limit are accepted and discarded, so a
// chatty solver never blocks on a full pipe.
type boundedBuffer struct {
	mutex *sync.Mutex

	buf   bytes.Buffer
	limit int
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	n := len(p)
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			p = p[:room]
		}
		b.buf.Write(p)
	}
	return n, nil
}

func (b *boundedBuffer) bytes() []byte {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.buf.Len() == 0 {
		return nil
	}
	out := make([]byte, b.buf.Len())
	copy(out, b.buf.Bytes())
	return out
}
