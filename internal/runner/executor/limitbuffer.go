package executor

import (
	"bytes"
	"fmt"
	"sync"
)

// limitedBuffer keeps the first limit bytes written and counts the rest.
// Writes never fail, so a chatty program is not killed by SIGPIPE.
type limitedBuffer struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	limit   int64
	dropped int64
}

func newLimitedBuffer(limit int64) *limitedBuffer {
	return &limitedBuffer{limit: limit}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	room := b.limit - int64(b.buf.Len())
	switch {
	case room <= 0:
		b.dropped += int64(len(p))
	case int64(len(p)) > room:
		b.buf.Write(p[:room])
		b.dropped += int64(len(p)) - room
	default:
		b.buf.Write(p)
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dropped == 0 {
		return b.buf.String()
	}
	return b.buf.String() + fmt.Sprintf("\n... [truncated %d bytes]", b.dropped)
}
