package iometer

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// TransferReader wraps an io.Reader, counting bytes read and optionally
// shaping throughput through a token-bucket rate limiter.
type TransferReader struct {
	reader  io.Reader
	limiter *rate.Limiter

	// transferredSize is a pointer to an int64 that stores the number of
	// bytes transferred
	transferredSize *int64

	ctx context.Context

	// closed is a flag that indicates if the TransferReader is closed
	closed bool
}

// NewTransferReader constructs a new TransferReader bound to ctx, so a
// limiter wait can be cancelled the same way the rest of a request is.
func NewTransferReader(ctx context.Context, reader io.Reader, transferredSize *int64) (mr *TransferReader) {
	mr = &TransferReader{
		reader:          reader,
		transferredSize: transferredSize,
		ctx:             ctx,
	}
	return
}

// Read reads from the underlying reader and increments the counter. With a
// rate limit set, it waits for n tokens in steps no larger than the
// limiter's burst.
func (tr *TransferReader) Read(p []byte) (n int, err error) {
	if n, err = tr.reader.Read(p); err != nil {
		return
	}
	if tr.limiter != nil {
		for waited := 0; waited < n; {
			step := n - waited
			if b := tr.limiter.Burst(); b > 0 && step > b {
				step = b
			}
			if err = tr.limiter.WaitN(tr.ctx, step); err != nil {
				return
			}
			waited += step
		}
	}
	if n > 0 && tr.transferredSize != nil {
		atomic.AddInt64(tr.transferredSize, int64(n))
	}
	return
}

// Close closes the underlying io.Reader if it implements the
// io.Closer interface.
func (tr *TransferReader) Close() (err error) {
	if tr.closed {
		return
	}
	if closer, ok := tr.reader.(io.Closer); ok {
		err = closer.Close()
	}
	tr.closed = true
	return
}

// TransferredSize returns the number of bytes transferred.
func (tr *TransferReader) TransferredSize() int64 {
	return atomic.LoadInt64(tr.transferredSize)
}

// SetRateLimit sets rate limit (bytes/sec) and the burst size the limiter
// allows immediately, then spends that initial burst so the very first
// read doesn't get a free pass above the target rate.
func (tr *TransferReader) SetRateLimit(bytesPerSec float64, burst int) {
	tr.limiter = rate.NewLimiter(rate.Limit(bytesPerSec), burst)
	tr.limiter.AllowN(time.Now(), burst)
}
