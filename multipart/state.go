package multipart

import (
	"sync"
	"sync/atomic"

	"golang.org/x/exp/slices"
)

// TransferState carries the per-part byte counters that accumulate during a
// part's transfer and are flushed to the metrics collaborator on completion
//. It is created by the orchestrator when scheduling a part and
// discarded after that part completes.
type TransferState struct {
	PartIndex  int // 0-based
	PartNumber int // 1-based = PartIndex+1

	bytesUp   int64
	bytesDown int64
}

// AddBytesUp accumulates uplink bytes transferred for this part.
func (t *TransferState) AddBytesUp(n int64) { atomic.AddInt64(&t.bytesUp, n) }

// AddBytesDown accumulates downlink bytes transferred for this part.
func (t *TransferState) AddBytesDown(n int64) { atomic.AddInt64(&t.bytesDown, n) }

// BytesUp returns the accumulated uplink byte count.
func (t *TransferState) BytesUp() int64 { return atomic.LoadInt64(&t.bytesUp) }

// BytesDown returns the accumulated downlink byte count.
func (t *TransferState) BytesDown() int64 { return atomic.LoadInt64(&t.bytesDown) }

// newTransferState builds the per-part state for partIndex.
func newTransferState(partIndex int) *TransferState {
	return &TransferState{PartIndex: partIndex, PartNumber: partIndex + 1}
}

// PartOutcome is the part-finish response the per-part handler returns to the
// orchestrator's part processor.
type PartOutcome int

const (
	// PartDone means the part finished successfully.
	PartDone PartOutcome = iota
	// PartRetry means the part should be re-enqueued.
	PartRetry
)

// latchedError records a terminal error exactly once; later writes are
// ignored — the first error to reach a terminal state wins.
type latchedError struct {
	once sync.Once
	err  error
}

func (l *latchedError) set(err error) {
	l.once.Do(func() { l.err = err })
}

func (l *latchedError) get() error {
	return l.err
}

// UploadState is the per-object upload state machine record.
// SendPart supplies the body reader and length for a given part index;
// OnFinished is invoked exactly once when the upload reaches a terminal
// state (Done or aborted).
type UploadState struct {
	Key        string
	ObjectSize int64
	NumParts   int

	SendPart   func(partIndex int) (body ReadSeekCloser, size int64, err error)
	OnFinished func(err error, numParts int)

	mu                sync.Mutex
	uploadID          string
	etags             []string
	numPartsCompleted int32
	finished          latchedError
	completeIssued    bool
}

// ReadSeekCloser is the minimal body contract SendPart must satisfy; parts
// must report a definite length so Content-Length can be set, which rules out a bare io.Reader.
type ReadSeekCloser interface {
	Read(p []byte) (n int, err error)
	Close() error
}

// NewUploadState constructs an UploadState with a preallocated,
// slot-indexed ETag table sized to numParts.
func NewUploadState(key string, objectSize int64, numParts int, sendPart func(int) (ReadSeekCloser, int64, error), onFinished func(error, int)) *UploadState {
	return &UploadState{
		Key:        key,
		ObjectSize: objectSize,
		NumParts:   numParts,
		SendPart:   sendPart,
		OnFinished: onFinished,
		etags:      slices.Grow(make([]string, 0), numParts)[:numParts],
	}
}

func (s *UploadState) setUploadID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploadID = id
}

func (s *UploadState) UploadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploadID
}

// FinishedErr returns the latched terminal error, if any.
func (s *UploadState) FinishedErr() error { return s.finished.get() }

func (s *UploadState) setETag(partIndex int, etag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.etags[partIndex] = etag
}

// sortedETags returns the ETag slice in part-index order, ready for the
// CompleteMultipartUpload XML body assembler.
func (s *UploadState) sortedETags() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.etags))
	copy(out, s.etags)
	return out
}

// incPartsCompleted increments num_parts_completed and reports whether this
// call is the one that reached NumParts exactly; at most one call reports
// true. CompleteMultipartUpload itself is issued once by runUpload after
// every part has succeeded, not by the caller that sees true.
func (s *UploadState) incPartsCompleted() (reachedExactlyNow bool) {
	n := atomic.AddInt32(&s.numPartsCompleted, 1)
	if int(n) != s.NumParts {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completeIssued {
		return false
	}
	s.completeIssued = true
	return true
}

// DownloadState is the per-object download state machine record; simpler than UploadState — no ETag table, no upload_id.
type DownloadState struct {
	Key      string
	NumParts int

	ReceivePart func(ts *TransferState, data []byte)
	OnFinished  func(err error, numParts int)

	numPartsCompleted int32
	finished          latchedError
}

// NewDownloadState constructs a DownloadState.
func NewDownloadState(key string, numParts int, receivePart func(*TransferState, []byte), onFinished func(error, int)) *DownloadState {
	return &DownloadState{
		Key:         key,
		NumParts:    numParts,
		ReceivePart: receivePart,
		OnFinished:  onFinished,
	}
}

func (s *DownloadState) incPartsCompleted() (reachedExactlyNow bool) {
	n := atomic.AddInt32(&s.numPartsCompleted, 1)
	return int(n) == s.NumParts
}

// FinishedErr returns the latched terminal error, if any.
func (s *DownloadState) FinishedErr() error { return s.finished.get() }
