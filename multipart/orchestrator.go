// Package multipart implements the Multipart Orchestrator component: two
// mirror state machines (upload, download) that submit per-part work items
// into a bounded part processor, aggregate ETags, and drive the
// CreateMultipartUpload -> UploadPart* -> CompleteMultipartUpload |
// AbortMultipartUpload protocol.
package multipart

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
)

// ErrParseFailed means CreateMultipartUpload's response was missing a
// non-empty <UploadId>.
var ErrParseFailed = errors.New("multipart: could not parse UploadId")

// ErrBadStatus is reused from objectops' vocabulary for the orchestrator's
// own raw POST/DELETE calls (create/complete/abort), which don't go through
// objectops.Ops.
var ErrBadStatus = errors.New("multipart: unexpected status")

// RequestSigner is the narrow pipeline collaborator the orchestrator issues
// create/complete/abort requests through.
type RequestSigner interface {
	MakeSignedRequest(ctx context.Context, req *http.Request) (*http.Response, error)
}

// PartObjectOps is the narrow objectops collaborator UploadPart/GetPart are
// built on.
type PartObjectOps interface {
	PutObject(ctx context.Context, key string, body io.Reader, size int64, retrieveETag bool) (etag string, err error)
	GetObject(ctx context.Context, key string, partNumber int, onBody func([]byte)) error
}

// MetricsPublisher is the narrow metrics collaborator the orchestrator
// reports transfer status and byte counts through.
type MetricsPublisher interface {
	AddDataPoint(name, unit string, value float64)
	AddTransferStatus(success bool)
}

// Options configures an Orchestrator.
type Options struct {
	Scheme      string
	LogicalHost string
	Address     func() string
	MaxStreams  int
	// MaxPartAttempts bounds what would otherwise be an open-ended
	// per-part retry loop. Zero uses DefaultMaxPartAttempts.
	MaxPartAttempts uint
}

// Orchestrator drives put_object_multipart / get_object_multipart.
type Orchestrator struct {
	signer    RequestSigner
	ops       PartObjectOps
	publisher MetricsPublisher
	opts      Options
	logger    logr.Logger

	uploads   *PartProcessor
	downloads *PartProcessor
}

// New returns an Orchestrator.
func New(signer RequestSigner, ops PartObjectOps, publisher MetricsPublisher, opts Options, logger logr.Logger) *Orchestrator {
	logger = logger.WithName("multipart")
	return &Orchestrator{
		signer:    signer,
		ops:       ops,
		publisher: publisher,
		opts:      opts,
		logger:    logger,
		uploads:   NewPartProcessor(opts.MaxStreams, opts.MaxPartAttempts, logger),
		downloads: NewPartProcessor(opts.MaxStreams, opts.MaxPartAttempts, logger),
	}
}

// PutObjectMultipart drives the upload state machine
// Init -> Creating -> Parts -> (Completing | Aborting) -> Done. sendPart
// supplies the body reader and length for a given part index. onFinished
// is invoked exactly once with the terminal error (nil on success) and
// the part count.
func (o *Orchestrator) PutObjectMultipart(ctx context.Context, key string, objectSize int64, numParts int,
	sendPart func(partIndex int) (ReadSeekCloser, int64, error), onFinished func(err error, numParts int),
) {
	state := NewUploadState(key, objectSize, numParts, sendPart, onFinished)

	uploadID, err := o.createMultipartUpload(ctx, key)
	if err != nil {
		state.finished.set(err)
		onFinished(err, numParts)
		return
	}
	state.setUploadID(uploadID)

	go o.runUpload(ctx, state)
}

func (o *Orchestrator) runUpload(ctx context.Context, state *UploadState) {
	err := o.uploads.Push(ctx, state.NumParts, func(ctx context.Context, partIndex int) error {
		return o.uploadPart(ctx, state, partIndex)
	})

	if err != nil {
		state.finished.set(err)
		// AbortMultipartUpload is best-effort; its own error is swallowed
		// and the original error is reported to the caller instead.
		_ = o.abortMultipartUpload(ctx, state.Key, state.UploadID())
		state.OnFinished(err, state.NumParts)
		return
	}

	completeErr := o.completeMultipartUpload(ctx, state.Key, state.UploadID(), state.sortedETags())
	if completeErr != nil {
		state.finished.set(completeErr)
		_ = o.abortMultipartUpload(ctx, state.Key, state.UploadID())
		state.OnFinished(completeErr, state.NumParts)
		return
	}

	state.OnFinished(nil, state.NumParts)
}

func (o *Orchestrator) uploadPart(ctx context.Context, state *UploadState, partIndex int) error {
	ts := newTransferState(partIndex)
	o.publisher.AddDataPoint("BytesUp", "Bytes", 0) // zero-value touch at part start

	body, size, err := state.SendPart(partIndex)
	if err != nil {
		o.publisher.AddTransferStatus(false)
		return fmt.Errorf("multipart: get part body: %w", err)
	}
	defer body.Close()

	key := fmt.Sprintf("%s?partNumber=%d&uploadId=%s", state.Key, ts.PartNumber, state.UploadID())
	etag, err := o.ops.PutObject(ctx, key, body, size, true)
	if err != nil {
		o.publisher.AddTransferStatus(false)
		return err
	}
	ts.AddBytesUp(size)
	o.publisher.AddDataPoint("BytesUp", "Bytes", float64(ts.BytesUp()))

	state.setETag(partIndex, etag)
	if state.incPartsCompleted() {
		o.logger.V(1).Info("all parts completed, will issue complete", "key", state.Key, "numParts", state.NumParts)
	}
	o.publisher.AddTransferStatus(true)
	return nil
}

// GetObjectMultipart drives the simpler download state machine
// Init -> Parts -> Done. receivePart is forwarded per-chunk body bytes.
func (o *Orchestrator) GetObjectMultipart(ctx context.Context, key string, numParts int,
	receivePart func(ts *TransferState, data []byte), onFinished func(err error, numParts int),
) {
	state := NewDownloadState(key, numParts, receivePart, onFinished)
	go o.runDownload(ctx, state)
}

func (o *Orchestrator) runDownload(ctx context.Context, state *DownloadState) {
	err := o.downloads.Push(ctx, state.NumParts, func(ctx context.Context, partIndex int) error {
		return o.downloadPart(ctx, state, partIndex)
	})
	state.finished.set(err)
	state.OnFinished(err, state.NumParts)
}

func (o *Orchestrator) downloadPart(ctx context.Context, state *DownloadState, partIndex int) error {
	ts := newTransferState(partIndex)
	o.publisher.AddDataPoint("BytesDown", "Bytes", 0) // zero-value touch at part start

	err := o.ops.GetObject(ctx, state.Key, ts.PartNumber, func(data []byte) {
		ts.AddBytesDown(int64(len(data)))
		state.ReceivePart(ts, data)
	})
	if err != nil {
		o.publisher.AddTransferStatus(false)
		return err
	}
	o.publisher.AddDataPoint("BytesDown", "Bytes", float64(ts.BytesDown()))
	o.publisher.AddTransferStatus(true)
	state.incPartsCompleted()
	return nil
}

// createMultipartUpload issues POST "/"+key+"?uploads" and parses the first
// <UploadId>...</UploadId> pair from the fully buffered response body,
// rather than scanning only the first chunk received.
func (o *Orchestrator) createMultipartUpload(ctx context.Context, key string) (string, error) {
	url := fmt.Sprintf("%s://%s/%s?uploads", o.opts.Scheme, o.opts.Address(), key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", fmt.Errorf("multipart: build create request: %w", err)
	}
	req.Host = o.opts.LogicalHost
	req.Header.Set("Content-Type", "text/plain")

	resp, err := o.signer.MakeSignedRequest(ctx, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: create multipart upload returned %d", ErrBadStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("multipart: read create response: %w", err)
	}

	id := parseUploadID(string(body))
	if id == "" {
		return "", ErrParseFailed
	}
	return id, nil
}

func parseUploadID(body string) string {
	const open, close = "<UploadId>", "</UploadId>"
	start := strings.Index(body, open)
	if start < 0 {
		return ""
	}
	start += len(open)
	end := strings.Index(body[start:], close)
	if end < 0 {
		return ""
	}
	return body[start : start+end]
}

// completeMultipartUpload issues POST "/"+key+"?uploadId="+U with the
// CompleteMultipartUpload XML body, in ascending part-index order.
func (o *Orchestrator) completeMultipartUpload(ctx context.Context, key, uploadID string, etags []string) error {
	body := buildCompleteMultipartUploadXML(etags)

	url := fmt.Sprintf("%s://%s/%s?uploadId=%s", o.opts.Scheme, o.opts.Address(), key, uploadID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("multipart: build complete request: %w", err)
	}
	req.Host = o.opts.LogicalHost
	req.ContentLength = int64(len(body))
	req.Header.Set("Content-Length", strconv.Itoa(len(body)))

	resp, err := o.signer.MakeSignedRequest(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: complete multipart upload returned %d", ErrBadStatus, resp.StatusCode)
	}
	return nil
}

// abortMultipartUpload issues DELETE "/"+key+"?uploadId="+U. Best-effort:
// callers swallow this error and report the original failure instead.
func (o *Orchestrator) abortMultipartUpload(ctx context.Context, key, uploadID string) error {
	if uploadID == "" {
		return nil
	}
	url := fmt.Sprintf("%s://%s/%s?uploadId=%s", o.opts.Scheme, o.opts.Address(), key, uploadID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("multipart: build abort request: %w", err)
	}
	req.Host = o.opts.LogicalHost

	resp, err := o.signer.MakeSignedRequest(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("%w: abort multipart upload returned %d", ErrBadStatus, resp.StatusCode)
	}
	return nil
}

// buildCompleteMultipartUploadXML assembles the CompleteMultipartUpload
// XML body S3 expects, in part-index order.
func buildCompleteMultipartUploadXML(etags []string) string {
	var b strings.Builder
	b.WriteString("<?xml version=\"1.0\" encoding=\"UTF-8\" ?>\n")
	b.WriteString("<CompleteMultipartUpload xmlns=\"http://s3.amazonaws.com/doc/2006-03-01/\">\n")
	for i, etag := range etags {
		b.WriteString("   <Part>\n")
		b.WriteString("       <ETag>" + etag + "</ETag>\n")
		b.WriteString("       <PartNumber>" + strconv.Itoa(i+1) + "</PartNumber>\n")
		b.WriteString("   </Part>\n")
	}
	b.WriteString("</CompleteMultipartUpload>")
	return b.String()
}
