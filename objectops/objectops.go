// Package objectops implements the object operations component: single-shot
// PutObject / GetObject built on the signed request pipeline, plus the
// header/path/body assembly and ETag extraction rules a raw S3 HTTP
// transport needs.
package objectops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-logr/logr"
	"github.com/samber/lo"
)

// ErrBadStatus is returned when a transport-successful response carries an
// HTTP status the operation did not expect.
var ErrBadStatus = errors.New("objectops: unexpected status")

// etagHeader is the header name PutObject reads the ETag from. The lookup
// goes through http.Header.Get, so the match is case-insensitive.
const etagHeader = "ETag"

// RequestSigner is the narrow pipeline collaborator Ops is built on.
type RequestSigner interface {
	MakeSignedRequest(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Ops implements PutObject/GetObject against a single bucket endpoint.
type Ops struct {
	pipeline    RequestSigner
	scheme      string
	logicalHost string
	address     func() string
	logger      logr.Logger
}

// New returns Ops. address is called once per request to obtain the host
// the request line's URL is built against; the fabric's http.Transport
// ignores that host at dial time and connects to its own pinned IP
// instead, so address only needs to produce something that parses as a
// valid URL authority — the logical Host header carries the real
// (SNI-independent) addressing information S3 uses to route the request.
func New(pipeline RequestSigner, scheme, logicalHost string, address func() string, logger logr.Logger) *Ops {
	return &Ops{
		pipeline:    pipeline,
		scheme:      scheme,
		logicalHost: logicalHost,
		address:     address,
		logger:      logger.WithName("objectops"),
	}
}

// PutObject issues a single-shot PUT of body under key. If retrieveETag is
// true, the response's ETag header is returned.
func (o *Ops) PutObject(ctx context.Context, key string, body io.Reader, size int64, retrieveETag bool) (etag string, err error) {
	url := fmt.Sprintf("%s://%s/%s", o.scheme, o.address(), key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, body)
	if err != nil {
		return "", fmt.Errorf("objectops: build put request: %w", err)
	}
	req.Host = o.logicalHost
	req.Header.Set("Content-Type", "text/plain")
	req.ContentLength = size
	req.Header.Set("Content-Length", strconv.FormatInt(size, 10))

	resp, err := o.pipeline.MakeSignedRequest(ctx, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: put object returned %d", ErrBadStatus, resp.StatusCode)
	}

	if !retrieveETag {
		return "", nil
	}

	var etagPtr *string
	if h := resp.Header.Get(etagHeader); h != "" {
		etagPtr = lo.ToPtr(h)
	}
	return lo.FromPtr(etagPtr), nil
}

// GetObject issues a single-shot GET of key. When partNumber > 0, the
// request asks S3 to serve exactly that part's byte range and expects 206;
// otherwise it expects 200. Each chunk read from the response body is
// forwarded to onBody as it is read.
func (o *Ops) GetObject(ctx context.Context, key string, partNumber int, onBody func([]byte)) error {
	path := fmt.Sprintf("%s://%s/%s", o.scheme, o.address(), key)
	if partNumber > 0 {
		path += fmt.Sprintf("?partNumber=%d", partNumber)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return fmt.Errorf("objectops: build get request: %w", err)
	}
	req.Host = o.logicalHost

	resp, err := o.pipeline.MakeSignedRequest(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	expected := http.StatusOK
	if partNumber > 0 {
		expected = http.StatusPartialContent
	}
	if resp.StatusCode != expected {
		return fmt.Errorf("%w: get object returned %d, expected %d", ErrBadStatus, resp.StatusCode, expected)
	}

	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 && onBody != nil {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			onBody(chunk)
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("objectops: read body: %w", readErr)
		}
	}
}
