package pipeline_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"

	"github.com/go-logr/logr"

	"github.com/aws-samples/s3-canary-transport/internal/pipeline"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type passthroughSigner struct{ err error }

func (s passthroughSigner) Sign(ctx context.Context, req *http.Request) error { return s.err }

type staticFabric struct {
	client       pipeline.HTTPDoer
	err          error
	beginCalls   int
	endCalls     int
	warmUpCalled bool
}

func (f *staticFabric) Next(ctx context.Context, warmUp func(context.Context) error) (pipeline.HTTPDoer, error) {
	if warmUp != nil {
		f.warmUpCalled = true
		if err := warmUp(ctx); err != nil {
			return nil, err
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.client, nil
}

func (f *staticFabric) BeginStream() { f.beginCalls++ }
func (f *staticFabric) EndStream()   { f.endCalls++ }

type doerFunc func(*http.Request) (*http.Response, error)

func (d doerFunc) Do(req *http.Request) (*http.Response, error) { return d(req) }

var _ = Describe("Pipeline", func() {
	It("signs, acquires, and executes, tracking in-flight count symmetrically", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		DeferCleanup(server.Close)

		fab := &staticFabric{client: http.DefaultClient}
		p := pipeline.New(passthroughSigner{}, fab, nil, logr.Discard())

		req, err := http.NewRequest(http.MethodGet, server.URL, nil)
		Expect(err).ToNot(HaveOccurred())

		resp, err := p.MakeSignedRequest(context.Background(), req)
		Expect(err).ToNot(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(fab.beginCalls).To(Equal(1))
		Expect(fab.endCalls).To(Equal(1))
	})

	It("surfaces ErrSignFailed and never acquires a connection", func() {
		fab := &staticFabric{client: http.DefaultClient}
		p := pipeline.New(passthroughSigner{err: errors.New("boom")}, fab, nil, logr.Discard())

		req, _ := http.NewRequest(http.MethodGet, "http://example.invalid", nil)
		_, err := p.MakeSignedRequest(context.Background(), req)
		Expect(err).To(MatchError(pipeline.ErrSignFailed))
		Expect(fab.beginCalls).To(BeZero())
	})

	It("surfaces ErrAcquireFailed when the fabric has no manager", func() {
		fab := &staticFabric{err: errors.New("no managers")}
		p := pipeline.New(passthroughSigner{}, fab, nil, logr.Discard())

		req, _ := http.NewRequest(http.MethodGet, "http://example.invalid", nil)
		_, err := p.MakeSignedRequest(context.Background(), req)
		Expect(err).To(MatchError(pipeline.ErrAcquireFailed))
	})

	It("surfaces ErrStreamError and still decrements in-flight", func() {
		fab := &staticFabric{client: doerFunc(func(r *http.Request) (*http.Response, error) {
			return nil, errors.New("connection reset")
		})}
		p := pipeline.New(passthroughSigner{}, fab, nil, logr.Discard())

		req, _ := http.NewRequest(http.MethodGet, "http://example.invalid", nil)
		_, err := p.MakeSignedRequest(context.Background(), req)
		Expect(err).To(MatchError(pipeline.ErrStreamError))
		Expect(fab.beginCalls).To(Equal(1))
		Expect(fab.endCalls).To(Equal(1))
	})

	It("invokes the lazy warm-up callback when supplied", func() {
		fab := &staticFabric{client: http.DefaultClient}
		warmedUp := false
		p := pipeline.New(passthroughSigner{}, fab, func(ctx context.Context) error {
			warmedUp = true
			return nil
		}, logr.Discard())

		req, _ := http.NewRequest(http.MethodGet, "http://example.invalid", nil)
		_, _ = p.MakeSignedRequest(context.Background(), req)
		Expect(warmedUp).To(BeTrue())
		Expect(fab.warmUpCalled).To(BeTrue())
	})
})
