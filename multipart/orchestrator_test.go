package multipart_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/aws-samples/s3-canary-transport/multipart"
	"github.com/aws-samples/s3-canary-transport/objectops"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type passthroughSigner struct{}

func (passthroughSigner) MakeSignedRequest(ctx context.Context, req *http.Request) (*http.Response, error) {
	return http.DefaultClient.Do(req)
}

type recordingPublisher struct {
	mu       sync.Mutex
	statuses []bool
}

func (p *recordingPublisher) AddDataPoint(name, unit string, value float64) {}
func (p *recordingPublisher) AddTransferStatus(success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, success)
}

type closableReader struct{ io.Reader }

func (closableReader) Close() error { return nil }

func newOrchestrator(serverURL string, maxAttempts uint) (*multipart.Orchestrator, objectops.RequestSigner) {
	address := func() string { return strings.TrimPrefix(serverURL, "http://") }
	ops := objectops.New(passthroughSigner{}, "http", "bucket.s3.amazonaws.com", address, logr.Discard())
	orch := multipart.New(passthroughSigner{}, ops, &recordingPublisher{}, multipart.Options{
		Scheme:          "http",
		LogicalHost:     "bucket.s3.amazonaws.com",
		Address:         address,
		MaxStreams:      10,
		MaxPartAttempts: maxAttempts,
	}, logr.Discard())
	return orch, passthroughSigner{}
}

var _ = Describe("Orchestrator", func() {
	It("parses a successful CreateMultipartUpload response for a 1-part upload", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.Method == http.MethodPost && r.URL.RawQuery == "uploads":
				_, _ = w.Write([]byte("<foo><UploadId>U-42</UploadId></foo>"))
			case r.Method == http.MethodPut:
				w.Header().Set("ETag", "e1")
				w.WriteHeader(http.StatusOK)
			case r.Method == http.MethodPost:
				w.WriteHeader(http.StatusOK)
			}
		}))
		DeferCleanup(server.Close)

		orch, _ := newOrchestrator(server.URL, 1)

		done := make(chan struct{})
		var finishErr error
		orch.PutObjectMultipart(context.Background(), "key", 10, 1,
			func(partIndex int) (multipart.ReadSeekCloser, int64, error) {
				return closableReader{strings.NewReader("x")}, 1, nil
			},
			func(err error, numParts int) {
				finishErr = err
				close(done)
			},
		)

		Eventually(done, 5*time.Second).Should(BeClosed())
		Expect(finishErr).ToNot(HaveOccurred())
	})

	It("surfaces ErrParseFailed when CreateMultipartUpload's body has no UploadId", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<foo></foo>"))
		}))
		DeferCleanup(server.Close)

		orch, _ := newOrchestrator(server.URL, 1)

		done := make(chan struct{})
		var finishErr error
		orch.PutObjectMultipart(context.Background(), "key", 10, 1,
			func(partIndex int) (multipart.ReadSeekCloser, int64, error) {
				return closableReader{strings.NewReader("x")}, 1, nil
			},
			func(err error, numParts int) {
				finishErr = err
				close(done)
			},
		)

		Eventually(done, 5*time.Second).Should(BeClosed())
		Expect(finishErr).To(MatchError(multipart.ErrParseFailed))
	})

	It("drives a happy-path 3-part upload and assembles the exact Complete XML body", func() {
		var mu sync.Mutex
		var completeBody string
		aborted := false

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.Method == http.MethodPost && r.URL.RawQuery == "uploads":
				_, _ = w.Write([]byte("<UploadId>U-1</UploadId>"))
			case r.Method == http.MethodPut:
				partNumber := r.URL.Query().Get("partNumber")
				w.Header().Set("ETag", "e"+partNumber)
				w.WriteHeader(http.StatusOK)
			case r.Method == http.MethodPost:
				body, _ := io.ReadAll(r.Body)
				mu.Lock()
				completeBody = string(body)
				mu.Unlock()
				w.WriteHeader(http.StatusOK)
			case r.Method == http.MethodDelete:
				aborted = true
				w.WriteHeader(http.StatusNoContent)
			}
		}))
		DeferCleanup(server.Close)

		orch, _ := newOrchestrator(server.URL, 1)

		done := make(chan struct{})
		var finishErr error
		var finishParts int
		orch.PutObjectMultipart(context.Background(), "key", 30, 3,
			func(partIndex int) (multipart.ReadSeekCloser, int64, error) {
				return closableReader{strings.NewReader("x")}, 1, nil
			},
			func(err error, numParts int) {
				finishErr = err
				finishParts = numParts
				close(done)
			},
		)

		Eventually(done, 5*time.Second).Should(BeClosed())
		Expect(finishErr).ToNot(HaveOccurred())
		Expect(finishParts).To(Equal(3))
		Expect(aborted).To(BeFalse())

		mu.Lock()
		defer mu.Unlock()
		Expect(completeBody).To(Equal(
			"<?xml version=\"1.0\" encoding=\"UTF-8\" ?>\n" +
				"<CompleteMultipartUpload xmlns=\"http://s3.amazonaws.com/doc/2006-03-01/\">\n" +
				"   <Part>\n       <ETag>e1</ETag>\n       <PartNumber>1</PartNumber>\n   </Part>\n" +
				"   <Part>\n       <ETag>e2</ETag>\n       <PartNumber>2</PartNumber>\n   </Part>\n" +
				"   <Part>\n       <ETag>e3</ETag>\n       <PartNumber>3</PartNumber>\n   </Part>\n" +
				"</CompleteMultipartUpload>",
		))
	})

	It("retries a failing part and still completes once it succeeds", func() {
		var attempts sync.Map // partNumber -> *int32

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.Method == http.MethodPost && r.URL.RawQuery == "uploads":
				_, _ = w.Write([]byte("<UploadId>U-5</UploadId>"))
			case r.Method == http.MethodPut:
				partNumber := r.URL.Query().Get("partNumber")
				v, _ := attempts.LoadOrStore(partNumber, new(int))
				counter := v.(*int)
				*counter++
				if partNumber == "2" && *counter == 1 {
					w.WriteHeader(http.StatusInternalServerError)
					return
				}
				w.Header().Set("ETag", "e"+partNumber)
				w.WriteHeader(http.StatusOK)
			case r.Method == http.MethodPost:
				w.WriteHeader(http.StatusOK)
			}
		}))
		DeferCleanup(server.Close)

		orch, _ := newOrchestrator(server.URL, 3)

		done := make(chan struct{})
		var finishErr error
		orch.PutObjectMultipart(context.Background(), "key", 30, 3,
			func(partIndex int) (multipart.ReadSeekCloser, int64, error) {
				return closableReader{strings.NewReader("x")}, 1, nil
			},
			func(err error, numParts int) {
				finishErr = err
				close(done)
			},
		)

		Eventually(done, 5*time.Second).Should(BeClosed())
		Expect(finishErr).ToNot(HaveOccurred())

		v, ok := attempts.Load("2")
		Expect(ok).To(BeTrue())
		Expect(*v.(*int)).To(BeNumerically(">=", 2))
	})

	It("aborts and reports the original error when a part permanently fails", func() {
		var abortPath string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.Method == http.MethodPost && r.URL.RawQuery == "uploads":
				_, _ = w.Write([]byte("<UploadId>U-9</UploadId>"))
			case r.Method == http.MethodPut:
				w.WriteHeader(http.StatusInternalServerError)
			case r.Method == http.MethodDelete:
				abortPath = r.URL.Path + "?" + r.URL.RawQuery
				w.WriteHeader(http.StatusNoContent)
			case r.Method == http.MethodPost:
				Fail("Complete must not be issued when a part permanently fails")
			}
		}))
		DeferCleanup(server.Close)

		orch, _ := newOrchestrator(server.URL, 1)

		done := make(chan struct{})
		var finishErr error
		orch.PutObjectMultipart(context.Background(), "key", 10, 1,
			func(partIndex int) (multipart.ReadSeekCloser, int64, error) {
				return closableReader{strings.NewReader("x")}, 1, nil
			},
			func(err error, numParts int) {
				finishErr = err
				close(done)
			},
		)

		Eventually(done, 5*time.Second).Should(BeClosed())
		Expect(finishErr).To(HaveOccurred())
		Expect(abortPath).To(Equal("/key?uploadId=U-9"))
	})

	It("drives a download: forwards chunks and finishes once all parts complete", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write([]byte("part-" + r.URL.Query().Get("partNumber")))
		}))
		DeferCleanup(server.Close)

		orch, _ := newOrchestrator(server.URL, 1)

		var mu sync.Mutex
		received := map[int]string{}
		done := make(chan struct{})
		orch.GetObjectMultipart(context.Background(), "key", 2,
			func(ts *multipart.TransferState, data []byte) {
				mu.Lock()
				received[ts.PartNumber] = string(data)
				mu.Unlock()
			},
			func(err error, numParts int) {
				close(done)
			},
		)

		Eventually(done, 5*time.Second).Should(BeClosed())
		mu.Lock()
		defer mu.Unlock()
		Expect(received).To(HaveKeyWithValue(1, "part-1"))
		Expect(received).To(HaveKeyWithValue(2, "part-2"))
	})
})
