package canarytest_test

import (
	"context"
	"strings"
	"sync"
	"time"

	canary "github.com/aws-samples/s3-canary-transport"
	"github.com/aws-samples/s3-canary-transport/canarytest"
	"github.com/aws-samples/s3-canary-transport/multipart"
	"github.com/go-logr/logr"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type closableStringReader struct{ *strings.Reader }

func (closableStringReader) Close() error { return nil }

var _ = Describe("Engine against a live S3-compatible endpoint", func() {
	newEngine := func(numTransfers int) *canary.Engine {
		cfg := canary.Config{
			Bucket:        bucketName,
			Region:        region,
			AccessKey:     accessKey,
			SecretKey:     secretKey,
			SendEncrypted: false,
			NumTransfers:  numTransfers,
		}
		e, err := canary.New(cfg, logr.Discard(),
			canary.WithResolver(canarytest.NewFakeResolver(containerHost)),
			canary.WithPort(containerPort),
		)
		Expect(err).ToNot(HaveOccurred())
		return e
	}

	It("puts and gets a single object", func(ctx context.Context) {
		e := newEngine(1)
		Expect(e.WarmUp(ctx)).To(Succeed())

		body := "hello from the canary"
		etag, err := e.PutObject(ctx, "single-object", strings.NewReader(body), int64(len(body)), true)
		Expect(err).ToNot(HaveOccurred())
		Expect(etag).ToNot(BeEmpty())

		var got strings.Builder
		Expect(e.GetObject(ctx, "single-object", 0, func(chunk []byte) {
			got.Write(chunk)
		})).To(Succeed())
		Expect(got.String()).To(Equal(body))
	}, NodeTimeout(30*time.Second))

	It("drives a multipart upload end to end", func(ctx context.Context) {
		e := newEngine(1)
		Expect(e.WarmUp(ctx)).To(Succeed())

		parts := []string{"part-one-", "part-two-", "part-three"}
		done := make(chan struct{})
		var finishErr error
		e.PutObjectMultipart(ctx, "multipart-object", int64(len(strings.Join(parts, ""))), len(parts),
			func(partIndex int) (multipart.ReadSeekCloser, int64, error) {
				body := parts[partIndex]
				return closableStringReader{strings.NewReader(body)}, int64(len(body)), nil
			},
			func(err error, numParts int) {
				finishErr = err
				close(done)
			},
		)

		Eventually(done, 20*time.Second).Should(BeClosed())
		Expect(finishErr).ToNot(HaveOccurred())

		var mu sync.Mutex
		var got strings.Builder
		Expect(e.GetObject(ctx, "multipart-object", 0, func(chunk []byte) {
			mu.Lock()
			defer mu.Unlock()
			got.Write(chunk)
		})).To(Succeed())
		Expect(got.String()).To(Equal(strings.Join(parts, "")))
	}, NodeTimeout(30*time.Second))
})
