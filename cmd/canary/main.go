package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/sdk/metric"

	canary "github.com/aws-samples/s3-canary-transport"
	canarymetrics "github.com/aws-samples/s3-canary-transport/metrics"
	"github.com/aws-samples/s3-canary-transport/multipart"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := logr.FromSlogHandler(slog.NewJSONHandler(os.Stdout, nil))

	cfg := canary.Config{
		Bucket:        mustGetEnv("S3_BUCKET_NAME"),
		Region:        mustGetEnv("S3_REGION"),
		AccessKey:     mustGetEnv("S3_ACCESS_KEY"),
		SecretKey:     mustGetEnv("S3_SECRET_KEY"),
		SendEncrypted: getEnvBool("S3_SEND_ENCRYPTED", true),
		NumTransfers:  getEnvInt("CANARY_NUM_TRANSFERS", 10),
	}
	objectSize := int64(getEnvInt("CANARY_OBJECT_SIZE", 8<<20))
	numParts := getEnvInt("CANARY_NUM_PARTS", 4)

	reader := metric.NewManualReader()
	meterProvider := metric.NewMeterProvider(metric.WithReader(reader))
	publisher, err := canarymetrics.NewOTelPublisher(meterProvider.Meter("canary"))
	if err != nil {
		logger.Error(err, "failed to set up metrics publisher")
		return
	}

	engine, err := canary.New(cfg, logger, canary.WithMetricsPublisher(publisher))
	if err != nil {
		logger.Error(err, "failed to build canary engine")
		return
	}

	logger.Info("warming up address book", "numTransfers", cfg.NumTransfers)
	if err := engine.WarmUp(ctx); err != nil {
		logger.Error(err, "failed to warm up")
		return
	}

	key := fmt.Sprintf("canary-%d", time.Now().UnixNano())
	var wg sync.WaitGroup
	wg.Add(1)
	engine.PutObjectMultipart(ctx, key, objectSize, numParts,
		func(partIndex int) (multipart.ReadSeekCloser, int64, error) {
			return partBodyFactory(objectSize, numParts, partIndex)
		},
		func(err error, parts int) {
			defer wg.Done()
			if err != nil {
				logger.Error(err, "multipart upload failed", "key", key, "parts", parts)
				return
			}
			logger.Info("multipart upload finished", "key", key, "parts", parts)
		},
	)
	wg.Wait()

	logger.Info("open connections at exit", "count", engine.OpenConnectionCount())
}

// partBodyFactory produces a fixed-size zero-filled part body, a canary
// fixture rather than real payload data.
func partBodyFactory(objectSize int64, numParts, partIndex int) (multipart.ReadSeekCloser, int64, error) {
	size := objectSize / int64(numParts)
	if partIndex == numParts-1 {
		size += objectSize % int64(numParts)
	}
	return &zeroReader{remaining: size}, size, nil
}

type zeroReader struct{ remaining int64 }

func (z *zeroReader) Read(p []byte) (int, error) {
	if z.remaining <= 0 {
		return 0, io.EOF
	}
	n := int64(len(p))
	if n > z.remaining {
		n = z.remaining
	}
	for i := int64(0); i < n; i++ {
		p[i] = 0
	}
	z.remaining -= n
	return int(n), nil
}

func (z *zeroReader) Close() error { return nil }

func mustGetEnv(key string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		panic(fmt.Sprintf("missing env: %q", key))
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return b
}
