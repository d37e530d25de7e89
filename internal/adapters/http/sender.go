package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/gzip"

	"github.com/bft-labs/logship/internal/domain"
	"github.com/bft-labs/logship/internal/ports"
	"github.com/bft-labs/logship/pkg/log"
)

const ingestEndpoint = "/v1/ingest/logs"

// maxErrorBody bounds how much of a failed response is kept for the error.
const maxErrorBody = 4 << 10

// StatusError is returned when the service answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Body)
}

// Retryable reports whether the same batch may succeed if sent again.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Option configures a BatchSender.
type Option func(*BatchSender)

// WithGzip compresses request bodies at the given level.
func WithGzip(level int) Option {
	return func(s *BatchSender) {
		s.gzip = true
		s.level = level
	}
}

// BatchSender implements ports.BatchSender with one HTTP POST per batch.
type BatchSender struct {
	client ports.HTTPClient
	logger log.Logger
	gzip   bool
	level  int
}

// NewBatchSender creates a new HTTP batch sender.
func NewBatchSender(client ports.HTTPClient, logger log.Logger, opts ...Option) *BatchSender {
	s := &BatchSender{
		client: client,
		logger: log.OrNoop(logger),
		level:  gzip.DefaultCompression,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send transmits one framed batch to the remote service.
func (s *BatchSender) Send(ctx context.Context, batch *domain.Batch, metadata ports.SendMetadata) error {
	if batch.Empty() {
		return nil
	}

	body := batch.Payload
	if s.gzip {
		var buf bytes.Buffer
		zw, err := gzip.NewWriterLevel(&buf, s.level)
		if err != nil {
			return fmt.Errorf("create gzip writer: %w", err)
		}
		if _, err := zw.Write(batch.Payload); err != nil {
			return fmt.Errorf("compress batch: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("finalize gzip: %w", err)
		}
		body = buf.Bytes()
	}

	url := metadata.ServiceURL + ingestEndpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if metadata.AuthKey != "" {
		req.Header.Set("Authorization", "Bearer "+metadata.AuthKey)
	}
	req.Header.Set("Content-Type", batch.ContentType)
	if s.gzip {
		req.Header.Set("Content-Encoding", "gzip")
	}
	req.Header.Set("X-Agent-Hostname", metadata.Hostname)
	req.Header.Set("X-Agent-OSArch", metadata.OSArch)
	req.Header.Set("X-Logship-Source", metadata.Source)
	req.Header.Set("X-Logship-Format", batch.Format)
	req.Header.Set("X-Batch-Id", batch.ID)
	req.Header.Set("X-Batch-Messages", strconv.Itoa(batch.Messages))
	req.Header.Set("X-Batch-Checksum", strconv.FormatUint(xxhash.Sum64(batch.Payload), 16))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Code: resp.StatusCode, Body: string(respBody)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	s.logger.Debug("batch delivered",
		log.Component("sender"),
		log.String("batch_id", batch.ID),
		log.Int("messages", batch.Messages),
		log.Int("bytes", len(batch.Payload)),
		log.Int("wire_bytes", len(body)),
	)
	return nil
}
