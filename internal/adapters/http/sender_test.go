package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/logship/internal/domain"
	"github.com/bft-labs/logship/internal/ports"
)

func testBatch() *domain.Batch {
	return &domain.Batch{
		ID:          "b-1",
		Format:      "json",
		ContentType: "application/json",
		Payload:     []byte(`{ "events": [ {"a":1}, {"b":2} ] }`),
		Messages:    2,
		Consumed:    2,
	}
}

func testMeta(url string) ports.SendMetadata {
	return ports.SendMetadata{
		Source:     "/var/log/app.log",
		Hostname:   "host-1",
		OSArch:     "linux/amd64",
		AuthKey:    "secret",
		ServiceURL: url,
	}
}

func TestBatchSender_Send(t *testing.T) {
	var (
		gotHeader http.Header
		gotPath   string
		gotBody   []byte
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	s := NewBatchSender(ts.Client(), nil)
	b := testBatch()
	require.NoError(t, s.Send(context.Background(), b, testMeta(ts.URL)))

	require.Equal(t, ingestEndpoint, gotPath)
	require.Equal(t, b.Payload, gotBody)
	require.Equal(t, "Bearer secret", gotHeader.Get("Authorization"))
	require.Equal(t, "application/json", gotHeader.Get("Content-Type"))
	require.Empty(t, gotHeader.Get("Content-Encoding"))
	require.Equal(t, "host-1", gotHeader.Get("X-Agent-Hostname"))
	require.Equal(t, "linux/amd64", gotHeader.Get("X-Agent-OSArch"))
	require.Equal(t, "/var/log/app.log", gotHeader.Get("X-Logship-Source"))
	require.Equal(t, "json", gotHeader.Get("X-Logship-Format"))
	require.Equal(t, "b-1", gotHeader.Get("X-Batch-Id"))
	require.Equal(t, "2", gotHeader.Get("X-Batch-Messages"))
	require.Equal(t, strconv.FormatUint(xxhash.Sum64(b.Payload), 16), gotHeader.Get("X-Batch-Checksum"))
}

func TestBatchSender_Gzip(t *testing.T) {
	var (
		encoding string
		body     []byte
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		encoding = r.Header.Get("Content-Encoding")
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		body, _ = io.ReadAll(zr)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	s := NewBatchSender(ts.Client(), nil, WithGzip(gzip.BestSpeed))
	b := testBatch()
	require.NoError(t, s.Send(context.Background(), b, testMeta(ts.URL)))
	require.Equal(t, "gzip", encoding)
	require.Equal(t, b.Payload, body)
}

func TestBatchSender_NoAuthHeaderWithoutKey(t *testing.T) {
	var auth atomic.Value
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
	}))
	defer ts.Close()

	meta := testMeta(ts.URL)
	meta.AuthKey = ""
	require.NoError(t, NewBatchSender(ts.Client(), nil).Send(context.Background(), testBatch(), meta))
	require.Equal(t, "", auth.Load())
}

func TestBatchSender_StatusError(t *testing.T) {
	tests := []struct {
		code      int
		retryable bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusTooManyRequests, true},
		{http.StatusServiceUnavailable, true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.code)
			}))
			defer ts.Close()

			err := NewBatchSender(ts.Client(), nil).Send(context.Background(), testBatch(), testMeta(ts.URL))
			var se *StatusError
			require.True(t, errors.As(err, &se))
			require.Equal(t, tt.code, se.Code)
			require.Contains(t, se.Body, "nope")
			require.Equal(t, tt.retryable, se.Retryable())
		})
	}
}

func TestBatchSender_EmptyBatchSkipsRequest(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer ts.Close()

	err := NewBatchSender(ts.Client(), nil).Send(context.Background(), &domain.Batch{}, testMeta(ts.URL))
	require.NoError(t, err)
	require.Zero(t, calls.Load())
}

func TestBatchSender_TransportError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()

	err := NewBatchSender(http.DefaultClient, nil).Send(context.Background(), testBatch(), testMeta(url))
	require.Error(t, err)
	var se *StatusError
	require.False(t, errors.As(err, &se))
}
