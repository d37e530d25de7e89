package batch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bft-labs/logship/internal/domain"
	"github.com/bft-labs/logship/internal/queue"
)

type sliceSource [][]byte

func (s sliceSource) Len() int { return len(s) }

func (s sliceSource) Peek(dst []byte, index int) (int, error) {
	if index < 0 || index >= len(s) {
		return -1, domain.ErrIndexOutOfRange
	}
	if len(s[index]) > len(dst) {
		return -1, domain.ErrBufferTooSmall
	}
	return copy(dst, s[index]), nil
}

func source(msgs ...string) sliceSource {
	out := make(sliceSource, len(msgs))
	for i, m := range msgs {
		out[i] = []byte(m)
	}
	return out
}

func newTestBatcher(p Policy) (*Batcher, *ScratchPool) {
	sp := NewScratchPool(p.MaxMessageSize, nil)
	return NewBatcher(p, sp, nil), sp
}

func TestBatcher_JSONFramingParses(t *testing.T) {
	q, err := queue.New(queue.DefaultConfig())
	require.NoError(t, err)

	const k = 25
	for i := 0; i < k; i++ {
		msg := fmt.Sprintf(`{"seq":%d,"msg":"event %d"}`, i, i)
		require.NoError(t, q.Enqueue([]byte(msg)))
	}

	b, sp := newTestBatcher(JSONPolicy())
	dst := make([]byte, DefaultMaxBatchBytes)
	res := b.Batch(q, dst)

	require.Equal(t, StatusSuccess, res.Status)
	require.Equal(t, k, res.Messages)
	require.Equal(t, k, res.Consumed)
	require.Equal(t, byte(0), dst[res.Bytes], "batch must be NUL terminated")
	require.Equal(t, k, q.Len(), "batching must not remove messages")
	require.Equal(t, 0, sp.InUse())

	var doc struct {
		Events []struct {
			Seq int    `json:"seq"`
			Msg string `json:"msg"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal(dst[:res.Bytes], &doc))
	require.Len(t, doc.Events, k)
	for i, ev := range doc.Events {
		require.Equal(t, i, ev.Seq)
		require.Equal(t, fmt.Sprintf("event %d", i), ev.Msg)
	}
}

func TestBatcher_ExactFraming(t *testing.T) {
	b, _ := newTestBatcher(JSONPolicy())

	dst := make([]byte, 22)
	res := b.Batch(source("1", "2"), dst)
	require.Equal(t, StatusSuccess, res.Status)
	require.Equal(t, 2, res.Messages)
	require.Equal(t, `{ "events": [ 1, 2 ] }`, string(dst[:res.Bytes]))
	require.Equal(t, 22, res.Bytes, "exact fit leaves no room for the terminator")

	dst = make([]byte, 21)
	res = b.Batch(source("1", "2"), dst)
	require.Equal(t, StatusSuccess, res.Status)
	require.Equal(t, 1, res.Messages)
	require.Equal(t, 1, res.Consumed)
	require.Equal(t, `{ "events": [ 1 ] }`, string(dst[:res.Bytes]))
	require.Equal(t, byte(0), dst[res.Bytes])
}

func TestBatcher_SmallBufferScenario(t *testing.T) {
	p := JSONPolicy()
	p.Header = []byte("{")
	p.Separator = nil
	p.Trailer = []byte("}")
	b, _ := newTestBatcher(p)

	res := b.Batch(source(string(bytes.Repeat([]byte("m"), 50))), make([]byte, 40))
	require.Equal(t, StatusBufferTooSmall, res.Status)
	require.Equal(t, 0, res.Messages)
	require.Equal(t, 0, res.Consumed)
	require.Equal(t, 0, res.Bytes)
}

func TestBatcher_Statuses(t *testing.T) {
	b, _ := newTestBatcher(JSONPolicy())

	res := b.Batch(source("a"), nil)
	require.Equal(t, StatusInvalidBuffer, res.Status)

	res = b.Batch(nil, make([]byte, 64))
	require.Equal(t, StatusInvalidBuffer, res.Status)

	res = b.Batch(source(), make([]byte, 64))
	require.Equal(t, StatusNoMessages, res.Status)

	res = b.Batch(source("a"), make([]byte, 10))
	require.Equal(t, StatusBufferTooSmall, res.Status, "header alone exceeds the buffer")
}

func TestBatcher_SkipsOversizedMessages(t *testing.T) {
	p := JSONPolicy()
	p.MaxMessageSize = 8
	b, _ := newTestBatcher(p)

	dst := make([]byte, 128)
	res := b.Batch(source(`"a"`, `"this is far too long"`, `"c"`), dst)
	require.Equal(t, StatusSuccess, res.Status)
	require.Equal(t, 2, res.Messages)
	require.Equal(t, 1, res.Skipped)
	require.Equal(t, 3, res.Consumed)
	require.Equal(t, `{ "events": [ "a", "c" ] }`, string(dst[:res.Bytes]))

	res = b.Batch(source(`"this is far too long"`), dst)
	require.Equal(t, StatusMessageTooLarge, res.Status)
	require.Equal(t, 0, res.Messages)
	require.Equal(t, 1, res.Consumed, "skipped messages are retired by the caller")
}

func TestBatcher_MaxMessageSizeAboveScratch(t *testing.T) {
	p := JSONPolicy()
	p.MaxMessageSize = 1024
	b := NewBatcher(p, NewScratchPool(4, nil), nil)

	res := b.Batch(source("12345", "1"), make([]byte, 64))
	require.Equal(t, StatusSuccess, res.Status)
	require.Equal(t, 1, res.Messages)
	require.Equal(t, 1, res.Skipped)
}

func TestBatcher_MaxMessages(t *testing.T) {
	p := LinePolicy()
	p.MaxMessages = 3
	b, _ := newTestBatcher(p)

	dst := make([]byte, 64)
	res := b.Batch(source("a", "b", "c", "d", "e"), dst)
	require.Equal(t, StatusSuccess, res.Status)
	require.Equal(t, 3, res.Messages)
	require.Equal(t, 3, res.Consumed)
	require.Equal(t, "a\nb\nc", string(dst[:res.Bytes]))
}

func TestBatcher_MaxBatchBytesCapsBuffer(t *testing.T) {
	p := LinePolicy()
	p.MaxBatchBytes = 5
	b, _ := newTestBatcher(p)

	dst := make([]byte, 64)
	res := b.Batch(source("ab", "cd", "ef"), dst)
	require.Equal(t, StatusSuccess, res.Status)
	require.Equal(t, 2, res.Messages)
	require.Equal(t, "ab\ncd", string(dst[:res.Bytes]))
}

func TestBatcher_ReleasesScratchOnEveryPath(t *testing.T) {
	p := JSONPolicy()
	p.MaxMessageSize = 8
	b, sp := newTestBatcher(p)

	b.Batch(source("1", "2"), make([]byte, 64))
	b.Batch(source("far too long message"), make([]byte, 64))
	b.Batch(source("1234567"), make([]byte, 20))
	require.Equal(t, 0, sp.InUse())
}

func TestStatus_String(t *testing.T) {
	require.Equal(t, "success", StatusSuccess.String())
	require.Equal(t, "buffer-too-small", StatusBufferTooSmall.String())
	require.Equal(t, "no-messages", StatusNoMessages.String())
	require.Equal(t, "invalid-buffer", StatusInvalidBuffer.String())
	require.Equal(t, "message-too-large", StatusMessageTooLarge.String())
	require.Equal(t, "unknown", Status(42).String())
}
