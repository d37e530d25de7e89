package domain

import (
	"errors"
	"testing"
)

func TestOpError(t *testing.T) {
	err := NewOpError("queue.peek", ErrIndexOutOfRange, "index 4")
	if got, want := err.Error(), "queue.peek: logship: index out of range (index 4)"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrIndexOutOfRange) {
		t.Error("errors.Is should match the wrapped sentinel")
	}

	bare := NewOpError("queue.enqueue", ErrEmptyMessage, "")
	if got, want := bare.Error(), "queue.enqueue: logship: empty message"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	var opErr *OpError
	if !errors.As(error(bare), &opErr) || opErr.Op != "queue.enqueue" {
		t.Error("errors.As should recover the operation")
	}
}

func TestCheckpoint_For(t *testing.T) {
	cp := Checkpoint{Path: "/var/log/app.log", Offset: 120, Lines: 3}

	if got := cp.For("/var/log/app.log"); got != cp {
		t.Errorf("For(same path) = %+v, want %+v", got, cp)
	}
	if got := cp.For("/var/log/other.log"); got.Offset != 0 || got.Path != "/var/log/other.log" {
		t.Errorf("For(other path) = %+v, want fresh checkpoint", got)
	}
	if !(Checkpoint{}).IsZero() {
		t.Error("zero checkpoint should report IsZero")
	}
}

func TestBatch_SizeAndEmpty(t *testing.T) {
	b := &Batch{Payload: []byte("{}")}
	if b.Size() != 2 {
		t.Errorf("Size() = %d, want 2", b.Size())
	}
	if !b.Empty() {
		t.Error("batch with no messages should be empty")
	}
}
