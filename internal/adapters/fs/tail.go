package fs

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/logship/internal/domain"
	"github.com/bft-labs/logship/internal/ports"
	"github.com/bft-labs/logship/pkg/log"
)

// Line formats understood by TailSource.
const (
	// FormatText wraps each line in a JSON object with a message field.
	FormatText = "text"

	// FormatJSON passes lines that are valid JSON through unchanged and
	// wraps the rest like FormatText.
	FormatJSON = "json"

	// FormatRaw passes every line through unchanged.
	FormatRaw = "raw"
)

const (
	defaultTailPoll = 250 * time.Millisecond
	readBufferSize  = 64 << 10
)

// TailConfig configures a TailSource.
type TailConfig struct {
	// Path is the file to follow.
	Path string

	// Format selects how lines become messages.
	Format string

	// Hostname is recorded in wrapped text messages.
	Hostname string

	// PollInterval is the fallback check for rotation and growth when no
	// file system event arrives.
	PollInterval time.Duration

	// Once stops at end of file instead of following it.
	Once bool

	// MaxLineSize bounds the bytes buffered for one line. A longer line is
	// skipped up to its newline. Zero means unbounded.
	MaxLineSize int
}

// TailSource implements ports.EventSource by following a log file.
//
// The read offset is checkpointed through a StateRepository at each end
// of file, so a restart resumes after the last line handed to the queue.
// The file is reopened from the start when it is rotated or truncated.
type TailSource struct {
	cfg    TailConfig
	state  ports.StateRepository
	logger log.Logger
	now    func() time.Time

	file    *os.File
	reader  *bufio.Reader
	pending []byte
	cp      domain.Checkpoint
	saved   domain.Checkpoint

	// lineBytes counts every byte of the current line, including any
	// discarded once it passed MaxLineSize.
	lineBytes  int64
	discarding bool
}

// NewTailSource creates a source following cfg.Path.
func NewTailSource(cfg TailConfig, state ports.StateRepository, logger log.Logger) *TailSource {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultTailPoll
	}
	if cfg.Format == "" {
		cfg.Format = FormatText
	}
	return &TailSource{
		cfg:    cfg,
		state:  state,
		logger: log.OrNoop(logger),
		now:    time.Now,
	}
}

// ValidFormat reports whether f names a supported line format.
func ValidFormat(f string) bool {
	switch f {
	case FormatText, FormatJSON, FormatRaw:
		return true
	}
	return false
}

// Run follows the file until ctx is done, or until end of file in Once mode.
func (s *TailSource) Run(ctx context.Context, emit ports.EmitFunc) error {
	if !ValidFormat(s.cfg.Format) {
		return fmt.Errorf("%w: unknown line format %q", domain.ErrInvalidConfig, s.cfg.Format)
	}

	cp, err := s.state.Load(ctx)
	if err != nil {
		s.logger.Warn("checkpoint unreadable, starting from the beginning",
			log.Component("tail"),
			log.Err(err),
		)
		cp = domain.Checkpoint{}
	}
	s.cp = cp.For(s.cfg.Path)
	s.saved = s.cp

	if err := s.open(s.cp.Offset); err != nil {
		if !errors.Is(err, os.ErrNotExist) || s.cfg.Once {
			return err
		}
		s.logger.Info("waiting for source file", log.Component("tail"), log.String("path", s.cfg.Path))
	}
	defer s.closeFile()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("file watcher unavailable, polling only", log.Component("tail"), log.Err(err))
	} else {
		defer watcher.Close()
		if err := watcher.Add(filepath.Dir(s.cfg.Path)); err != nil {
			s.logger.Warn("cannot watch source directory, polling only",
				log.Component("tail"),
				log.String("dir", filepath.Dir(s.cfg.Path)),
				log.Err(err),
			)
		}
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := s.drain(ctx, emit); err != nil {
			s.checkpoint(context.WithoutCancel(ctx))
			return err
		}
		s.checkpoint(ctx)

		if s.cfg.Once {
			return nil
		}

		if err := s.wait(ctx, watcher, ticker); err != nil {
			s.checkpoint(context.WithoutCancel(ctx))
			return err
		}
		s.checkRotation()
	}
}

// drain reads and emits every complete line currently in the file.
func (s *TailSource) drain(ctx context.Context, emit ports.EmitFunc) error {
	if s.reader == nil {
		return nil
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk, err := s.reader.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			s.hold(chunk)
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.hold(chunk)
				return nil
			}
			return fmt.Errorf("read %s: %w", s.cfg.Path, err)
		}

		line := chunk
		if len(s.pending) > 0 || s.discarding {
			s.hold(chunk)
			line = s.pending
		} else {
			s.lineBytes = int64(len(chunk))
			if s.tooLong(len(trimEOL(chunk))) {
				s.startDiscard()
			}
		}
		consumed := s.lineBytes

		if s.discarding {
			s.logger.Debug("skipped oversized line",
				log.Component("tail"),
				log.Int64("offset", s.cp.Offset),
				log.Int64("bytes", consumed),
			)
		} else if msg := s.encode(trimEOL(line)); msg != nil {
			if err := emit(msg); err != nil && !rejected(err) {
				return err
			} else if err != nil {
				s.logger.Warn("message rejected",
					log.Component("tail"),
					log.Int64("offset", s.cp.Offset),
					log.Err(err),
				)
			}
		}
		s.resetLine()
		s.cp.Offset += consumed
		s.cp.Lines++
		s.cp.UpdatedAt = s.now()
	}
}

// hold buffers part of a line that has no newline yet.
func (s *TailSource) hold(chunk []byte) {
	s.lineBytes += int64(len(chunk))
	if s.discarding {
		return
	}
	if s.tooLong(len(s.pending) + len(trimEOL(chunk))) {
		s.startDiscard()
		return
	}
	s.pending = append(s.pending, chunk...)
}

func (s *TailSource) tooLong(n int) bool {
	return s.cfg.MaxLineSize > 0 && n > s.cfg.MaxLineSize
}

// startDiscard drops the buffered prefix of an oversized line. The rest of
// the line is counted but not kept.
func (s *TailSource) startDiscard() {
	s.discarding = true
	s.pending = s.pending[:0]
	s.logger.Warn("line exceeds the maximum size, skipping it",
		log.Component("tail"),
		log.Int64("offset", s.cp.Offset),
		log.Int("max_line_size", s.cfg.MaxLineSize),
	)
}

func (s *TailSource) resetLine() {
	s.pending = s.pending[:0]
	s.lineBytes = 0
	s.discarding = false
}

// rejected reports whether err refused a single message rather than
// signalling that the queue can take no more.
func rejected(err error) bool {
	return errors.Is(err, domain.ErrEmptyMessage) ||
		errors.Is(err, domain.ErrMessageTooLarge) ||
		errors.Is(err, domain.ErrEnqueueRejected) ||
		errors.Is(err, domain.ErrPoolExhausted)
}

func (s *TailSource) wait(ctx context.Context, watcher *fsnotify.Watcher, ticker *time.Ticker) error {
	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	if watcher != nil {
		events, errs = watcher.Events, watcher.Errors
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) == filepath.Clean(s.cfg.Path) {
				return nil
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.logger.Warn("file watcher error", log.Component("tail"), log.Err(err))
		}
	}
}

// checkRotation reopens the file if it was replaced or truncated.
func (s *TailSource) checkRotation() {
	info, err := os.Stat(s.cfg.Path)
	if err != nil {
		return
	}
	if s.file == nil {
		s.reopen("source file appeared")
		return
	}
	cur, err := s.file.Stat()
	if err != nil || !os.SameFile(info, cur) {
		s.reopen("source file rotated")
		return
	}
	if info.Size() < s.cp.Offset {
		s.reopen("source file truncated")
	}
}

func (s *TailSource) reopen(reason string) {
	s.logger.Info(reason,
		log.Component("tail"),
		log.String("path", s.cfg.Path),
		log.Int64("previous_offset", s.cp.Offset),
	)
	s.closeFile()
	s.cp = domain.Checkpoint{Path: s.cfg.Path, UpdatedAt: s.now()}
	if err := s.open(0); err != nil {
		s.logger.Warn("reopen failed", log.Component("tail"), log.Err(err))
	}
}

func (s *TailSource) open(offset int64) error {
	f, err := os.Open(s.cfg.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.cfg.Path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat %s: %w", s.cfg.Path, err)
	}
	if info.Size() < offset {
		s.logger.Warn("checkpoint beyond end of file, starting over",
			log.Component("tail"),
			log.Int64("offset", offset),
			log.Int64("size", info.Size()),
		)
		offset = 0
		s.cp = domain.Checkpoint{Path: s.cfg.Path}
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return fmt.Errorf("seek %s: %w", s.cfg.Path, err)
	}
	s.file = f
	s.reader = bufio.NewReaderSize(f, readBufferSize)
	s.resetLine()
	return nil
}

func (s *TailSource) closeFile() {
	if s.file != nil {
		s.file.Close()
		s.file = nil
		s.reader = nil
	}
}

func (s *TailSource) checkpoint(ctx context.Context) {
	if s.cp == s.saved {
		return
	}
	if err := s.state.Save(ctx, s.cp); err != nil {
		s.logger.Warn("checkpoint save failed", log.Component("tail"), log.Err(err))
		return
	}
	s.saved = s.cp
}

type textEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Host      string    `json:"host,omitempty"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
}

// encode turns one line into a queue message. It returns nil for blank
// lines.
func (s *TailSource) encode(line []byte) []byte {
	if len(bytes.TrimSpace(line)) == 0 {
		return nil
	}
	switch s.cfg.Format {
	case FormatRaw:
		return bytes.Clone(line)
	case FormatJSON:
		if json.Valid(line) {
			return bytes.Clone(line)
		}
	}
	msg, err := json.Marshal(textEvent{
		Timestamp: s.now().UTC(),
		Host:      s.cfg.Hostname,
		Source:    s.cfg.Path,
		Message:   string(line),
	})
	if err != nil {
		s.logger.Warn("cannot encode line", log.Component("tail"), log.Err(err))
		return nil
	}
	return msg
}

func trimEOL(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte("\n"))
	return bytes.TrimSuffix(line, []byte("\r"))
}
