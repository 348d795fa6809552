package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"isxlicense/internal/infrastructure"
	"isxlicense/internal/shared/filelock"
)

const maxLineSize = 256 * 1024

// FileLog appends events as JSON lines
type FileLog struct {
	path    string
	lock    *flock.Flock
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
	mu      sync.Mutex
}

// NewFileLog creates an audit log at path
func NewFileLog(path string, logger *slog.Logger) (*FileLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &FileLog{
		path:    path,
		lock:    flock.New(path + ".lock"),
		timeout: 5 * time.Second,
		now:     time.Now,
		logger:  logger,
	}, nil
}

// SetClock overrides the time source for events without a timestamp
func (l *FileLog) SetClock(now func() time.Time) { l.now = now }

// Path returns the log file location
func (l *FileLog) Path() string { return l.path }

// Record implements Log
func (l *FileLog) Record(ctx context.Context, event Event) error {
	event = Normalize(event, l.now())

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode audit event: %w", err)
	}
	line = append(line, '\n')

	return l.withLock(ctx, false, func() error {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		defer f.Close()

		torn, err := filelock.EndsWithoutNewline(f)
		if err != nil {
			return err
		}
		if torn {
			line = append([]byte{'\n'}, line...)
		}

		if _, err := f.Write(line); err != nil {
			return fmt.Errorf("failed to append audit event: %w", err)
		}
		return f.Sync()
	})
}

// Events implements Reader
func (l *FileLog) Events(ctx context.Context, filter Filter) ([]Event, error) {
	var events []Event
	err := l.withLock(ctx, true, func() error {
		f, err := os.Open(l.path)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 4096), maxLineSize)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			raw := bytes.TrimSpace(scanner.Bytes())
			if len(raw) == 0 {
				continue
			}
			var e Event
			if err := json.Unmarshal(raw, &e); err != nil {
				l.logger.WarnContext(ctx, "Skipping unreadable audit entry",
					slog.String("action", "audit_skip_line"),
					slog.String("path", l.path),
					slog.Int("line", lineNo),
				)
				continue
			}
			if filter.Match(e) {
				events = append(events, e)
			}
		}
		return scanner.Err()
	})
	if err != nil {
		return nil, err
	}
	return filter.Apply(events), nil
}

// Writable checks that the log can be opened for appending
func (l *FileLog) Writable(ctx context.Context) error {
	return l.withLock(ctx, false, func() error {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return err
		}
		return f.Close()
	})
}

func (l *FileLog) withLock(ctx context.Context, shared bool, fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return filelock.With(ctx, l.lock, l.timeout, shared, fn)
}
