package eventlog

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
	"sync"
)

// ErrClosed is returned by operations on a closed Log.
var ErrClosed = errors.New("eventlog: closed")

// maxLineBytes caps a single record line during load.
const maxLineBytes = 4 << 20

// Log is an append-only JSON-lines file holding records of type T.
// It is safe for concurrent use.
type Log[T any] struct {
	path string

	mu     sync.Mutex
	file   *os.File
	closed bool
}

// Open opens (creating if needed) the log at path. If the file ends in a
// torn line from an interrupted write, a newline is appended so the next
// record starts on a fresh line.
func Open[T any](path string) (*Log[T], error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("eventlog: create dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", path, err)
	}
	if err := terminateTornLine(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("eventlog: repair %s: %w", path, err)
	}
	return &Log[T]{path: path, file: f}, nil
}

func terminateTornLine(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}
	_, err = f.Write([]byte{'\n'})
	return err
}

// Path returns the file location.
func (l *Log[T]) Path() string { return l.path }

// Append serializes rec as one line and fsyncs it before returning. ctx is
// checked once, after the lock is taken and before the write: a ctx that is
// already done aborts the append, but a write or fsync already under way is
// not interrupted by a later deadline.
func (l *Log[T]) Append(ctx context.Context, rec T) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("eventlog: marshal: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("eventlog: append %s: %w", l.path, err)
	}
	if _, err := l.file.Write(line); err != nil {
		return fmt.Errorf("eventlog: write %s: %w", l.path, err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("eventlog: sync %s: %w", l.path, err)
	}
	return nil
}

// LoadAll returns every parseable record in append order, and the number of
// lines that were skipped because they could not be decoded.
func (l *Log[T]) LoadAll() ([]T, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, 0, ErrClosed
	}

	f, err := os.Open(l.path)
	if err != nil {
		return nil, 0, fmt.Errorf("eventlog: open %s: %w", l.path, err)
	}
	defer f.Close()

	var (
		out     []T
		skipped int
	)
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadBytes('\n')
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			var rec T
			if len(trimmed) > maxLineBytes || json.Unmarshal(trimmed, &rec) != nil {
				skipped++
			} else {
				out = append(out, rec)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("eventlog: read %s: %w", l.path, err)
		}
	}
	return out, skipped, nil
}

// Clear truncates the log to zero length.
func (l *Log[T]) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if err := l.file.Truncate(0); err != nil {
		return fmt.Errorf("eventlog: truncate %s: %w", l.path, err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("eventlog: sync %s: %w", l.path, err)
	}
	return nil
}

// Close releases the file handle. Operations after Close return ErrClosed.
func (l *Log[T]) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}
