package persistence

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Journal is an append-only file of frames. Every Append is flushed and
// synced before it returns.
type Journal struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	fw   *FrameWriter
	path string
}

// OpenJournal opens or creates the journal at path.
func OpenJournal(path string) (*Journal, error) {
	j := &Journal{path: path}
	if err := j.open(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Journal) open() error {
	file, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	j.file = file
	j.buf = bufio.NewWriter(file)
	j.fw = NewFrameWriter(j.buf)
	return nil
}

// Append writes one frame durably.
func (j *Journal) Append(op Op, payload []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.fw.WriteFrame(op, payload); err != nil {
		return fmt.Errorf("journal append: %w", err)
	}
	if err := j.buf.Flush(); err != nil {
		return fmt.Errorf("journal flush: %w", err)
	}
	return j.file.Sync()
}

// Replay calls fn for every frame in order and returns the number applied.
// A torn frame at the tail is cut off so later appends start on a clean
// boundary; a checksum failure anywhere is returned as an error.
func (j *Journal) Replay(fn func(Frame) error) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.buf.Flush(); err != nil {
		return 0, err
	}

	f, err := os.Open(j.path)
	if err != nil {
		return 0, fmt.Errorf("journal replay: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var (
		offset  int64
		applied int
	)
	for {
		frame, n, err := ReadFrame(r)
		if err == io.EOF {
			return applied, nil
		}
		if errors.Is(err, ErrIncompleteFrame) {
			slog.Warn("Truncating torn journal tail", "path", j.path, "offset", offset, "bytes", n)
			if terr := j.file.Truncate(offset); terr != nil {
				return applied, fmt.Errorf("truncate torn tail: %w", terr)
			}
			return applied, nil
		}
		if err != nil {
			return applied, fmt.Errorf("journal frame at offset %d: %w", offset, err)
		}
		if err := fn(frame); err != nil {
			return applied, fmt.Errorf("apply frame at offset %d: %w", offset, err)
		}
		offset += int64(n)
		applied++
	}
}

// Compact rewrites the journal so it holds exactly frames. The new file is
// written beside the old one and renamed over it.
func (j *Journal) Compact(frames []Frame) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	tmpPath := j.path + ".compact"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("journal compact: %w", err)
	}

	w := bufio.NewWriter(tmp)
	fw := NewFrameWriter(w)
	for _, fr := range frames {
		if err := fw.WriteFrame(fr.Op, fr.Payload); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("journal compact: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	_ = j.buf.Flush()
	_ = j.file.Close()
	if err := os.Rename(tmpPath, j.path); err != nil {
		return fmt.Errorf("failed to replace journal: %w", err)
	}
	return j.open()
}

// Size returns the current file size in bytes.
func (j *Journal) Size() (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.buf.Flush(); err != nil {
		return 0, err
	}
	info, err := j.file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (j *Journal) Path() string {
	return j.path
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.buf.Flush(); err != nil {
		_ = j.file.Close()
		return err
	}
	return j.file.Close()
}
