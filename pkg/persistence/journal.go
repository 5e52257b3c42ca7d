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

// Journal is an append-only file of framed records.
type Journal struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	fw   *FrameWriter
}

// OpenJournal opens or creates a journal at the given path.
func OpenJournal(path string) (*Journal, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0666)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	buf := bufio.NewWriter(file)
	return &Journal{
		file: file,
		buf:  buf,
		fw:   NewFrameWriter(buf),
	}, nil
}

// Append writes one record frame. Data reaches the OS on Flush or Close.
func (j *Journal) Append(payload []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return os.ErrClosed
	}
	return j.fw.WriteFrame(OpCodeRecord, payload)
}

// Flush forces the buffer contents to the os file descriptor.
func (j *Journal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	return j.buf.Flush()
}

// Close flushes and closes the underlying file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return nil
	}
	err := j.buf.Flush()
	if cerr := j.file.Close(); err == nil {
		err = cerr
	}
	j.file = nil
	return err
}

// ReplayJournal calls fn for every intact record in the journal at path and
// returns the record count and the size in bytes of the intact prefix.
// A torn or corrupt tail stops the replay without error, the way a crash
// mid-append leaves the file; pass the size to TrimJournal before appending
// again. A missing file replays nothing.
func ReplayJournal(path string, fn func(payload []byte) error) (int, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, 0, nil
		}
		return 0, 0, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	count := 0
	var intact int64
	for {
		op, payload, n, err := ReadFrame(r)
		if err == io.EOF {
			return count, intact, nil
		}
		if err != nil {
			slog.Warn("journal replay stopped at damaged frame", "path", path, "records", count, "offset", intact, "error", err)
			return count, intact, nil
		}
		intact += int64(n)
		if op != OpCodeRecord {
			continue
		}
		if err := fn(payload); err != nil {
			return count, intact, err
		}
		count++
	}
}

// TrimJournal cuts the journal at path down to size bytes, dropping a damaged
// tail so later appends stay replayable. Shorter or missing files are left alone.
func TrimJournal(path string, size int64) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if info.Size() <= size {
		return nil
	}
	slog.Warn("truncating damaged journal tail", "path", path, "size", info.Size(), "intact", size)
	if err := os.Truncate(path, size); err != nil {
		return fmt.Errorf("failed to truncate journal: %w", err)
	}
	return nil
}
