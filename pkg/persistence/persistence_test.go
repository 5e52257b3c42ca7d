package persistence

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)
	if err := fw.WriteFrame(OpCodeHeader, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	if err := fw.WriteFrame(OpCodeVector, []byte{}); err != nil {
		t.Fatal(err)
	}

	op, payload, n, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if op != OpCodeHeader || string(payload) != "hello" || n != HeaderSize+5 {
		t.Errorf("got op=%d payload=%q n=%d", op, payload, n)
	}

	op, payload, _, err = ReadFrame(&buf)
	if err != nil || op != OpCodeVector || len(payload) != 0 {
		t.Errorf("empty frame: op=%d len=%d err=%v", op, len(payload), err)
	}

	if _, _, _, err := ReadFrame(&buf); err != io.EOF {
		t.Errorf("expected io.EOF at end of stream, got %v", err)
	}
}

func TestFrameCorruption(t *testing.T) {
	var buf bytes.Buffer
	_ = NewFrameWriter(&buf).WriteFrame(OpCodeRecord, []byte("payload"))
	raw := buf.Bytes()

	t.Run("Checksum", func(t *testing.T) {
		data := append([]byte(nil), raw...)
		data[len(data)-1] ^= 0xFF
		if _, _, _, err := ReadFrame(bytes.NewReader(data)); !errors.Is(err, ErrChecksumMismatch) {
			t.Errorf("expected ErrChecksumMismatch, got %v", err)
		}
	})

	t.Run("Magic", func(t *testing.T) {
		data := append([]byte(nil), raw...)
		data[0] = 0x00
		if _, _, _, err := ReadFrame(bytes.NewReader(data)); !errors.Is(err, ErrInvalidMagic) {
			t.Errorf("expected ErrInvalidMagic, got %v", err)
		}
	})

	t.Run("Truncated", func(t *testing.T) {
		data := raw[:len(raw)-3]
		if _, _, _, err := ReadFrame(bytes.NewReader(data)); !errors.Is(err, ErrIncompleteFrame) {
			t.Errorf("expected ErrIncompleteFrame, got %v", err)
		}
	})
}

func TestAtomicFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "artifact.bin")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}

	af, err := CreateAtomic(path)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = af.Write([]byte("new"))
	af.Abort()

	got, _ := os.ReadFile(path)
	if string(got) != "old" {
		t.Fatalf("abort must keep old content, got %q", got)
	}
	if _, err := os.Stat(path + ".tmp"); !errors.Is(err, os.ErrNotExist) {
		t.Error("staging file should be removed on abort")
	}

	af, err = CreateAtomic(path)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = af.Write([]byte("new"))
	if err := af.Commit(); err != nil {
		t.Fatal(err)
	}
	got, _ = os.ReadFile(path)
	if string(got) != "new" {
		t.Errorf("commit should publish new content, got %q", got)
	}
	if err := af.Commit(); err == nil {
		t.Error("second commit should fail")
	}
}

func TestJournalReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.journal")

	j, err := OpenJournal(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, rec := range []string{"a", "b", "c"} {
		if err := j.Append([]byte(rec)); err != nil {
			t.Fatal(err)
		}
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}
	if err := j.Append([]byte("late")); err == nil {
		t.Error("append after close should fail")
	}

	// Simulate a crash that tore the last frame.
	data, _ := os.ReadFile(path)
	if err := os.WriteFile(path, data[:len(data)-1], 0644); err != nil {
		t.Fatal(err)
	}

	var seen []string
	n, intact, err := ReplayJournal(path, func(p []byte) error {
		seen = append(seen, string(p))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || len(seen) != 2 || seen[0] != "a" || seen[1] != "b" {
		t.Errorf("replay got %v (n=%d), want [a b]", seen, n)
	}
	if want := int64(2 * (HeaderSize + 1)); intact != want {
		t.Errorf("intact prefix = %d, want %d", intact, want)
	}

	n, intact, err = ReplayJournal(filepath.Join(t.TempDir(), "missing"), func([]byte) error { return nil })
	if n != 0 || intact != 0 || err != nil {
		t.Errorf("missing journal: n=%d intact=%d err=%v", n, intact, err)
	}
}

func TestJournalAppendAfterTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.journal")

	j, err := OpenJournal(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, rec := range []string{"first", "second"} {
		if err := j.Append([]byte(rec)); err != nil {
			t.Fatal(err)
		}
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	// Crash mid-append: half of the second frame survives.
	data, _ := os.ReadFile(path)
	if err := os.WriteFile(path, data[:len(data)-5], 0644); err != nil {
		t.Fatal(err)
	}

	_, intact, err := ReplayJournal(path, func([]byte) error { return nil })
	if err != nil {
		t.Fatal(err)
	}
	if err := TrimJournal(path, intact); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != intact {
		t.Fatalf("size after trim = %d, want %d", info.Size(), intact)
	}

	j, err = OpenJournal(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := j.Append([]byte("third")); err != nil {
		t.Fatal(err)
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	var seen []string
	n, _, err := ReplayJournal(path, func(p []byte) error {
		seen = append(seen, string(p))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || len(seen) != 2 || seen[0] != "first" || seen[1] != "third" {
		t.Errorf("replay after trim got %v, want [first third]", seen)
	}

	if err := TrimJournal(filepath.Join(t.TempDir(), "missing"), 0); err != nil {
		t.Errorf("trim of missing journal: %v", err)
	}
}
