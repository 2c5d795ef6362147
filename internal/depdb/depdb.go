// Package depdb implements the per-target dependency database of spec.md
// §3/§4.7 (component L): a line-oriented append-only file tracking a
// recipe's fingerprint and its tracked inputs, used to decide whether a
// path-based target must be rebuilt.
package depdb

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/b2build/b2/path"
	"github.com/google/renameio"
	"golang.org/x/exp/mmap"
)

// Suffix is appended to a target's output path to derive its depdb path
// (spec.md §6: "Every out-base directory holds at most one buildfile plus
// per-target depdbs as <output>.d").
const Suffix = ".d"

// PathFor returns the depdb path for a given output path.
func PathFor(output string) string { return output + Suffix }

// Mode is the depdb's open mode (spec.md §4.7).
type Mode int

const (
	Reading Mode = iota
	Writing
)

// DB is an open depdb handle.
type DB struct {
	path   string
	mode   Mode
	reader *mmap.ReaderAt
	lines  [][]byte
	pos    int // next line to Expect, while Reading

	writeLines [][]byte // accumulated lines while Writing
}

// Open opens the depdb at path for reading. If the file does not exist, it
// starts out already in Writing mode with no lines (a fresh depdb).
func Open(path string) (*DB, error) {
	db := &DB{path: path, mode: Reading}
	r, err := mmap.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			db.mode = Writing
			return db, nil
		}
		return nil, fmt.Errorf("depdb: open %s: %w", path, err)
	}
	db.reader = r
	buf := make([]byte, r.Len())
	if _, err := r.ReadAt(buf, 0); err != nil {
		r.Close()
		return nil, fmt.Errorf("depdb: read %s: %w", path, err)
	}
	for _, line := range bytes.Split(buf, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		db.lines = append(db.lines, line)
	}
	return db, nil
}

// Mode reports the db's current mode.
func (db *DB) Mode() Mode { return db.mode }

// Expect reads the next line while in Reading mode and compares it against
// want. On a mismatch (or end of file), Expect switches the db to Writing
// mode at this line (spec.md §4.7 step 2-4: "On mismatch mark writing") and
// records want as the replacement content; subsequent Expect/Write calls
// simply append. Returns whether the db was (and remains) fresh at this
// line.
func (db *DB) Expect(want string) (fresh bool) {
	if db.mode == Reading {
		if db.pos < len(db.lines) && string(db.lines[db.pos]) == want {
			db.pos++
			return true
		}
		db.switchToWriting()
	}
	db.writeLines = append(db.writeLines, []byte(want))
	return false
}

// Write appends a line unconditionally; used once the db is already known
// to be Writing (e.g. after Expect has already flipped the mode).
func (db *DB) Write(line string) {
	if db.mode == Reading {
		db.switchToWriting()
	}
	db.writeLines = append(db.writeLines, []byte(line))
}

func (db *DB) switchToWriting() {
	db.mode = Writing
	db.writeLines = append(db.writeLines, db.lines[:db.pos]...)
}

// Fresh reports whether the db is still in Reading mode with every
// expected line consumed up to the end (spec.md §4.7 step 5: "If still
// reading at end, depdb is fresh").
func (db *DB) Fresh() bool {
	return db.mode == Reading && db.pos == len(db.lines)
}

// Close releases the mmap reader, if any.
func (db *DB) Close() error {
	if db.reader != nil {
		return db.reader.Close()
	}
	return nil
}

// Flush rewrites the depdb atomically if the db is in Writing mode. While
// the db is still in Reading mode it is a no-op that preserves the existing
// file and its mtime, including any lines no Expect call consumed.
// Atomic rewrite-in-place via renameio guarantees a concurrent reader never
// observes a partially written depdb (spec.md §8 scenario 6).
func (db *DB) Flush() error {
	if db.mode == Reading {
		return nil // fresh: nothing changed, leave mtime untouched
	}
	if err := os.MkdirAll(filepath.Dir(db.path), 0755); err != nil {
		return err
	}
	t, err := renameio.TempFile("", db.path)
	if err != nil {
		return fmt.Errorf("depdb: flush %s: %w", db.path, err)
	}
	defer t.Cleanup()
	w := bufio.NewWriter(t)
	for _, line := range db.writeLines {
		if _, err := w.Write(line); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return t.CloseAtomicallyReplace()
}

// MustRebuild reports whether the depdb's mtime exceeds the output's mtime,
// which per the invariant of spec.md §4.7 means the output must be
// rebuilt: "the depdb mtime is always ≤ the output mtime after a successful
// update, and > the output mtime otherwise."
func MustRebuild(depdbPath string, output path.File) bool {
	di, err := os.Stat(depdbPath)
	if err != nil {
		return true // no depdb yet: treat as must-rebuild
	}
	oi, err := os.Stat(output.String())
	if err != nil {
		return true // no output yet
	}
	return di.ModTime().After(oi.ModTime())
}

// TouchNewerThan advances output's mtime past depdbPath's, restoring the
// invariant after a successful update (spec.md §4.7 step 6).
func TouchNewerThan(output path.File, depdbPath string) error {
	di, err := os.Stat(depdbPath)
	if err != nil {
		return err
	}
	target := di.ModTime().Add(time.Nanosecond)
	return os.Chtimes(output.String(), target, target)
}
