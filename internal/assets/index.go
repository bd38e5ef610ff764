// Package assets indexes the sign media directory by phrase key.
package assets

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/loqalabs/loqa-sign/internal/phrase"
)

// ErrDirectoryMissing is reported when the asset directory does not exist.
// The index is still usable; it is simply empty.
var ErrDirectoryMissing = errors.New("asset directory missing")

// Handle identifies a displayable asset on disk.
type Handle string

// Collision records two files that normalize to the same key. The file
// scanned last is kept.
type Collision struct {
	Key     phrase.Key
	Kept    Handle
	Dropped Handle
}

// Options describes the asset directory layout.
type Options struct {
	Directory        string
	PhraseExtensions []string
	GlyphExtension   string
	Logo             string
}

// Index maps phrase keys to assets. Reads are safe from any goroutine; the
// mapping is replaced wholesale on Reload.
type Index struct {
	opts    Options
	log     *slog.Logger
	entries atomic.Pointer[map[phrase.Key]Handle]
}

func New(opts Options, log *slog.Logger) *Index {
	idx := &Index{opts: opts, log: log.With(slog.String("component", "assets"))}
	empty := map[phrase.Key]Handle{}
	idx.entries.Store(&empty)
	return idx
}

// Reload rescans the directory. A missing directory leaves the index empty
// and returns ErrDirectoryMissing; callers treat that as a degraded mode.
func (i *Index) Reload() error {
	entries, collisions, err := Build(i.opts.Directory, i.opts.PhraseExtensions)
	for _, c := range collisions {
		i.log.Warn("phrase key collision, keeping last file",
			slog.String("key", string(c.Key)),
			slog.String("kept", string(c.Kept)),
			slog.String("dropped", string(c.Dropped)))
	}
	i.entries.Store(&entries)
	if err != nil {
		i.log.Warn("asset index empty", slog.String("directory", i.opts.Directory), slog.String("error", err.Error()))
		return err
	}
	i.log.Info("loaded sign language phrases", slog.Int("count", len(entries)))
	return nil
}

// Build scans dir (non-recursively) for files carrying one of exts and keys
// them by normalized base name. It never returns a nil map.
func Build(dir string, exts []string) (map[phrase.Key]Handle, []Collision, error) {
	entries := make(map[phrase.Key]Handle)

	files, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return entries, nil, fmt.Errorf("%w: %s", ErrDirectoryMissing, dir)
		}
		return entries, nil, fmt.Errorf("read asset directory: %w", err)
	}

	var collisions []Collision
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		name := f.Name()
		ext := filepath.Ext(name)
		if !hasExtension(ext, exts) {
			continue
		}
		key := phrase.Normalize(strings.TrimSuffix(name, ext))
		if key == "" {
			continue
		}
		handle := Handle(filepath.Join(dir, name))
		if prev, ok := entries[key]; ok {
			collisions = append(collisions, Collision{Key: key, Kept: handle, Dropped: prev})
		}
		entries[key] = handle
	}
	return entries, collisions, nil
}

func hasExtension(ext string, exts []string) bool {
	for _, e := range exts {
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}

// Lookup is an exact key match.
func (i *Index) Lookup(key phrase.Key) (Handle, bool) {
	h, ok := (*i.entries.Load())[key]
	return h, ok
}

func (i *Index) Len() int {
	return len(*i.entries.Load())
}

// Keys returns the indexed keys in sorted order.
func (i *Index) Keys() []phrase.Key {
	m := *i.entries.Load()
	keys := make([]phrase.Key, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool { return keys[a] < keys[b] })
	return keys
}

// Logo is the idle-state image.
func (i *Index) Logo() Handle {
	return Handle(filepath.Join(i.opts.Directory, i.opts.Logo))
}

// Glyph returns the fingerspelling image for a letter, e.g. "A.jpg".
func (i *Index) Glyph(letter rune) Handle {
	name := string(unicode.ToUpper(letter)) + i.opts.GlyphExtension
	return Handle(filepath.Join(i.opts.Directory, name))
}
