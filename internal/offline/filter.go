// Package offline holds the precomputed package-name membership filter
// used when registry lookups are disabled or failing.
package offline

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
)

// DefaultFalsePositiveRate is the target rate for built filters.
const DefaultFalsePositiveRate = 0.001

// Filter answers "might this package exist" for (ecosystem, name) pairs.
// A negative answer is definitive for any name the filter was built from.
type Filter struct {
	bf *bloom.BloomFilter
}

// New creates an empty filter sized for n entries.
func New(n uint, fpRate float64) *Filter {
	if n == 0 {
		n = 1
	}
	return &Filter{bf: bloom.NewWithEstimates(n, fpRate)}
}

func key(ecosystem, name string) string {
	return ecosystem + ":" + strings.ToLower(strings.TrimSpace(name))
}

// Add inserts a package.
func (f *Filter) Add(ecosystem, name string) {
	f.bf.AddString(key(ecosystem, name))
}

// Contains reports whether the package may exist.
func (f *Filter) Contains(ecosystem, name string) bool {
	return f.bf.TestString(key(ecosystem, name))
}

// Entry is one package of a filter source list.
type Entry struct {
	Ecosystem string
	Name      string
}

// ReadEntries parses a source list: one "ecosystem name" pair per line.
// Blank lines and lines starting with # are ignored.
func ReadEntries(r io.Reader) ([]Entry, error) {
	var out []Entry
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: want \"ecosystem name\", got %q", line, text)
		}
		out = append(out, Entry{Ecosystem: fields[0], Name: fields[1]})
	}
	return out, sc.Err()
}

// Build creates a filter holding entries.
func Build(entries []Entry, fpRate float64) *Filter {
	f := New(uint(len(entries)), fpRate)
	for _, e := range entries {
		f.Add(e.Ecosystem, e.Name)
	}
	return f
}

// Save writes the filter to path, creating parent directories.
func (f *Filter) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(out)
	if _, err := f.bf.WriteTo(w); err != nil {
		out.Close()
		return fmt.Errorf("write filter: %w", err)
	}
	if err := w.Flush(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load reads a filter written by Save.
func Load(path string) (*Filter, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	bf := &bloom.BloomFilter{}
	if _, err := bf.ReadFrom(bufio.NewReader(in)); err != nil {
		return nil, fmt.Errorf("read filter %s: %w", path, err)
	}
	return &Filter{bf: bf}, nil
}
