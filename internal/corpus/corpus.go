// Package corpus builds the ordered URL list validated by a run and hands it
// out to workers through a shared cursor.
package corpus

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
)

// Corpus is an immutable, ordered list of absolute article URLs.
type Corpus struct {
	urls []string
}

// New resolves paths against base and returns a deduplicated corpus that keeps
// first-occurrence order. Blank entries and lines starting with '#' are dropped.
func New(base string, paths []string) (Corpus, error) {
	var baseURL *url.URL
	if strings.TrimSpace(base) != "" {
		u, err := url.Parse(strings.TrimSpace(base))
		if err != nil {
			return Corpus{}, fmt.Errorf("parse base url: %w", err)
		}
		baseURL = u
	}

	seen := make(map[string]struct{}, len(paths))
	urls := make([]string, 0, len(paths))
	for _, raw := range paths {
		entry := strings.TrimSpace(raw)
		if entry == "" || strings.HasPrefix(entry, "#") {
			continue
		}
		abs, err := resolve(baseURL, entry)
		if err != nil {
			return Corpus{}, err
		}
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}
		urls = append(urls, abs)
	}
	return Corpus{urls: urls}, nil
}

// Read builds a corpus from one URL or path per line.
func Read(r io.Reader, base string) (Corpus, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return Corpus{}, fmt.Errorf("scan corpus: %w", err)
	}
	return New(base, lines)
}

// LoadFile reads a corpus file from disk.
func LoadFile(path, base string) (Corpus, error) {
	f, err := os.Open(path)
	if err != nil {
		return Corpus{}, fmt.Errorf("open corpus file: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only handle
	return Read(f, base)
}

// Len reports the number of URLs.
func (c Corpus) Len() int {
	return len(c.urls)
}

// URLs returns a copy of the ordered URL list.
func (c Corpus) URLs() []string {
	return append([]string(nil), c.urls...)
}

func resolve(base *url.URL, entry string) (string, error) {
	ref, err := url.Parse(entry)
	if err != nil {
		return "", fmt.Errorf("parse corpus entry %q: %w", entry, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	if base == nil {
		return "", fmt.Errorf("relative corpus entry %q requires a base url", entry)
	}
	return base.ResolveReference(ref).String(), nil
}
