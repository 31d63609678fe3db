package assets

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
)

// Entry is a single regular file in the static root.
type Entry struct {
	// Path is relative to the static root, slash separated.
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Manifest lists the files of a static root sorted by path.
type Manifest struct {
	Root    string  `json:"root"`
	Entries []Entry `json:"entries"`
}

// FromTar reads a tar stream as produced by the Docker archive API for
// root. The API prefixes every entry with the base name of root, which is
// stripped. Directories, links, and other non-regular entries carry no
// content and are left out.
func FromTar(r io.Reader, root string) (*Manifest, error) {
	prefix := path.Base(path.Clean(root))
	m := &Manifest{Root: root, Entries: []Entry{}}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read asset archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		rel, ok := relativeTo(hdr.Name, prefix)
		if !ok {
			continue
		}

		h := sha256.New()
		n, err := io.Copy(h, tr)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", hdr.Name, err)
		}
		m.Entries = append(m.Entries, Entry{
			Path:   rel,
			Size:   n,
			SHA256: hex.EncodeToString(h.Sum(nil)),
		})
	}

	sort.Slice(m.Entries, func(i, j int) bool {
		return m.Entries[i].Path < m.Entries[j].Path
	})
	return m, nil
}

// relativeTo strips the leading prefix directory from an archive name.
// A copy of "/" has no such directory, so names are taken as they are.
func relativeTo(name, prefix string) (string, bool) {
	name = strings.TrimPrefix(path.Clean("/"+name), "/")
	if prefix == "/" {
		return name, name != ""
	}
	rest, ok := strings.CutPrefix(name, prefix+"/")
	if !ok || rest == "" {
		return "", false
	}
	return rest, true
}

// Digest is a sha256 over the sorted path, size, and content hash of every
// entry. Equal manifests have equal digests; the static root itself is not
// part of it.
func (m *Manifest) Digest() string {
	h := sha256.New()
	for _, e := range m.Entries {
		fmt.Fprintf(h, "%s\x00%d\x00%s\n", e.Path, e.Size, e.SHA256)
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

// TotalSize is the summed size of every entry in bytes.
func (m *Manifest) TotalSize() int64 {
	var total int64
	for _, e := range m.Entries {
		total += e.Size
	}
	return total
}

// Changes is the difference between two manifests.
type Changes struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Changed []string `json:"changed"`
}

// Empty reports whether the manifests were identical.
func (c *Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Changed) == 0
}

// Diff compares b against a. Paths only in b are added, paths only in a
// are removed, and paths in both whose size or content differ are changed.
// Every list is sorted.
func Diff(a, b *Manifest) *Changes {
	before := make(map[string]Entry, len(a.Entries))
	for _, e := range a.Entries {
		before[e.Path] = e
	}

	c := &Changes{Added: []string{}, Removed: []string{}, Changed: []string{}}
	for _, e := range b.Entries {
		old, ok := before[e.Path]
		switch {
		case !ok:
			c.Added = append(c.Added, e.Path)
		case old.SHA256 != e.SHA256 || old.Size != e.Size:
			c.Changed = append(c.Changed, e.Path)
		}
		delete(before, e.Path)
	}
	for p := range before {
		c.Removed = append(c.Removed, p)
	}

	sort.Strings(c.Added)
	sort.Strings(c.Removed)
	sort.Strings(c.Changed)
	return c
}
