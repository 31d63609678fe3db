package assets

import (
	"archive/tar"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tarEntry struct {
	name    string
	content string
	dir     bool
	link    string
}

// archive builds a tar the way the Docker archive API lays out a copied
// directory.
func archive(t *testing.T, entries ...tarEntry) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0o644}
		switch {
		case e.dir:
			hdr.Typeflag = tar.TypeDir
			hdr.Mode = 0o755
		case e.link != "":
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = e.link
		default:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(e.content))
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if hdr.Typeflag == tar.TypeReg {
			_, err := tw.Write([]byte(e.content))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	return &buf
}

func sum(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

func TestFromTar(t *testing.T) {
	buf := archive(t,
		tarEntry{name: "staticfiles/", dir: true},
		tarEntry{name: "staticfiles/admin/", dir: true},
		tarEntry{name: "staticfiles/admin/css/base.css", content: "body{}"},
		tarEntry{name: "staticfiles/robots.txt", content: "User-agent: *\n"},
		tarEntry{name: "staticfiles/latest.css", link: "admin/css/base.css"},
	)

	m, err := FromTar(buf, "/app/staticfiles")
	require.NoError(t, err)

	assert.Equal(t, "/app/staticfiles", m.Root)
	assert.Equal(t, []Entry{
		{Path: "admin/css/base.css", Size: 6, SHA256: sum("body{}")},
		{Path: "robots.txt", Size: 14, SHA256: sum("User-agent: *\n")},
	}, m.Entries)
	assert.Equal(t, int64(20), m.TotalSize())
}

func TestFromTar_TrailingSlashRoot(t *testing.T) {
	m, err := FromTar(archive(t, tarEntry{name: "static/app.js", content: "x"}), "/srv/static/")
	require.NoError(t, err)
	require.Len(t, m.Entries, 1)
	assert.Equal(t, "app.js", m.Entries[0].Path)
}

func TestFromTar_FilesystemRoot(t *testing.T) {
	buf := archive(t,
		tarEntry{name: "app/", dir: true},
		tarEntry{name: "app/staticfiles/app.js", content: "x"},
		tarEntry{name: "etc/hostname", content: "build\n"},
	)

	m, err := FromTar(buf, "/")
	require.NoError(t, err)

	paths := make([]string, 0, len(m.Entries))
	for _, e := range m.Entries {
		paths = append(paths, e.Path)
	}
	assert.Equal(t, []string{"app/staticfiles/app.js", "etc/hostname"}, paths)
}

func TestFromTar_Empty(t *testing.T) {
	m, err := FromTar(archive(t, tarEntry{name: "staticfiles/", dir: true}), "/app/staticfiles")
	require.NoError(t, err)
	assert.Empty(t, m.Entries)
	assert.NotNil(t, m.Entries, "entries should encode as [] rather than null")
}

func TestFromTar_Corrupt(t *testing.T) {
	_, err := FromTar(bytes.NewBufferString("definitely not a tar archive, just long enough to fill a header block"), "/app/staticfiles")
	require.Error(t, err)
}

func TestDigest(t *testing.T) {
	a := &Manifest{Root: "/app/staticfiles", Entries: []Entry{{Path: "a.css", Size: 1, SHA256: sum("a")}}}
	b := &Manifest{Root: "/srv/static", Entries: []Entry{{Path: "a.css", Size: 1, SHA256: sum("a")}}}
	c := &Manifest{Root: "/app/staticfiles", Entries: []Entry{{Path: "a.css", Size: 1, SHA256: sum("b")}}}

	assert.Equal(t, a.Digest(), b.Digest(), "the root should not affect the digest")
	assert.NotEqual(t, a.Digest(), c.Digest())
	assert.Regexp(t, `^sha256:[0-9a-f]{64}$`, a.Digest())
}

func TestDiff(t *testing.T) {
	a := &Manifest{Entries: []Entry{
		{Path: "admin/base.css", Size: 6, SHA256: sum("body{}")},
		{Path: "old.js", Size: 1, SHA256: sum("o")},
		{Path: "robots.txt", Size: 1, SHA256: sum("r")},
	}}
	b := &Manifest{Entries: []Entry{
		{Path: "admin/base.css", Size: 6, SHA256: sum("body{}")},
		{Path: "new.js", Size: 1, SHA256: sum("n")},
		{Path: "robots.txt", Size: 2, SHA256: sum("rr")},
	}}

	c := Diff(a, b)
	assert.Equal(t, []string{"new.js"}, c.Added)
	assert.Equal(t, []string{"old.js"}, c.Removed)
	assert.Equal(t, []string{"robots.txt"}, c.Changed)
	assert.False(t, c.Empty())
}

func TestDiff_Identical(t *testing.T) {
	m := &Manifest{Entries: []Entry{{Path: "a.css", Size: 1, SHA256: sum("a")}}}
	assert.True(t, Diff(m, m).Empty())
}
