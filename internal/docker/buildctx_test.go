package docker

import (
	"archive/tar"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTree creates files under dir from a path → content map.
func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

// readContext drains a build context and returns file contents keyed by
// entry name. Directory entries map to "".
func readContext(t *testing.T, rc io.ReadCloser) map[string]string {
	t.Helper()
	defer rc.Close()

	entries := map[string]string{}
	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		entries[hdr.Name] = string(data)
	}
	return entries
}

func names(entries map[string]string) []string {
	out := make([]string, 0, len(entries))
	for name := range entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func TestBuildContext_InjectsDockerfile(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"manage.py":   "#!/usr/bin/env python\n",
		"Dockerfile":  "FROM somebody-elses:image\n",
		"app/wsgi.py": "application = None\n",
	})

	rendered := []byte("FROM base:onbuild\n")
	rc, err := BuildContext(dir, rendered, nil)
	require.NoError(t, err)

	entries := readContext(t, rc)
	assert.Equal(t, string(rendered), entries[DockerfileName],
		"the rendered Dockerfile should replace the tree's own")
	assert.Equal(t, []string{"Dockerfile", "app/", "app/wsgi.py", "manage.py"}, names(entries))
}

func TestBuildContext_HonoursDockerignore(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		".dockerignore":             "*.pyc\nnode_modules\n.git\n!keep.pyc\n",
		"manage.py":                 "",
		"stale.pyc":                 "",
		"keep.pyc":                  "",
		"node_modules/pkg/index.js": "",
		".git/HEAD":                 "ref: refs/heads/main\n",
	})

	patterns, err := LoadIgnorePatterns(dir)
	require.NoError(t, err)
	require.Len(t, patterns, 4)

	rc, err := BuildContext(dir, []byte("FROM base\n"), patterns)
	require.NoError(t, err)

	assert.Equal(t,
		[]string{".dockerignore", "Dockerfile", "keep.pyc", "manage.py"},
		names(readContext(t, rc)),
	)
}

func TestLoadIgnorePatterns_Missing(t *testing.T) {
	patterns, err := LoadIgnorePatterns(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, patterns)
}

func TestBuildContext_NotADirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	_, err := BuildContext(file, []byte("FROM base\n"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")
}

func TestBuildContext_InvalidPattern(t *testing.T) {
	_, err := BuildContext(t.TempDir(), []byte("FROM base\n"), []string{"[unterminated"})
	require.Error(t, err)
}
