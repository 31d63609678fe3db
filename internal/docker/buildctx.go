package docker

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/moby/patternmatcher"
	"github.com/moby/patternmatcher/ignorefile"
)

// DockerfileName is the name under which the rendered descriptor is placed
// at the root of the build context.
const DockerfileName = "Dockerfile"

// dockerignoreName is the ignore file honoured at the context root.
const dockerignoreName = ".dockerignore"

// contextEpoch is the modification time stamped on the injected Dockerfile
// so that identical recipes produce identical context entries.
var contextEpoch = time.Unix(0, 0).UTC()

// LoadIgnorePatterns reads the .dockerignore file at the root of dir.
// A missing file yields no patterns.
func LoadIgnorePatterns(dir string) ([]string, error) {
	f, err := os.Open(filepath.Join(dir, dockerignoreName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open %s: %w", dockerignoreName, err)
	}
	defer f.Close()

	patterns, err := ignorefile.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dockerignoreName, err)
	}
	return patterns, nil
}

// BuildContext returns a tar stream of the source tree at dir with the
// rendered dockerfile injected at the root as "Dockerfile". A Dockerfile
// already present in the tree is replaced. Paths matched by ignore are
// left out, using the same pattern semantics as the Docker CLI.
//
// The tree is walked in a background goroutine; walk errors surface from
// Read on the returned stream. The caller must Close it.
func BuildContext(dir string, dockerfile []byte, ignore []string) (io.ReadCloser, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("build context %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("build context %s is not a directory", dir)
	}

	pm, err := patternmatcher.New(ignore)
	if err != nil {
		return nil, fmt.Errorf("invalid %s pattern: %w", dockerignoreName, err)
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(writeContext(pw, dir, dockerfile, pm))
	}()
	return pr, nil
}

// writeContext writes the tar archive for BuildContext into w.
func writeContext(w io.Writer, dir string, dockerfile []byte, pm *patternmatcher.PatternMatcher) error {
	tw := tar.NewWriter(w)

	hdr := &tar.Header{
		Name:    DockerfileName,
		Mode:    0o644,
		Size:    int64(len(dockerfile)),
		ModTime: contextEpoch,
		Format:  tar.FormatPAX,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if _, err := tw.Write(dockerfile); err != nil {
		return err
	}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		// The injected Dockerfile wins over the tree's own.
		if rel == DockerfileName {
			return nil
		}

		excluded, err := pm.MatchesOrParentMatches(rel)
		if err != nil {
			return fmt.Errorf("matching %s: %w", rel, err)
		}
		if excluded {
			// A directory can only be skipped outright when no exclusion
			// pattern could re-include something below it.
			if d.IsDir() && !pm.Exclusions() {
				return filepath.SkipDir
			}
			return nil
		}

		return addEntry(tw, path, rel, d)
	})
	if err != nil {
		return err
	}
	return tw.Close()
}

// addEntry appends a single file, directory, or symlink to the archive.
// Other file types (sockets, devices) are skipped.
func addEntry(tw *tar.Writer, path, rel string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}

	var link string
	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		if link, err = os.Readlink(path); err != nil {
			return err
		}
	case info.IsDir(), info.Mode().IsRegular():
	default:
		return nil
	}

	hdr, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return err
	}
	hdr.Name = rel
	if info.IsDir() {
		hdr.Name += "/"
	}
	// Ownership on the build host is meaningless inside the image.
	hdr.Uid, hdr.Gid = 0, 0
	hdr.Uname, hdr.Gname = "", ""
	hdr.Format = tar.FormatPAX

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}
