package sandbox

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"

	"github.com/xiaot623/lazarus/internal/domain"
)

// tarFiles builds a tar archive holding the files and their parent
// directories.
func tarFiles(files domain.Artifacts) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	dirs := map[string]bool{}
	for _, f := range files {
		p, err := cleanPath(f.Filename)
		if err != nil {
			return nil, err
		}
		for d := path.Dir(p); d != "." && d != "/"; d = path.Dir(d) {
			dirs[d] = true
		}
	}
	names := make([]string, 0, len(dirs))
	for d := range dirs {
		names = append(names, d)
	}
	sort.Strings(names)
	for _, d := range names {
		if err := tw.WriteHeader(&tar.Header{Typeflag: tar.TypeDir, Name: d + "/", Mode: 0o755}); err != nil {
			return nil, fmt.Errorf("failed to write tar header: %w", err)
		}
	}

	for _, f := range files {
		p, _ := cleanPath(f.Filename)
		hdr := &tar.Header{
			Typeflag: tar.TypeReg,
			Name:     p,
			Mode:     0o644,
			Size:     int64(len(f.Content)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("failed to write tar header: %w", err)
		}
		if _, err := io.WriteString(tw, f.Content); err != nil {
			return nil, fmt.Errorf("failed to write tar entry: %w", err)
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close tar: %w", err)
	}
	return &buf, nil
}

// readSingleFile returns the content of the first regular file in a tar stream.
func readSingleFile(r io.Reader, limit int64) (string, error) {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return "", errors.New("no regular file in archive")
		}
		if err != nil {
			return "", fmt.Errorf("failed to read tar: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(io.LimitReader(tr, limit))
		if err != nil {
			return "", fmt.Errorf("failed to read tar entry: %w", err)
		}
		return string(data), nil
	}
}
