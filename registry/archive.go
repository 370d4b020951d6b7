package registry

import (
	"archive/tar"
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

type readCloser struct {
	io.Reader
	closers []func() error
}

func (r *readCloser) Close() error {
	var firstErr error
	for _, closeFn := range r.closers {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// decompress sniffs src for gzip or zstd framing and returns a reader of the
// plain stream. Uncompressed input is passed through.
func decompress(src io.ReadCloser) (io.ReadCloser, error) {
	buffered := bufio.NewReader(src)
	header, err := buffered.Peek(len(zstdMagic))
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		src.Close()
		return nil, fmt.Errorf("failed to read archive header: %v", err)
	}

	switch {
	case bytes.HasPrefix(header, gzipMagic):
		zr, err := gzip.NewReader(buffered)
		if err != nil {
			src.Close()
			return nil, fmt.Errorf("failed to open gzip stream: %v", err)
		}
		return &readCloser{Reader: zr, closers: []func() error{zr.Close, src.Close}}, nil

	case bytes.HasPrefix(header, zstdMagic):
		zr, err := zstd.NewReader(buffered)
		if err != nil {
			src.Close()
			return nil, fmt.Errorf("failed to open zstd stream: %v", err)
		}
		return &readCloser{Reader: zr, closers: []func() error{
			func() error { zr.Close(); return nil },
			src.Close,
		}}, nil

	default:
		return &readCloser{Reader: buffered, closers: []func() error{src.Close}}, nil
	}
}

// openArchive opens path and transparently decompresses it.
func openArchive(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return decompress(f)
}

// extractArchive unpacks the (possibly compressed) tar at path into a new
// temporary directory and returns its path.
func extractArchive(path string) (string, error) {
	rc, err := openArchive(path)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	dir, err := os.MkdirTemp("", "layer-reuse-oci-")
	if err != nil {
		return "", fmt.Errorf("failed to create temp directory: %v", err)
	}

	if err := extractTarToDirectory(rc, dir); err != nil {
		os.RemoveAll(dir)
		return "", err
	}

	return dir, nil
}

// extractTarToDirectory extracts a tar stream to a directory. Only
// directories and regular files are materialised; an OCI layout holds
// nothing else.
func extractTarToDirectory(src io.Reader, targetDir string) error {
	tarReader := tar.NewReader(src)

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read tar header: %v", err)
		}

		// Sanitize the path to prevent directory traversal
		targetPath := filepath.Join(targetDir, header.Name)
		if targetPath != filepath.Clean(targetDir) &&
			!strings.HasPrefix(targetPath, filepath.Clean(targetDir)+string(os.PathSeparator)) {
			return fmt.Errorf("invalid file path: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(targetPath, 0755); err != nil {
				return fmt.Errorf("failed to create directory %s: %v", targetPath, err)
			}

		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
				return fmt.Errorf("failed to create parent directory for %s: %v", targetPath, err)
			}

			file, err := os.OpenFile(targetPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
			if err != nil {
				return fmt.Errorf("failed to create file %s: %v", targetPath, err)
			}

			if _, err := io.Copy(file, tarReader); err != nil {
				file.Close()
				return fmt.Errorf("failed to write file %s: %v", targetPath, err)
			}
			if err := file.Close(); err != nil {
				return fmt.Errorf("failed to close file %s: %v", targetPath, err)
			}

		default:
			continue
		}
	}

	return nil
}
