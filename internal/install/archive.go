package install

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// extractBinary pulls the Pi executable out of a downloaded archive into
// destDir and returns its path. Plain (non-archive) assets are copied as-is.
func extractBinary(fs afero.Fs, archivePath, binaryName, destDir string) (string, error) {
	switch {
	case strings.HasSuffix(archivePath, ".tar.gz"), strings.HasSuffix(archivePath, ".tgz"):
		return extractTarGz(fs, archivePath, binaryName, destDir)
	case strings.HasSuffix(archivePath, ".zip"):
		return extractZip(fs, archivePath, binaryName, destDir)
	default:
		dest := filepath.Join(destDir, binaryName)
		if err := copyFile(fs, archivePath, dest, 0o755); err != nil {
			return "", err
		}
		return dest, nil
	}
}

func extractTarGz(fs afero.Fs, archivePath, binaryName, destDir string) (string, error) {
	f, err := fs.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("open archive %s: %w", archivePath, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return "", fmt.Errorf("read gzip %s: %w", archivePath, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read tar %s: %w", archivePath, err)
		}
		if hdr.Typeflag != tar.TypeReg || filepath.Base(hdr.Name) != binaryName {
			continue
		}
		dest := filepath.Join(destDir, binaryName)
		if err := writeFile(fs, dest, tr, 0o755); err != nil {
			return "", err
		}
		return dest, nil
	}
	return "", fmt.Errorf("binary %q not found in archive %s", binaryName, archivePath)
}

func extractZip(fs afero.Fs, archivePath, binaryName, destDir string) (string, error) {
	raw, err := afero.ReadFile(fs, archivePath)
	if err != nil {
		return "", fmt.Errorf("read archive %s: %w", archivePath, err)
	}

	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("read zip %s: %w", archivePath, err)
	}

	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() || filepath.Base(entry.Name) != binaryName {
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			return "", fmt.Errorf("open zip entry %s: %w", entry.Name, err)
		}
		dest := filepath.Join(destDir, binaryName)
		err = writeFile(fs, dest, rc, 0o755)
		rc.Close()
		if err != nil {
			return "", err
		}
		return dest, nil
	}
	return "", fmt.Errorf("binary %q not found in archive %s", binaryName, archivePath)
}

func writeFile(fs afero.Fs, dest string, src io.Reader, mode os.FileMode) error {
	out, err := fs.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", dest, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dest, err)
	}
	return nil
}

func copyFile(fs afero.Fs, src, dest string, mode os.FileMode) error {
	in, err := fs.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()
	return writeFile(fs, dest, in, mode)
}
