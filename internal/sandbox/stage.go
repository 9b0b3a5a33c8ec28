package sandbox

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// extractTarToDir extracts a plain (non-gzipped) tar archive, as produced
// by `git archive`, into dir.
func extractTarToDir(archive []byte, dir string) error {
	tr := tar.NewReader(bytes.NewReader(archive))

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		dest := filepath.Join(dir, hdr.Name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return err
			}
			f, err := os.Create(dest)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			f.Chmod(os.FileMode(hdr.Mode) & os.ModePerm)
			f.Close()
		}
	}

	return nil
}

func parsePort(s string) (int, error) {
	return strconv.Atoi(s)
}
