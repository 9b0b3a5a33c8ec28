package compute

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"

	"github.com/throwparty/litterbox/internal/domain"
)

// UploadPath tars hostPath (a file becomes a single basename-named entry; a
// directory is walked recursively with relative archive paths, preserving
// empty directories as explicit entries) and uploads it into destDir
// inside id.
func (e *Engine) UploadPath(ctx context.Context, id, hostPath, destDir string) error {
	buf, err := buildTarArchive(hostPath)
	if err != nil {
		return domain.NewComputeError(domain.ComputeContainerUpload, err)
	}

	if err := e.cli.CopyToContainer(ctx, id, destDir, buf, container.CopyToContainerOptions{}); err != nil {
		if errdefs.IsNotFound(err) {
			return &domain.ContainerNotFoundError{ID: id}
		}
		return domain.NewComputeError(domain.ComputeContainerUpload, err)
	}

	return nil
}

// buildTarArchive tars hostPath: a file becomes a single entry named by its
// basename, a directory is walked recursively with relative archive paths
// and empty directories preserved as explicit entries.
func buildTarArchive(hostPath string) (*bytes.Buffer, error) {
	info, err := os.Stat(hostPath)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	if info.IsDir() {
		err = filepath.Walk(hostPath, func(path string, fi os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if path == hostPath {
				return nil
			}

			rel, err := filepath.Rel(hostPath, path)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)

			hdr, err := tar.FileInfoHeader(fi, "")
			if err != nil {
				return err
			}
			hdr.Name = rel

			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}

			if fi.Mode().IsRegular() {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				defer f.Close()

				if _, err := io.Copy(tw, f); err != nil {
					return err
				}
			}

			return nil
		})
	} else {
		hdr, herr := tar.FileInfoHeader(info, "")
		if herr != nil {
			return nil, herr
		}
		hdr.Name = filepath.Base(hostPath)
		err = tw.WriteHeader(hdr)
		if err == nil {
			f, ferr := os.Open(hostPath)
			if ferr != nil {
				return nil, ferr
			}
			defer f.Close()
			_, err = io.Copy(tw, f)
		}
	}

	if err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}

	return &buf, nil
}

// DownloadPath fetches the tar stream of srcPath from id and extracts it
// into hostDest (created if absent). Entries under ".git" are skipped and
// a leading "src/" path component is stripped, so the container's /src
// contents land directly at hostDest/.
func (e *Engine) DownloadPath(ctx context.Context, id, srcPath, hostDest string) error {
	rc, _, err := e.cli.CopyFromContainer(ctx, id, srcPath)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return &domain.ContainerNotFoundError{ID: id}
		}
		return domain.NewComputeError(domain.ComputeContainerDownload, err)
	}
	defer rc.Close()

	if err := extractTarArchive(rc, hostDest); err != nil {
		return domain.NewComputeError(domain.ComputeContainerDownload, err)
	}

	return nil
}

// extractTarArchive extracts r into hostDest, creating it if absent.
// Entries under ".git" are skipped and a leading "src/" path component is
// stripped from every name.
func extractTarArchive(r io.Reader, hostDest string) error {
	if err := os.MkdirAll(hostDest, 0o755); err != nil {
		return err
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		name := strings.TrimPrefix(hdr.Name, "src/")
		if name == "" || name == "src" {
			continue
		}
		if name == ".git" || strings.HasPrefix(name, ".git/") {
			continue
		}

		dest := filepath.Join(hostDest, name)

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
