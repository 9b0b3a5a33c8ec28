package compute

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func extractEntries(t *testing.T, data []byte) map[string]string {
	t.Helper()

	tr := tar.NewReader(bytes.NewReader(data))
	out := make(map[string]string)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)

		if hdr.Typeflag == tar.TypeReg {
			content, err := io.ReadAll(tr)
			require.NoError(t, err)
			out[hdr.Name] = string(content)
		} else {
			out[hdr.Name] = ""
		}
	}
	return out
}

func TestBuildTarArchiveSingleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	buf, err := buildTarArchive(path)
	require.NoError(t, err)

	entries := extractEntries(t, buf.Bytes())
	assert.Equal(t, map[string]string{"notes.txt": "hello"}, entries)
}

func TestBuildTarArchiveDirectoryWithRelativePaths(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("b"), 0o644))

	buf, err := buildTarArchive(dir)
	require.NoError(t, err)

	entries := extractEntries(t, buf.Bytes())
	assert.Equal(t, map[string]string{
		"a.txt":     "a",
		"sub":       "",
		"sub/b.txt": "b",
	}, entries)
}

func TestBuildTarArchivePreservesEmptyDirectories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "empty"), 0o755))

	buf, err := buildTarArchive(dir)
	require.NoError(t, err)

	entries := extractEntries(t, buf.Bytes())
	_, ok := entries["empty"]
	assert.True(t, ok, "empty directory must be preserved as an explicit entry")
}

func TestExtractTarArchiveStripsSrcPrefixAndSkipsGit(t *testing.T) {
	dir := t.TempDir()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	files := []struct {
		name string
		body string
		dir  bool
	}{
		{name: "src", dir: true},
		{name: "src/main.go", body: "package main"},
		{name: "src/.git", dir: true},
		{name: "src/.git/HEAD", body: "ref: refs/heads/main"},
	}
	for _, f := range files {
		hdr := &tar.Header{Name: f.name, Size: int64(len(f.body))}
		if f.dir {
			hdr.Typeflag = tar.TypeDir
		} else {
			hdr.Typeflag = tar.TypeReg
			hdr.Mode = 0o644
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if !f.dir {
			_, err := tw.Write([]byte(f.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())

	dest := filepath.Join(dir, "out")
	require.NoError(t, extractTarArchive(&buf, dest))

	data, err := os.ReadFile(filepath.Join(dest, "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main", string(data))

	_, err = os.Stat(filepath.Join(dest, ".git"))
	assert.True(t, os.IsNotExist(err), ".git must not be extracted")
}
