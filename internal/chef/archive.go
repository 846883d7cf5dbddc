package chef

// archive.go packs the convergence input directories into a single tar.gz
// for one-shot transfer to the instance.

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

var ErrArchiveEmpty = fmt.Errorf("no convergence input directories found to archive")

// archiveDirs writes a gzip'd tarball at 'out' containing each of 'dirs'
// found under 'root'. Directories absent from 'root' are skipped; if none
// exist the archive would converge nothing, which is fatal.
func archiveDirs(root string, dirs []string, out string) error {
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	packed := 0
	for _, dir := range dirs {
		src := filepath.Join(root, dir)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := packTree(tw, root, src); err != nil {
			return err
		}
		packed++
	}
	if packed == 0 {
		return ErrArchiveEmpty
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	return f.Close()
}

// packTree walks 'src' adding regular files and directories to 'tw' with
// paths relative to 'root'.
func packTree(tw *tar.Writer, root, src string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		// Symlinks and other irregular entries have no business in a
		// cookbook payload.
		if !info.Mode().IsRegular() && !info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := io.Copy(tw, f); err != nil {
			return err
		}
		return nil
	})
}
