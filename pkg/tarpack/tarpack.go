// Package tarpack packs a directory tree into a single byte stream (and
// unpacks it again) so the compression pipeline can treat a directory the
// same way it treats a single file: one stream of bytes, chunked and
// compressed uniformly. It is a thin wrapper over stdlib archive/tar;
// the pipeline is what gives the result a PMA envelope.
package tarpack

import (
	"archive/tar"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hocestnonsatis/parallel-mengene/pkg/pmerr"
)

// Pack walks root and writes a tar stream of its contents to w. Paths in
// the tar headers are relative to root, using forward slashes, so the
// archive can be unpacked on any platform.
func Pack(root string, w io.Writer) error {
	const op = "tarpack.Pack"

	tw := tar.NewWriter(w)

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		var link string
		if info.Mode()&os.ModeSymlink != 0 {
			link, err = os.Readlink(path)
			if err != nil {
				return err
			}
		}

		header, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		header.Name = rel
		if d.IsDir() {
			header.Name += "/"
		}

		if err := tw.WriteHeader(header); err != nil {
			return err
		}

		if d.IsDir() || info.Mode()&os.ModeSymlink != 0 {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()

		if _, err := io.Copy(tw, f); err != nil {
			return err
		}
		return nil
	})
	if walkErr != nil {
		return pmerr.Wrap(op, pmerr.KindIO, walkErr)
	}

	if err := tw.Close(); err != nil {
		return pmerr.Wrap(op, pmerr.KindIO, err)
	}
	return nil
}

// Unpack reads a tar stream from r and recreates its entries under
// destRoot, which must already exist. Entries that would escape destRoot
// (absolute paths or ".." components) are rejected.
func Unpack(r io.Reader, destRoot string) error {
	const op = "tarpack.Unpack"

	tr := tar.NewReader(r)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return pmerr.Wrap(op, pmerr.KindCorrupt, err)
		}

		target, err := safeJoin(destRoot, header.Name)
		if err != nil {
			return pmerr.Wrap(op, pmerr.KindCorrupt, err)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(header.Mode)|0o700); err != nil {
				return pmerr.Wrap(op, pmerr.KindIO, err)
			}
		case tar.TypeSymlink:
			if err := os.Symlink(header.Linkname, target); err != nil {
				return pmerr.Wrap(op, pmerr.KindIO, err)
			}
		default:
			if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
				return pmerr.Wrap(op, pmerr.KindIO, err)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(header.Mode)|0o600)
			if err != nil {
				return pmerr.Wrap(op, pmerr.KindIO, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				_ = out.Close()
				return pmerr.Wrap(op, pmerr.KindIO, err)
			}
			if err := out.Close(); err != nil {
				return pmerr.Wrap(op, pmerr.KindIO, err)
			}
		}
	}
	return nil
}

func safeJoin(root, name string) (string, error) {
	rel := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(rel) || rel == ".." || hasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", pmerr.New("tarpack.safeJoin", pmerr.KindInvalidInput, "tar entry escapes destination root: "+name)
	}
	return filepath.Join(root, rel), nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
