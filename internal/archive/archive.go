// Package archive packages build output into the zip artifact shipped to
// the remote host.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/klauspost/compress/flate"

	"github.com/tOgg1/fedeploy/internal/logging"
	"github.com/tOgg1/fedeploy/internal/models"
)

// Entries shipped by an incremental deployment, relative to the dist dir.
const (
	IndexFile   = "index.html"
	IndexGzFile = "index.html.gz"
	StaticDir   = "static"
)

// ArchiveError reports a failure while building the artifact.
type ArchiveError struct {
	Path string
	Err  error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("archive %s: %v", e.Path, e.Err)
}

func (e *ArchiveError) Unwrap() error {
	return e.Err
}

// Result describes a written artifact.
type Result struct {
	// Path is the artifact location.
	Path string

	// Size is the artifact size on disk, in bytes.
	Size int64

	// Files lists archived file names in write order.
	Files []string

	// Warnings lists optional inputs that were absent.
	Warnings []string
}

// Build writes the contents of distDir selected by mode into a zip file at
// outputPath. The file is complete and closed when Build returns; on error
// no partial file is left behind.
func Build(ctx context.Context, distDir, outputPath string, mode models.Mode) (Result, error) {
	result := Result{Path: outputPath}

	info, err := os.Stat(distDir)
	if err != nil {
		return result, &ArchiveError{Path: distDir, Err: err}
	}
	if !info.IsDir() {
		return result, &ArchiveError{Path: distDir, Err: errors.New("not a directory")}
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return result, &ArchiveError{Path: outputPath, Err: err}
	}

	skip, err := realPath(outputPath)
	if err != nil {
		_ = out.Close()
		_ = os.Remove(outputPath)
		return result, &ArchiveError{Path: outputPath, Err: err}
	}
	writer := newWriter(out)
	switch mode {
	case models.ModeIncremental:
		err = writeIncremental(ctx, writer, distDir, skip, &result)
	case models.ModeFull:
		err = addTree(ctx, writer, distDir, distDir, skip, &result)
	default:
		err = fmt.Errorf("unsupported mode %s", mode)
	}

	if err == nil {
		err = writer.Close()
	}
	if err == nil {
		err = out.Sync()
	}
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(outputPath)
		var archiveErr *ArchiveError
		if errors.As(err, &archiveErr) {
			return result, err
		}
		return result, &ArchiveError{Path: outputPath, Err: err}
	}

	stat, err := os.Stat(outputPath)
	if err != nil {
		return result, &ArchiveError{Path: outputPath, Err: err}
	}
	result.Size = stat.Size()

	logger := logging.Component("archive")
	logger.Debug().
		Str("path", outputPath).
		Str("mode", mode.String()).
		Int("files", len(result.Files)).
		Int64("bytes", result.Size).
		Msg("artifact written")
	return result, nil
}

func newWriter(w io.Writer) *zip.Writer {
	writer := zip.NewWriter(w)
	writer.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})
	return writer
}

func writeIncremental(ctx context.Context, writer *zip.Writer, distDir, skip string, result *Result) error {
	if err := addFile(writer, filepath.Join(distDir, IndexFile), IndexFile, result); err != nil {
		return err
	}

	gzPath := filepath.Join(distDir, IndexGzFile)
	if _, err := os.Stat(gzPath); errors.Is(err, fs.ErrNotExist) {
		warning := IndexGzFile + " not found, skipped"
		result.Warnings = append(result.Warnings, warning)
		logger := logging.Component("archive")
		logger.Warn().Str("path", gzPath).Msg(warning)
	} else if err := addFile(writer, gzPath, IndexGzFile, result); err != nil {
		return err
	}

	return addTree(ctx, writer, distDir, filepath.Join(distDir, StaticDir), skip, result)
}

// addTree archives root recursively with names relative to base. Directory
// entries are written too so that empty directories survive extraction.
// Symlinks are followed and archived as their targets. The artifact itself
// (skip) is never archived, for dist dirs that contain it.
func addTree(ctx context.Context, writer *zip.Writer, base, root, skip string, result *Result) error {
	rel, err := filepath.Rel(base, root)
	if err != nil {
		return &ArchiveError{Path: root, Err: err}
	}
	prefix := ""
	if rel != "." {
		prefix = filepath.ToSlash(rel)
	}

	resolved, err := realPath(root)
	if err != nil {
		return &ArchiveError{Path: root, Err: err}
	}
	w := &treeWalker{writer: writer, skip: skip, result: result, active: map[string]bool{}}
	return w.walk(ctx, prefix, resolved)
}

type treeWalker struct {
	writer *zip.Writer
	skip   string
	result *Result

	// active holds the resolved directories currently being walked.
	active map[string]bool
}

// walk archives dir, a resolved path, under the archive name prefix.
func (w *treeWalker) walk(ctx context.Context, prefix, dir string) error {
	w.active[dir] = true
	defer delete(w.active, dir)

	return filepath.WalkDir(dir, func(current string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return &ArchiveError{Path: current, Err: walkErr}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(dir, current)
		if err != nil {
			return &ArchiveError{Path: current, Err: err}
		}
		name := path.Join(prefix, filepath.ToSlash(rel))
		if rel == "." {
			switch {
			case !entry.IsDir():
				return w.addFile(current, name)
			case prefix == "":
				return nil
			}
			if _, err := w.writer.Create(name + "/"); err != nil {
				return &ArchiveError{Path: current, Err: err}
			}
			return nil
		}

		switch {
		case entry.IsDir():
			if _, err := w.writer.Create(name + "/"); err != nil {
				return &ArchiveError{Path: current, Err: err}
			}
			return nil
		case entry.Type().IsRegular():
			return w.addFile(current, name)
		case entry.Type()&fs.ModeSymlink != 0:
			return w.addLink(ctx, current, name)
		default:
			// Sockets and devices are not part of a static site.
			return nil
		}
	})
}

func (w *treeWalker) addFile(source, name string) error {
	if abs, _ := filepath.Abs(source); abs == w.skip {
		return nil
	}
	return addFile(w.writer, source, name, w.result)
}

func (w *treeWalker) addLink(ctx context.Context, link, name string) error {
	info, err := os.Stat(link)
	if err != nil {
		return &ArchiveError{Path: link, Err: fmt.Errorf("broken symlink: %w", err)}
	}

	switch {
	case info.Mode().IsRegular():
		return w.addFile(link, name)
	case info.IsDir():
		target, err := realPath(link)
		if err != nil {
			return &ArchiveError{Path: link, Err: err}
		}
		if w.active[target] {
			return &ArchiveError{Path: link, Err: fmt.Errorf("symlink loop to %s", target)}
		}
		return w.walk(ctx, name, target)
	default:
		return nil
	}
}

// realPath returns the absolute path of p with every symlink resolved.
func realPath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

func addFile(writer *zip.Writer, source, name string, result *Result) error {
	file, err := os.Open(source)
	if err != nil {
		return &ArchiveError{Path: source, Err: err}
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return &ArchiveError{Path: source, Err: err}
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return &ArchiveError{Path: source, Err: err}
	}
	header.Name = path.Clean(name)
	header.Method = zip.Deflate

	dst, err := writer.CreateHeader(header)
	if err != nil {
		return &ArchiveError{Path: source, Err: err}
	}
	if _, err := io.Copy(dst, file); err != nil {
		return &ArchiveError{Path: source, Err: err}
	}

	result.Files = append(result.Files, header.Name)
	return nil
}

// Clean removes the local artifact. A missing file is not an error; removed
// reports whether anything was deleted.
func Clean(path string) (removed bool, err error) {
	err = os.Remove(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, &ArchiveError{Path: path, Err: err}
	}
}
