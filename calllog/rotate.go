package calllog

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const rotatedTimeFormat = "2006-01-02_15-04-05"

// rotateIfNeeded moves path aside once it grows past MaxBytes. The rotated
// copy is gzipped and the plain copy removed. It returns the compressed file,
// or "" when nothing was rotated. Called with l.mu held.
func (l *Logger) rotateIfNeeded(path string) string {
	info, err := os.Stat(path)
	if err != nil || info.Size() <= l.opts.MaxBytes {
		return ""
	}

	rotated := l.rotatedName(path)
	if err := os.Rename(path, rotated); err != nil {
		l.opts.Logger.Warn().Err(err).Str("file", path).Msg("failed to rotate audit log")
		return ""
	}

	gz, err := gzipFile(rotated)
	if err != nil {
		l.opts.Logger.Warn().Err(err).Str("file", rotated).Msg("failed to compress rotated audit log")
		return ""
	}
	if err := os.Remove(rotated); err != nil {
		l.opts.Logger.Warn().Err(err).Str("file", rotated).Msg("failed to remove rotated audit log")
	}
	return gz
}

// archive uploads gz in the background. The upload outlives the request that
// triggered the rotation and is bounded by ArchiveTimeout.
func (l *Logger) archive(ctx context.Context, gz string) {
	if l.opts.Archiver == nil {
		return
	}
	l.uploads.Add(1)
	go func() {
		defer l.uploads.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.opts.ArchiveTimeout)
		defer cancel()

		if err := l.opts.Archiver.Archive(ctx, gz); err != nil {
			l.opts.Logger.Warn().Err(err).Str("file", gz).Msg("failed to archive audit log")
			return
		}
		l.opts.Logger.Info().Str("file", gz).Msg("audit log archived")
	}()
}

// Wait blocks until background archive uploads have finished.
func (l *Logger) Wait() {
	l.uploads.Wait()
}

func (l *Logger) rotatedName(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	stamp := l.now().Format(rotatedTimeFormat)
	name := filepath.Join(filepath.Dir(path), fmt.Sprintf("%s_%s.log", base, stamp))
	for i := 1; fileExists(name) || fileExists(name+".gz"); i++ {
		name = filepath.Join(filepath.Dir(path), fmt.Sprintf("%s_%s_%d.log", base, stamp, i))
	}
	return name
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func gzipFile(src string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	dst := src + ".gz"
	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}

	zw, err := gzip.NewWriterLevel(out, gzip.BestCompression)
	if err != nil {
		out.Close()
		return "", err
	}
	zw.Name = filepath.Base(src)

	if _, err := io.Copy(zw, in); err != nil {
		zw.Close()
		out.Close()
		os.Remove(dst)
		return "", err
	}
	if err := zw.Close(); err != nil {
		out.Close()
		os.Remove(dst)
		return "", err
	}
	return dst, out.Close()
}
