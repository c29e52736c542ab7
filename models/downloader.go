package models

import (
	"archive/tar"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	perr "guardian/internal/errors"
	"guardian/internal/logger"
)

// ProgressFunc функция для отчёта о прогрессе (0-100)
type ProgressFunc func(progress float64)

// httpClient без таймаута: большие архивы качаются долго, отмена через ctx
var httpClient = &http.Client{Timeout: 0}

// DownloadFile скачивает файл по URL во временный файл и переименовывает по завершении
func DownloadFile(ctx context.Context, url, destPath string, expectedSize int64, onProgress ProgressFunc) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return perr.IOf(err, "create directory")
	}

	tmpPath := destPath + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return perr.IOf(err, "create %s", tmpPath)
	}
	defer out.Close()

	body, total, err := openDownload(ctx, url, expectedSize)
	if err != nil {
		os.Remove(tmpPath)
		return err
	}
	defer body.Close()

	reader := &progressReader{reader: body, totalSize: total, onProgress: onProgress}
	if _, err := io.Copy(out, reader); err != nil {
		os.Remove(tmpPath)
		return perr.IOf(err, "write %s", destPath)
	}

	// закрываем перед переименованием
	out.Close()
	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return perr.IOf(err, "rename %s", tmpPath)
	}
	return nil
}

// DownloadAndExtract скачивает tar-архив (bz2 или gz) и распаковывает в destDir.
// Единственный корневой каталог архива срезается.
func DownloadAndExtract(ctx context.Context, url, destDir string, expectedSize int64, onProgress ProgressFunc) error {
	body, total, err := openDownload(ctx, url, expectedSize)
	if err != nil {
		return err
	}
	defer body.Close()

	var r io.Reader = &progressReader{reader: body, totalSize: total, onProgress: onProgress}
	switch {
	case strings.HasSuffix(url, ".tar.bz2"):
		r = bzip2.NewReader(r)
	case strings.HasSuffix(url, ".tar.gz"), strings.HasSuffix(url, ".tgz"):
		gz, err := gzip.NewReader(r)
		if err != nil {
			return perr.IOf(err, "open gzip stream")
		}
		defer gz.Close()
		r = gz
	default:
		return perr.InvalidArgf("unsupported archive %s", url)
	}

	tmpDir := destDir + ".tmp"
	os.RemoveAll(tmpDir)
	if err := extractTar(r, tmpDir); err != nil {
		os.RemoveAll(tmpDir)
		return err
	}

	// архивы sherpa-onnx содержат один корневой каталог
	src := tmpDir
	if entries, err := os.ReadDir(tmpDir); err == nil && len(entries) == 1 && entries[0].IsDir() {
		src = filepath.Join(tmpDir, entries[0].Name())
	}
	os.RemoveAll(destDir)
	err = os.Rename(src, destDir)
	os.RemoveAll(tmpDir)
	if err != nil {
		return perr.IOf(err, "move extracted model to %s", destDir)
	}
	return nil
}

func openDownload(ctx context.Context, url string, expectedSize int64) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, perr.InvalidArgf("bad download url %s: %v", url, err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, 0, perr.Wrapf(err, perr.ErrorCodeUnreachable, "download %s", url)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, perr.Newf(perr.ErrorCodeUnreachable, "download %s: bad status %s", url, resp.Status)
	}

	total := resp.ContentLength
	if total <= 0 && expectedSize > 0 {
		total = expectedSize
	}
	return resp.Body, total, nil
}

func extractTar(r io.Reader, destDir string) error {
	tr := tar.NewReader(r)
	root := filepath.Clean(destDir) + string(os.PathSeparator)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return perr.IOf(err, "read archive")
		}

		target := filepath.Join(destDir, filepath.FromSlash(hdr.Name))
		if target == filepath.Clean(destDir) {
			continue
		}
		if !strings.HasPrefix(target, root) {
			return perr.InvalidArgf("archive entry escapes destination: %s", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return perr.IOf(err, "mkdir %s", target)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return perr.IOf(err, "mkdir %s", target)
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
			if err != nil {
				return perr.IOf(err, "create %s", target)
			}
			_, err = io.Copy(f, tr)
			f.Close()
			if err != nil {
				return perr.IOf(err, "write %s", target)
			}
		}
	}
}

// FindFile ищет в каталоге модели файл по шаблону, пропуская int8 варианты
func FindFile(dir, pattern string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return "", err
	}
	for _, m := range matches {
		if !strings.Contains(filepath.Base(m), ".int8.") {
			return m, nil
		}
	}
	if len(matches) > 0 {
		return matches[0], nil
	}
	return "", perr.NotFoundf("no %s in %s", pattern, dir)
}

// progressReader обёртка для io.Reader с отслеживанием прогресса
type progressReader struct {
	reader       io.Reader
	totalSize    int64
	downloaded   int64
	onProgress   ProgressFunc
	lastReport   time.Time
	reportPeriod time.Duration
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.downloaded += int64(n)

		now := time.Now()
		if pr.reportPeriod == 0 {
			pr.reportPeriod = 500 * time.Millisecond
		}
		if pr.onProgress != nil && pr.totalSize > 0 && (now.Sub(pr.lastReport) >= pr.reportPeriod || err == io.EOF) {
			pr.lastReport = now
			pr.onProgress(min(100, float64(pr.downloaded)/float64(pr.totalSize)*100))
		}
	}
	if err == io.EOF {
		logger.Named("models").Debug().Int64("bytes", pr.downloaded).Msg("download stream finished")
	}
	return n, err
}
