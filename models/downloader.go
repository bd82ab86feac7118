package models

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// ProgressFunc отчёт о прогрессе (0-100)
type ProgressFunc func(progress float64)

const progressPeriod = 500 * time.Millisecond

// DownloadFile скачивает url во временный файл рядом с destPath и
// переименовывает его только после полной загрузки
func DownloadFile(ctx context.Context, client *http.Client, url, destPath string, expectedSize int64, onProgress ProgressFunc) error {
	if client == nil {
		client = http.DefaultClient
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	total := resp.ContentLength
	if total <= 0 {
		total = expectedSize
	}

	tmpPath := destPath + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	written, err := io.Copy(out, &progressReader{reader: resp.Body, total: total, onProgress: onProgress})
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil && resp.ContentLength > 0 && written != resp.ContentLength {
		err = fmt.Errorf("short download: %d of %d bytes", written, resp.ContentLength)
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}
	if onProgress != nil {
		onProgress(100)
	}
	return nil
}

// progressReader сообщает прогресс не чаще progressPeriod
type progressReader struct {
	reader     io.Reader
	total      int64
	done       int64
	onProgress ProgressFunc
	lastReport time.Time
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	pr.done += int64(n)
	if pr.onProgress == nil || pr.total <= 0 || n == 0 {
		return n, err
	}
	if now := time.Now(); now.Sub(pr.lastReport) >= progressPeriod {
		pr.lastReport = now
		pr.onProgress(float64(pr.done) / float64(pr.total) * 100)
	}
	return n, err
}
