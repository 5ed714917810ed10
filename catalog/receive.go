package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"lanshare/crypto"
	"lanshare/logger"
)

// Received is the outcome of a published upload.
type Received struct {
	StoredFile
	Checksum string
}

// Receive streams r into the staging area in chunks and publishes it under
// name with a rename. Crossing the size ceiling aborts the upload and removes
// the staged bytes. An existing file of the same name is replaced; concurrent
// uploads of one name race and the last rename wins.
func (s *Store) Receive(ctx context.Context, name string, r io.Reader) (Received, error) {
	clean, err := CleanName(name)
	if err != nil {
		return Received{}, err
	}

	stagingPath := filepath.Join(s.stagingDir, stagingPrefix+uuid.NewString())
	tmp, err := os.OpenFile(stagingPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return Received{}, fmt.Errorf("create staging file: %w", err)
	}

	published := false
	defer func() {
		if !published {
			_ = tmp.Close()
			_ = os.Remove(stagingPath)
		}
	}()

	hasher := crypto.NewChecksum()
	dst := io.MultiWriter(tmp, hasher)
	buf := make([]byte, s.chunkSize)
	var total int64

	for {
		if err := ctx.Err(); err != nil {
			return Received{}, fmt.Errorf("receive %q: %w", clean, err)
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			total += int64(n)
			if total > s.maxSize {
				return Received{}, fmt.Errorf("%w: %q exceeds %d bytes", ErrPayloadTooLarge, clean, s.maxSize)
			}
			if _, err := dst.Write(buf[:n]); err != nil {
				return Received{}, fmt.Errorf("write staging file: %w", err)
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return Received{}, fmt.Errorf("read upload %q: %w", clean, readErr)
		}
	}

	if err := tmp.Sync(); err != nil {
		return Received{}, fmt.Errorf("sync staging file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Received{}, fmt.Errorf("close staging file: %w", err)
	}

	finalPath := filepath.Join(s.filesDir, clean)
	if err := os.Rename(stagingPath, finalPath); err != nil {
		return Received{}, fmt.Errorf("publish %q: %w", clean, err)
	}
	published = true

	info, err := os.Stat(finalPath)
	modified := time.Now()
	if err == nil {
		modified = info.ModTime()
	}

	return Received{
		StoredFile: StoredFile{
			Name:     clean,
			Size:     total,
			Modified: modified,
		},
		Checksum: crypto.SumHex(hasher),
	}, nil
}

// CleanupStaging removes staging files older than maxAge and returns how many
// were removed. Published files are never touched.
func (s *Store) CleanupStaging(maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		maxAge = DefaultStaleStagingAge
	}

	entries, err := os.ReadDir(s.stagingDir)
	if err != nil {
		return 0, fmt.Errorf("read staging directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasPrefix(entry.Name(), stagingPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.stagingDir, entry.Name())); err != nil {
			logger.Warnf("catalog: remove stale staging file %s: %v", entry.Name(), err)
			continue
		}
		removed++
	}
	return removed, nil
}
