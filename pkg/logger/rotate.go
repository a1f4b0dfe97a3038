package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// auditFile is the sink behind the audit logger. Every agreed channel
// state and every watchtower challenge lands here, so the file grows for
// the lifetime of the daemon; once a write would push it past the size
// limit the current file is shifted into a numbered backup chain and a
// fresh one is started. Backups beyond the retention age are pruned on
// each shift.
type auditFile struct {
	mu        sync.Mutex
	out       *os.File
	written   int64
	path      string
	limit     int64
	keep      int
	retention time.Duration
}

// newAuditFile prepares the sink at path. Size, backup and age limits
// are normalized by the caller; the file itself is opened lazily on the
// first write.
func newAuditFile(path string, maxSizeMB, maxBackups, maxAgeDays int) (*auditFile, error) {
	if path == "" {
		return nil, errors.New("audit file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}
	return &auditFile{
		path:      path,
		limit:     int64(maxSizeMB) << 20,
		keep:      maxBackups,
		retention: time.Duration(maxAgeDays) * 24 * time.Hour,
	}, nil
}

func (a *auditFile) Write(p []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.open(); err != nil {
		return 0, err
	}
	if a.limit > 0 && a.written+int64(len(p)) > a.limit {
		if err := a.shift(); err != nil {
			return 0, err
		}
		if err := a.open(); err != nil {
			return 0, err
		}
	}
	n, err := a.out.Write(p)
	a.written += int64(n)
	return n, err
}

func (a *auditFile) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.out == nil {
		return nil
	}
	err := a.out.Close()
	a.out = nil
	a.written = 0
	return err
}

// open resumes appending to an existing audit file after a restart,
// counting its current size against the limit.
func (a *auditFile) open() error {
	if a.out != nil {
		return nil
	}
	out, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	info, err := out.Stat()
	if err != nil {
		out.Close()
		return fmt.Errorf("stat audit file: %w", err)
	}
	a.out = out
	a.written = info.Size()
	return nil
}

// shift closes the active file and pushes it onto the backup chain:
// audit.log becomes audit.log.1, audit.log.1 becomes audit.log.2 and so
// on, dropping whatever falls off the end.
func (a *auditFile) shift() error {
	if a.out != nil {
		_ = a.out.Close()
		a.out = nil
	}
	a.written = 0

	if a.keep <= 0 {
		_ = os.Remove(a.path)
		return nil
	}
	for i := a.keep; i > 1; i-- {
		if _, err := os.Stat(a.backup(i - 1)); err == nil {
			_ = os.Rename(a.backup(i-1), a.backup(i))
		}
	}
	if _, err := os.Stat(a.path); err == nil {
		_ = os.Rename(a.path, a.backup(1))
	}
	a.prune()
	return nil
}

// prune removes backups older than the retention window.
func (a *auditFile) prune() {
	if a.retention <= 0 {
		return
	}
	expired := time.Now().Add(-a.retention)
	for i := 1; i <= a.keep; i++ {
		info, err := os.Stat(a.backup(i))
		if err != nil {
			continue
		}
		if info.ModTime().Before(expired) {
			_ = os.Remove(a.backup(i))
		}
	}
}

func (a *auditFile) backup(i int) string {
	return fmt.Sprintf("%s.%d", a.path, i)
}
