package orchestrator

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"microbook/internal/book"
	"microbook/internal/logging"
	"microbook/internal/wire"
)

// fileAuditLogger implements book.AuditLogger, writing one JSON line
// per event to {diff,snapshot,gap}.log in the directory it is given
// (the orchestrator passes <audit_dir>/<SYMBOL>), each rotated
// independently via lumberjack.
type fileAuditLogger struct {
	mu      sync.Mutex
	diffLog *lumberjack.Logger
	snapLog *lumberjack.Logger
	gapLog  *lumberjack.Logger
	log     *logging.Entry
}

func newAuditLogger(dir string, parent *logging.Log) *fileAuditLogger {
	symbolDir := dir
	return &fileAuditLogger{
		diffLog: &lumberjack.Logger{Filename: filepath.Join(symbolDir, "diff.log"), MaxSize: 100, MaxAge: 7, Compress: true},
		snapLog: &lumberjack.Logger{Filename: filepath.Join(symbolDir, "snapshot.log"), MaxSize: 100, MaxAge: 7, Compress: true},
		gapLog:  &lumberjack.Logger{Filename: filepath.Join(symbolDir, "gap.log"), MaxSize: 100, MaxAge: 7, Compress: true},
		log:     parent.WithComponent("audit"),
	}
}

func (a *fileAuditLogger) LogSnapshot(snap wire.BookDiff) {
	a.append(a.snapLog, map[string]any{
		"time":           time.Now().UTC().Format(time.RFC3339Nano),
		"last_update_id": snap.LastUpdateID,
		"bids":           snap.Bids,
		"asks":           snap.Asks,
	})
}

func (a *fileAuditLogger) LogDiff(diff wire.BookDiff) {
	a.append(a.diffLog, map[string]any{
		"time":            time.Now().UTC().Format(time.RFC3339Nano),
		"first_update_id": diff.FirstUpdateID,
		"last_update_id":  diff.LastUpdateID,
		"bids":            diff.Bids,
		"asks":            diff.Asks,
	})
}

func (a *fileAuditLogger) LogGap(diff wire.BookDiff, current uint64) {
	a.append(a.gapLog, map[string]any{
		"time":            time.Now().UTC().Format(time.RFC3339Nano),
		"current":         current,
		"first_update_id": diff.FirstUpdateID,
		"last_update_id":  diff.LastUpdateID,
	})
}

func (a *fileAuditLogger) append(w *lumberjack.Logger, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		a.log.WithError(err).Warn("audit log marshal failed")
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := w.Write(append(data, '\n')); err != nil {
		a.log.WithError(err).Warn("audit log write failed")
	}
}

var _ book.AuditLogger = (*fileAuditLogger)(nil)

func auditDirFor(baseDir, symbol string) string {
	return filepath.Join(baseDir, strings.ToUpper(symbol))
}
