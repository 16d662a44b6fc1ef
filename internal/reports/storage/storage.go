// Package storage implements ReportStorage: per-report durable storage with
// ACID-like semantics for a single writer, per spec.md §4.5. The
// archive-then-purge fail-safe ordering and snapshot-on-write idiom are
// grounded on the teacher's internal/retention.Janitor and
// internal/store.MemoryStore; advisory locking uses gofrs/flock, named via
// the pack's sibling manifests (see DESIGN.md) since the teacher itself has
// no per-resource file-locking concern.
package storage

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/icebound-data/igloo-mcp/internal/reports/outline"
	"github.com/icebound-data/igloo-mcp/internal/toolerr"
)

// snapshotSizeThreshold bounds when an AuditEvent carries an inline
// pre-image outline vs. a reference to a backup file, per spec.md §4.5.
const snapshotSizeThreshold = 64 * 1024 // bytes of marshaled JSON

// auditRotationThreshold is the default audit.jsonl rotation size, per
// spec.md §4.5 ("exceeds 50 MB (configurable)").
const auditRotationThreshold = 50 * 1024 * 1024

// Storage owns every report directory under reportsRoot.
type Storage struct {
	root          string
	lockTimeout   time.Duration
	rotationBytes int64
}

// New creates a Storage rooted at reportsRoot.
func New(reportsRoot string, lockTimeout time.Duration) *Storage {
	if lockTimeout <= 0 {
		lockTimeout = 10 * time.Second
	}
	return &Storage{root: reportsRoot, lockTimeout: lockTimeout, rotationBytes: auditRotationThreshold}
}

func (s *Storage) reportDir(reportID string) string {
	return filepath.Join(s.root, "by_id", reportID)
}

func (s *Storage) outlinePath(reportID string) string  { return filepath.Join(s.reportDir(reportID), "outline.json") }
func (s *Storage) auditPath(reportID string) string    { return filepath.Join(s.reportDir(reportID), "audit.jsonl") }
func (s *Storage) backupsDir(reportID string) string   { return filepath.Join(s.reportDir(reportID), "backups") }
func (s *Storage) assetsDir(reportID string) string    { return filepath.Join(s.reportDir(reportID), "assets") }
func (s *Storage) lockPath(reportID string) string     { return filepath.Join(s.reportDir(reportID), ".lock") }

// Lock acquires the per-report advisory lock, bounded by lockTimeout.
// Returns a release function.
func (s *Storage) Lock(reportID string) (release func(), err error) {
	dir := s.reportDir(reportID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: mkdir report dir: %w", err)
	}
	fl := flock.New(s.lockPath(reportID))

	ok, lockErr := tryLockWithTimeout(fl, s.lockTimeout)
	if lockErr != nil {
		return nil, fmt.Errorf("storage: lock error: %w", lockErr)
	}
	if !ok {
		return nil, toolerr.New(toolerr.LockTimeout, fmt.Sprintf("could not acquire lock for report %s within %s", reportID, s.lockTimeout))
	}
	return func() { _ = fl.Unlock() }, nil
}

func tryLockWithTimeout(fl *flock.Flock, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := fl.TryLock()
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		time.Sleep(25 * time.Millisecond)
	}
}

// Create initializes a new report directory, writes the initial outline,
// and seeds the audit log with a create event.
func (s *Storage) Create(reportID string, ol *outline.Outline, requestID string) error {
	release, err := s.Lock(reportID)
	if err != nil {
		return err
	}
	defer release()

	if err := os.MkdirAll(s.backupsDir(reportID), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir backups: %w", err)
	}
	if err := os.MkdirAll(s.assetsDir(reportID), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir assets: %w", err)
	}

	beforeSha := shaOf(outline.New(ol.Metadata.Template))
	if err := s.writeOutlineLocked(reportID, ol); err != nil {
		return err
	}
	afterSha := shaOf(ol)

	return s.appendAudit(reportID, outline.AuditEvent{
		ActionID:            newID(),
		ReportID:            reportID,
		Ts:                  time.Now().UTC(),
		Actor:                outline.ActorAgent,
		ActionType:           outline.ActionCreate,
		BeforeOutlineSha256: beforeSha,
		AfterOutlineSha256:  afterSha,
		RequestID:           requestID,
	})
}

// Read loads the current outline, performing crash recovery per spec.md
// §4.5: a leftover outline.json.tmp is discarded; if outline.json is
// missing but a backup exists, the newest backup is promoted.
func (s *Storage) Read(reportID string) (*outline.Outline, error) {
	// Discard any leftover tmp from a crash mid-write.
	tmp := s.outlinePath(reportID) + ".tmp"
	if _, err := os.Stat(tmp); err == nil {
		_ = os.Remove(tmp)
	}

	b, err := os.ReadFile(s.outlinePath(reportID))
	if err != nil {
		if os.IsNotExist(err) {
			if promoted, perr := s.promoteNewestBackup(reportID); perr == nil {
				return promoted, nil
			}
		}
		return nil, toolerr.New(toolerr.IOError, fmt.Sprintf("outline read failed for %s: %v", reportID, err))
	}
	var ol outline.Outline
	if err := json.Unmarshal(b, &ol); err != nil {
		return nil, toolerr.New(toolerr.IOError, fmt.Sprintf("outline corrupt for %s: %v", reportID, err))
	}
	return &ol, nil
}

func (s *Storage) promoteNewestBackup(reportID string) (*outline.Outline, error) {
	entries, err := os.ReadDir(s.backupsDir(reportID))
	if err != nil || len(entries) == 0 {
		return nil, fmt.Errorf("no backups available")
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names) // microsecond-precision timestamps in filenames sort chronologically
	newest := names[len(names)-1]
	b, err := os.ReadFile(filepath.Join(s.backupsDir(reportID), newest))
	if err != nil {
		return nil, err
	}
	var ol outline.Outline
	if err := json.Unmarshal(b, &ol); err != nil {
		return nil, err
	}
	log.Warn().Str("report_id", reportID).Str("backup", newest).Msg("storage: promoted newest backup after missing outline.json")
	if err := s.writeOutlineLocked(reportID, &ol); err != nil {
		return nil, err
	}
	return &ol, nil
}

// Mutate performs the full locked read-modify-write cycle from spec.md
// §4.5: acquire lock → load current outline → apply mutate (PatchEngine
// lives above this layer and is invoked by the caller) → atomic write with
// rotating backup → append audit → release lock.
func (s *Storage) Mutate(reportID string, requestID string, actionType outline.AuditActionType, actor outline.AuditActor, mutate func(current *outline.Outline) (*outline.Outline, interface{}, error)) (*outline.Outline, error) {
	release, err := s.Lock(reportID)
	if err != nil {
		return nil, err
	}
	defer release()

	current, err := s.Read(reportID)
	if err != nil {
		return nil, err
	}
	beforeSha := shaOf(current)

	next, payload, err := mutate(current)
	if err != nil {
		return nil, err
	}

	if err := s.writeOutlineLocked(reportID, next); err != nil {
		return nil, err
	}
	afterSha := shaOf(next)

	event := outline.AuditEvent{
		ActionID:            newID(),
		ReportID:            reportID,
		Ts:                  time.Now().UTC(),
		Actor:               actor,
		ActionType:          actionType,
		BeforeOutlineSha256: beforeSha,
		AfterOutlineSha256:  afterSha,
		Payload:             payload,
		RequestID:           requestID,
	}
	if b, _ := json.Marshal(current); len(b) <= snapshotSizeThreshold {
		event.BeforeOutlineSnapshot = current
	}
	if err := s.appendAudit(reportID, event); err != nil {
		return nil, err
	}
	return next, nil
}

// writeOutlineLocked performs the tmp → backup → rename → fsync discipline
// from spec.md §4.5 steps 4. Caller must already hold the report lock.
func (s *Storage) writeOutlineLocked(reportID string, ol *outline.Outline) error {
	b, err := json.MarshalIndent(ol, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: marshal outline: %w", err)
	}

	outlinePath := s.outlinePath(reportID)
	tmp := outlinePath + ".tmp"
	if err := writeFsync(tmp, b); err != nil {
		return toolerr.New(toolerr.IOError, fmt.Sprintf("write outline tmp: %v", err))
	}

	backupPath := filepath.Join(s.backupsDir(reportID), fmt.Sprintf("outline.%s.json", microsecondTimestamp()))
	if err := os.MkdirAll(s.backupsDir(reportID), 0o755); err != nil {
		return toolerr.New(toolerr.IOError, fmt.Sprintf("mkdir backups: %v", err))
	}
	if err := writeFsync(backupPath, b); err != nil {
		return toolerr.New(toolerr.IOError, fmt.Sprintf("write backup: %v", err))
	}

	if err := os.Rename(tmp, outlinePath); err != nil {
		return toolerr.New(toolerr.IOError, fmt.Sprintf("rename outline: %v", err))
	}
	fsyncDir(filepath.Dir(outlinePath))
	return nil
}

// appendAudit appends a single AuditEvent, rotating audit.jsonl first if it
// has grown past rotationBytes. A rotation is itself a loggable event,
// per spec.md §4.5, logged via zerolog rather than recorded as a second
// audit entry (rotation is infrastructure, not report content).
func (s *Storage) appendAudit(reportID string, event outline.AuditEvent) error {
	path := s.auditPath(reportID)
	if info, err := os.Stat(path); err == nil && info.Size() > s.rotationBytes {
		rotated := filepath.Join(s.reportDir(reportID), fmt.Sprintf("audit-%s.jsonl", time.Now().UTC().Format("2006-01")))
		if err := os.Rename(path, rotated); err != nil {
			log.Warn().Err(err).Str("report_id", reportID).Msg("storage: audit rotation failed")
		} else {
			log.Info().Str("report_id", reportID).Str("rotated_to", rotated).Msg("storage: audit log rotated")
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return toolerr.New(toolerr.IOError, fmt.Sprintf("open audit log: %v", err))
	}
	defer f.Close()

	b, err := json.Marshal(event)
	if err != nil {
		return toolerr.New(toolerr.IOError, fmt.Sprintf("marshal audit event: %v", err))
	}
	b = append(b, '\n')
	if _, err := f.Write(b); err != nil {
		return toolerr.New(toolerr.IOError, fmt.Sprintf("append audit event: %v", err))
	}
	return f.Sync()
}

// Revert rebuilds the outline from the audit event's pre-image, per
// spec.md §4.5: either an inline snapshot or, without one, the backup
// written just before the event's own backup.
func (s *Storage) Revert(reportID string, actionID string, requestID string) (*outline.Outline, error) {
	events, err := s.ReadAudit(reportID, 0)
	if err != nil {
		return nil, err
	}
	var target *outline.AuditEvent
	for i := range events {
		if events[i].ActionID == actionID {
			target = &events[i]
			break
		}
	}
	if target == nil {
		return nil, toolerr.New(toolerr.SelectorError, fmt.Sprintf("no audit event %s for report %s", actionID, reportID))
	}

	var restored *outline.Outline
	if target.BeforeOutlineSnapshot != nil {
		restored = target.BeforeOutlineSnapshot
	} else {
		restored, err = s.backupAsOf(reportID, target.Ts)
		if err != nil {
			return nil, err
		}
	}

	return s.Mutate(reportID, requestID, outline.ActionRevert, outline.ActorAgent, func(current *outline.Outline) (*outline.Outline, interface{}, error) {
		next := restored.Clone()
		next.Version = current.Version + 1
		return next, map[string]string{"reverted_action_id": actionID}, nil
	})
}

func (s *Storage) backupAsOf(reportID string, ts time.Time) (*outline.Outline, error) {
	entries, err := os.ReadDir(s.backupsDir(reportID))
	if err != nil {
		return nil, toolerr.New(toolerr.IOError, fmt.Sprintf("list backups: %v", err))
	}
	var candidates []string
	for _, e := range entries {
		if !e.IsDir() {
			candidates = append(candidates, e.Name())
		}
	}
	sort.Strings(candidates)
	// The latest backup at or before ts is the event's own write (its
	// post-image), so pick the one before it; microsecond-precision names
	// sort lexicographically in creation order.
	chosen := ""
	cutoff := ts.Format("20060102T150405.000000")
	for i, name := range candidates {
		if extractTimestamp(name) <= cutoff && i > 0 {
			chosen = candidates[i-1]
		}
	}
	if chosen == "" && len(candidates) > 0 {
		chosen = candidates[0]
	}
	if chosen == "" {
		return nil, toolerr.New(toolerr.IOError, "no backup available to revert to")
	}
	b, err := os.ReadFile(filepath.Join(s.backupsDir(reportID), chosen))
	if err != nil {
		return nil, toolerr.New(toolerr.IOError, fmt.Sprintf("read backup %s: %v", chosen, err))
	}
	var ol outline.Outline
	if err := json.Unmarshal(b, &ol); err != nil {
		return nil, toolerr.New(toolerr.IOError, fmt.Sprintf("parse backup %s: %v", chosen, err))
	}
	return &ol, nil
}

func extractTimestamp(filename string) string {
	// outline.<ts>.json -> <ts>
	trimmed := filename
	trimmed = trimSuffix(trimmed, ".json")
	trimmed = trimPrefix(trimmed, "outline.")
	return trimmed
}

func trimSuffix(s, suffix string) string {
	if len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix {
		return s[:len(s)-len(suffix)]
	}
	return s
}

func trimPrefix(s, prefix string) string {
	if len(s) >= len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):]
	}
	return s
}

// ReadAudit returns the last N audit events (0 = all), in append order.
func (s *Storage) ReadAudit(reportID string, lastN int) ([]outline.AuditEvent, error) {
	b, err := os.ReadFile(s.auditPath(reportID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, toolerr.New(toolerr.IOError, fmt.Sprintf("read audit log: %v", err))
	}
	var events []outline.AuditEvent
	dec := json.NewDecoder(bytes.NewReader(b))
	for dec.More() {
		var e outline.AuditEvent
		if err := dec.Decode(&e); err != nil {
			break
		}
		events = append(events, e)
	}
	if lastN > 0 && len(events) > lastN {
		events = events[len(events)-lastN:]
	}
	return events, nil
}

func writeFsync(path string, b []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func fsyncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	_ = d.Sync()
}

func microsecondTimestamp() string {
	return time.Now().UTC().Format("20060102T150405.000000")
}

func shaOf(ol *outline.Outline) string {
	b, _ := json.Marshal(ol)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// newID generates the action id (a UUID) of every audit event Storage
// writes.
func newID() string {
	return uuid.NewString()
}
