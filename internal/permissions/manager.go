package permissions

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeType classifies one audit log entry.
type ChangeType int

const (
	FileReloaded ChangeType = iota
	FileError
	SubjectGranted
	SubjectRevoked
)

func (c ChangeType) String() string {
	switch c {
	case FileReloaded:
		return "file_reloaded"
	case FileError:
		return "file_error"
	case SubjectGranted:
		return "subject_granted"
	case SubjectRevoked:
		return "subject_revoked"
	default:
		return "unknown"
	}
}

// AuditEntry records one permission-document change for operators to
// review (§6.6).
type AuditEntry struct {
	Timestamp time.Time
	Change    ChangeType
	Subject   string
	Details   string
}

// Manager hot-reloads a permission document on file change, using
// fsnotify rather than the mtime-polling loop the original
// implementation used — the same supersession internal/qos.Watcher
// already applies to profile reload (§4.13, and see DESIGN.md). On a
// parse error the previous document is kept and the failure is only
// recorded to the audit log, never propagated to a caller mid-flight.
type Manager struct {
	mu   sync.RWMutex
	path string
	doc  Document

	watcher *fsnotify.Watcher

	auditMu sync.Mutex
	audit   []AuditEntry

	log *slog.Logger

	stop chan struct{}
	done chan struct{}
}

// New loads path immediately; the returned Manager does not yet watch
// for changes until StartWatching is called.
func New(path string, log *slog.Logger) (*Manager, error) {
	doc, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		path: path,
		doc:  doc,
		log:  log.With("component", "permissions", "path", path),
	}
	m.recordAudit(AuditEntry{
		Timestamp: time.Now(),
		Change:    FileReloaded,
		Details:   "initial load",
	})
	return m, nil
}

func loadFile(path string) (Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}
	return ParseDocument(string(content))
}

// StartWatching begins an fsnotify-driven reload goroutine. Calling it
// twice is a no-op.
func (m *Manager) StartWatching() error {
	m.mu.Lock()
	if m.watcher != nil {
		m.mu.Unlock()
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if err := fw.Add(m.path); err != nil {
		fw.Close()
		m.mu.Unlock()
		return err
	}
	m.watcher = fw
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.run()
	return nil
}

func (m *Manager) run() {
	defer close(m.done)
	for {
		select {
		case <-m.stop:
			return
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			m.reload()
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.log.Warn("permission file watcher error", "error", err)
		}
	}
}

func (m *Manager) reload() {
	newDoc, err := loadFile(m.path)
	if err != nil {
		m.log.Warn("permission file reload failed, retaining previous document", "error", err)
		m.recordAudit(AuditEntry{Timestamp: time.Now(), Change: FileError, Details: err.Error()})
		return
	}

	m.mu.Lock()
	old := m.doc
	m.doc = newDoc
	m.mu.Unlock()

	m.diffAndAudit(old, newDoc)
	m.recordAudit(AuditEntry{Timestamp: time.Now(), Change: FileReloaded, Details: "reloaded from file"})
}

// StopWatching ends the watcher goroutine, if running.
func (m *Manager) StopWatching() error {
	m.mu.Lock()
	fw := m.watcher
	stop := m.stop
	done := m.done
	m.watcher = nil
	m.mu.Unlock()

	if fw == nil {
		return nil
	}
	close(stop)
	err := fw.Close()
	<-done
	return err
}

// Document returns the currently active permission document.
func (m *Manager) Document() Document {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.doc
}

// CheckPublish reports whether subject may publish to topic/partition.
func (m *Manager) CheckPublish(subject, topic, partition string) bool {
	return m.Document().Allowed(subject, topic, partition, Publish)
}

// CheckSubscribe reports whether subject may subscribe to
// topic/partition.
func (m *Manager) CheckSubscribe(subject, topic, partition string) bool {
	return m.Document().Allowed(subject, topic, partition, Subscribe)
}

// AuditLog returns a snapshot of recorded permission changes.
func (m *Manager) AuditLog() []AuditEntry {
	m.auditMu.Lock()
	defer m.auditMu.Unlock()
	out := make([]AuditEntry, len(m.audit))
	copy(out, m.audit)
	return out
}

func (m *Manager) recordAudit(e AuditEntry) {
	m.auditMu.Lock()
	defer m.auditMu.Unlock()
	m.audit = append(m.audit, e)
}

// diffAndAudit records grant/revoke entries for subjects added, removed,
// or whose rules changed between two documents.
func (m *Manager) diffAndAudit(old, new Document) {
	for _, og := range old.Grants {
		if _, ok := new.grant(og.Subject); !ok {
			m.recordAudit(AuditEntry{
				Timestamp: time.Now(),
				Change:    SubjectRevoked,
				Subject:   og.Subject,
				Details:   "subject removed from permission file",
			})
		}
	}
	for _, ng := range new.Grants {
		if _, ok := old.grant(ng.Subject); !ok {
			m.recordAudit(AuditEntry{
				Timestamp: time.Now(),
				Change:    SubjectGranted,
				Subject:   ng.Subject,
				Details:   "subject added to permission file",
			})
		}
	}
	for _, og := range old.Grants {
		ng, ok := new.grant(og.Subject)
		if !ok {
			continue
		}
		if !rulesEqual(og.Rules, ng.Rules) || og.DefaultDeny != ng.DefaultDeny {
			m.recordAudit(AuditEntry{
				Timestamp: time.Now(),
				Change:    SubjectGranted,
				Subject:   ng.Subject,
				Details:   "subject rules changed",
			})
		}
	}
}

func rulesEqual(a, b []Rule) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].TopicPattern != b[i].TopicPattern || a[i].Action != b[i].Action || a[i].Allow != b[i].Allow {
			return false
		}
		if !partitionsEqual(a[i].Partitions, b[i].Partitions) {
			return false
		}
	}
	return true
}

func partitionsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
