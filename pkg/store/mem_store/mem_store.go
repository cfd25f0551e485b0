package mem_store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spaghettinuum/spagh/pkg/record"
	"github.com/spaghettinuum/spagh/pkg/store"
)

var nopLogger = zap.NewNop()

// MemStore is an in-memory record store. Each identity owns one
// immutable record set snapshot; Publish builds a fresh snapshot and
// swaps the pointer, so lookups never observe a half-updated set.
type MemStore struct {
	logger *zap.Logger

	mu   sync.RWMutex
	sets map[record.Identity]*recordSet
}

// recordSet is immutable once installed.
type recordSet struct {
	version    store.Version
	missingTTL uint32 // minutes
	entries    map[string]record.Entry
}

func NewMemStore(logger *zap.Logger) *MemStore {
	if logger == nil {
		logger = nopLogger
	}
	return &MemStore{
		logger: logger,
		sets:   make(map[record.Identity]*recordSet),
	}
}

// Publish validates req and installs it as the identity's new record
// set. The whole set becomes visible at once.
func (s *MemStore) Publish(_ context.Context, req *record.PublishRequest) (store.Version, error) {
	if err := record.ValidateRequest(req); err != nil {
		return 0, err
	}

	// Snapshot the entries so later mutation of req cannot leak into
	// the installed set.
	entries := make(map[string]record.Entry, len(req.Entries))
	for k, e := range req.Entries {
		entries[k] = e
	}

	s.mu.Lock()
	var version store.Version = 1
	if prev := s.sets[req.Identity]; prev != nil {
		version = prev.version + 1
	}
	s.sets[req.Identity] = &recordSet{
		version:    version,
		missingTTL: req.MissingTTL,
		entries:    entries,
	}
	s.mu.Unlock()

	s.logger.Info("record set published",
		zap.String("identity", req.Identity.String()),
		zap.Uint64("version", uint64(version)),
		zap.Int("keys", len(entries)),
	)
	return version, nil
}

func (s *MemStore) Lookup(_ context.Context, ident record.Identity, key string) (store.Result, error) {
	s.mu.RLock()
	set := s.sets[ident]
	s.mu.RUnlock()

	if set == nil {
		return store.Result{State: store.StateUnknownIdentity}, nil
	}
	if e, ok := set.entries[key]; ok {
		return store.Result{
			State: store.StateFound,
			Data:  e.Data,
			TTL:   e.TTLDuration(),
		}, nil
	}
	return store.Result{
		State:      store.StateMissing,
		MissingTTL: set.missingTTLDuration(),
	}, nil
}

// Version returns the current record set version of ident, or 0 if
// the identity has never published.
func (s *MemStore) Version(ident record.Identity) store.Version {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if set := s.sets[ident]; set != nil {
		return set.version
	}
	return 0
}

// Len returns the number of identities with a published record set.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sets)
}

func (rs *recordSet) missingTTLDuration() time.Duration {
	return time.Duration(rs.missingTTL) * time.Minute
}
