package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// errCorruptRegistry marks a registry document that exists but does not decode.
var errCorruptRegistry = errors.New("corrupt patient registry")

// RegistryEntry is what the registry knows about one patient.
type RegistryEntry struct {
	PatientID      string         `json:"patient_id"`
	Facts          map[string]any `json:"facts"`
	ConversationID string         `json:"conversation_id,omitempty"`
	LastUpdated    time.Time      `json:"last_updated"`
}

// RegistryRecord is the stored registry document. It is the authority
// for which patients a conversation has seen and which one is active.
type RegistryRecord struct {
	ConversationID  string                   `json:"conversation_id"`
	ActivePatientID *string                  `json:"active_patient_id"`
	PatientRegistry map[string]RegistryEntry `json:"patient_registry"`
	LastUpdated     time.Time                `json:"last_updated"`
}

// RegistryArchive is the document written when a registry is archived.
type RegistryArchive struct {
	ConversationID  string                   `json:"conversation_id"`
	ArchivedAt      time.Time                `json:"archived_at"`
	ActivePatientID *string                  `json:"active_patient_id"`
	PatientRegistry map[string]RegistryEntry `json:"patient_registry"`
}

// PatientIDs returns the registry keys in sorted order.
func (r RegistryRecord) PatientIDs() []string {
	ids := make([]string, 0, len(r.PatientRegistry))
	for id := range r.PatientRegistry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RegistryAccessor reads and writes the per-conversation patient registry.
type RegistryAccessor struct {
	store  BlobStore
	opts   accessorOptions
	locks  *keyedMutex
	logger *zap.Logger
}

// NewRegistryAccessor 创建患者注册表访问器
func NewRegistryAccessor(store BlobStore, logger *zap.Logger, opts ...AccessorOption) *RegistryAccessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := defaultAccessorOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &RegistryAccessor{
		store:  store,
		opts:   o,
		locks:  newKeyedMutex(),
		logger: logger.With(zap.String("component", "registry_accessor")),
	}
}

// ReadRegistry returns the patient map and the active id ("" for none).
// A missing or unreadable registry yields an empty map.
func (a *RegistryAccessor) ReadRegistry(ctx context.Context, conversationID string) (map[string]RegistryEntry, string, error) {
	rec, err := a.readRecord(ctx, conversationID, false)
	if err != nil {
		return nil, "", err
	}
	active := ""
	if rec.ActivePatientID != nil {
		active = *rec.ActivePatientID
	}
	return rec.PatientRegistry, active, nil
}

// readRecord loads the stored registry. Lenient reads turn storage and
// decode failures into an empty registry; strict reads return them, so a
// read-modify-write never overwrites entries it could not see.
func (a *RegistryAccessor) readRecord(ctx context.Context, conversationID string, strict bool) (RegistryRecord, error) {
	empty := RegistryRecord{ConversationID: conversationID, PatientRegistry: make(map[string]RegistryEntry)}
	if conversationID == "" {
		return empty, ErrInvalidInput
	}
	log := a.logger.With(zap.String("conversation_id", conversationID))

	data, err := a.store.Get(ctx, RegistryKey(conversationID))
	if errors.Is(err, ErrNotFound) {
		log.Debug("no existing patient registry")
		return empty, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return empty, ctx.Err()
		}
		log.Warn("failed to read patient registry", zap.Error(err), zap.Bool("strict", strict))
		if strict {
			return empty, fmt.Errorf("failed to read patient registry: %w", err)
		}
		return empty, nil
	}

	var rec RegistryRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		log.Warn("failed to decode patient registry", zap.Error(err), zap.Bool("strict", strict))
		if strict {
			return empty, fmt.Errorf("%w: %v", errCorruptRegistry, err)
		}
		return empty, nil
	}
	if rec.PatientRegistry == nil {
		rec.PatientRegistry = make(map[string]RegistryEntry)
	}
	return rec, nil
}

// WriteRegistry replaces the stored registry. activeID "" is written as null.
func (a *RegistryAccessor) WriteRegistry(ctx context.Context, conversationID string, registry map[string]RegistryEntry, activeID string) error {
	if conversationID == "" {
		return ErrInvalidInput
	}
	if registry == nil {
		registry = make(map[string]RegistryEntry)
	}
	rec := RegistryRecord{
		ConversationID:  conversationID,
		PatientRegistry: registry,
		LastUpdated:     a.opts.now().UTC(),
	}
	if activeID != "" {
		rec.ActivePatientID = &activeID
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode patient registry: %w", err)
	}
	if err := putWithRetry(ctx, a.store, a.opts.retry, RegistryKey(conversationID), data); err != nil {
		return fmt.Errorf("failed to write patient registry: %w", err)
	}
	a.logger.Debug("wrote patient registry",
		zap.String("conversation_id", conversationID),
		zap.String("active_patient_id", activeID),
		zap.Int("patients", len(registry)))
	return nil
}

// UpdatePatientRegistry merges one entry and writes the registry back.
// It aborts without writing when the current registry cannot be read.
// activeID "" keeps the current active patient. Writers in this process
// are serialized per conversation; across processes the last writer wins.
func (a *RegistryAccessor) UpdatePatientRegistry(ctx context.Context, conversationID, patientID string, entry RegistryEntry, activeID string) error {
	if conversationID == "" || patientID == "" {
		return ErrInvalidInput
	}
	unlock := a.locks.Lock(conversationID)
	defer unlock()

	rec, err := a.readRecord(ctx, conversationID, true)
	if err != nil {
		return err
	}
	entry.PatientID = patientID
	if entry.Facts == nil {
		entry.Facts = make(map[string]any)
	}
	entry.LastUpdated = a.opts.now().UTC()
	rec.PatientRegistry[patientID] = entry

	final := activeID
	if final == "" && rec.ActivePatientID != nil {
		final = *rec.ActivePatientID
	}
	return a.WriteRegistry(ctx, conversationID, rec.PatientRegistry, final)
}

// ArchiveRegistry copies the registry to a timestamped key and deletes it.
func (a *RegistryAccessor) ArchiveRegistry(ctx context.Context, conversationID string) error {
	return a.archive(ctx, conversationID, RegistryArchiveKey(conversationID, a.opts.now()))
}

// ArchiveRegistryToFolder is ArchiveRegistry with the archive placed below folder.
func (a *RegistryAccessor) ArchiveRegistryToFolder(ctx context.Context, conversationID, folder string) error {
	if folder == "" {
		return ErrInvalidInput
	}
	return a.archive(ctx, conversationID, folder+"/"+RegistryArchiveKey(conversationID, a.opts.now()))
}

func (a *RegistryAccessor) archive(ctx context.Context, conversationID, dst string) error {
	unlock := a.locks.Lock(conversationID)
	defer unlock()

	log := a.logger.With(zap.String("conversation_id", conversationID))
	rec, err := a.readRecord(ctx, conversationID, true)
	if errors.Is(err, errCorruptRegistry) {
		return a.archiveRaw(ctx, conversationID, dst)
	}
	if err != nil {
		return err
	}
	if len(rec.PatientRegistry) == 0 {
		log.Info("no patient registry to archive")
		return nil
	}

	archived := RegistryArchive{
		ConversationID:  conversationID,
		ArchivedAt:      a.opts.now().UTC(),
		ActivePatientID: rec.ActivePatientID,
		PatientRegistry: rec.PatientRegistry,
	}
	data, err := json.MarshalIndent(archived, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode registry archive: %w", err)
	}
	if err := putWithRetry(ctx, a.store, a.opts.retry, dst, data); err != nil {
		return fmt.Errorf("failed to archive patient registry: %w", err)
	}
	if err := a.store.Delete(ctx, RegistryKey(conversationID)); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to clear patient registry: %w", err)
	}
	log.Info("archived patient registry", zap.String("archive_key", dst))
	return nil
}

// archiveRaw moves an undecodable registry aside byte for byte so the
// conversation can start a fresh one.
func (a *RegistryAccessor) archiveRaw(ctx context.Context, conversationID, dst string) error {
	data, err := a.store.Get(ctx, RegistryKey(conversationID))
	if err != nil {
		return fmt.Errorf("failed to read patient registry: %w", err)
	}
	if err := putWithRetry(ctx, a.store, a.opts.retry, dst, data); err != nil {
		return fmt.Errorf("failed to archive patient registry: %w", err)
	}
	if err := a.store.Delete(ctx, RegistryKey(conversationID)); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to clear patient registry: %w", err)
	}
	a.logger.Warn("archived undecodable patient registry",
		zap.String("conversation_id", conversationID), zap.String("archive_key", dst))
	return nil
}

// keyedMutex hands out one mutex per key and forgets it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
