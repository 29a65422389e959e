package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/careflow/agent/chatctx"
)

// AccessorOption configures the accessors in this package
type AccessorOption func(*accessorOptions)

type accessorOptions struct {
	retry RetryConfig
	now   func() time.Time
}

func defaultAccessorOptions() accessorOptions {
	return accessorOptions{retry: DefaultRetryConfig(), now: time.Now}
}

// WithRetry overrides the write retry policy
func WithRetry(cfg RetryConfig) AccessorOption {
	return func(o *accessorOptions) { o.retry = cfg }
}

// WithClock overrides the time source used for archive stamps
func WithClock(now func() time.Time) AccessorOption {
	return func(o *accessorOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// ChatContextAccessor reads and writes session and patient scopes.
type ChatContextAccessor struct {
	store  BlobStore
	opts   accessorOptions
	logger *zap.Logger
}

// NewChatContextAccessor 创建聊天上下文访问器
func NewChatContextAccessor(store BlobStore, logger *zap.Logger, opts ...AccessorOption) *ChatContextAccessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := defaultAccessorOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &ChatContextAccessor{
		store:  store,
		opts:   o,
		logger: logger.With(zap.String("component", "chat_context_accessor")),
	}
}

// Store exposes the underlying blob store
func (a *ChatContextAccessor) Store() BlobStore {
	return a.store
}

// Read loads a scope. A missing or unreadable record yields a fresh context.
// When patientID is set the returned context is scoped to it.
func (a *ChatContextAccessor) Read(ctx context.Context, conversationID, patientID string) (*chatctx.ChatContext, error) {
	if conversationID == "" {
		return nil, ErrInvalidInput
	}
	start := time.Now()
	key := ContextKey(conversationID, patientID)
	log := a.logger.With(zap.String("conversation_id", conversationID), zap.String("scope", scopeName(patientID)))

	data, err := a.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		log.Info("creating new chat context")
		return freshContext(conversationID, patientID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read chat context: %w", err)
	}

	cc, stats, err := chatctx.Unmarshal(data)
	if err != nil {
		log.Warn("failed to decode chat context, starting fresh", zap.Error(err))
		return freshContext(conversationID, patientID), nil
	}
	if stats.Dropped() > 0 {
		log.Warn("dropped invalid history entries",
			zap.Int("missing_role", stats.MissingRole),
			zap.Int("unknown_role", stats.UnknownRole),
			zap.Int("missing_text", stats.MissingText),
			zap.Int("empty_tool", stats.EmptyTool))
	}
	if stats.SchemaVersion < chatctx.SchemaVersion {
		log.Info("migrated chat context schema",
			zap.Int("from", stats.SchemaVersion), zap.Int("to", chatctx.SchemaVersion))
	}

	cc.ConversationID = conversationID
	cc.PatientID = patientID
	if patientID != "" && !cc.HasPatient(patientID) {
		cc.PatientContexts[patientID] = chatctx.NewPatientContext(conversationID, patientID)
	}
	log.Debug("read chat context", zap.Duration("duration", time.Since(start)), zap.Int("messages", len(cc.History)))
	return cc, nil
}

// Write persists the scope selected by cc.PatientID. Snapshots are never written.
func (a *ChatContextAccessor) Write(ctx context.Context, cc *chatctx.ChatContext) error {
	if cc == nil || cc.ConversationID == "" {
		return ErrInvalidInput
	}
	start := time.Now()
	data, err := chatctx.Marshal(cc)
	if err != nil {
		return fmt.Errorf("failed to encode chat context: %w", err)
	}
	if err := putWithRetry(ctx, a.store, a.opts.retry, ContextKey(cc.ConversationID, cc.PatientID), data); err != nil {
		return fmt.Errorf("failed to write chat context: %w", err)
	}
	a.logger.Debug("wrote chat context",
		zap.String("conversation_id", cc.ConversationID),
		zap.String("scope", scopeName(cc.PatientID)),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// Archive writes cc to a timestamped key and removes the live key.
func (a *ChatContextAccessor) Archive(ctx context.Context, cc *chatctx.ChatContext) error {
	if cc == nil || cc.ConversationID == "" {
		return ErrInvalidInput
	}
	data, err := chatctx.Marshal(cc)
	if err != nil {
		return fmt.Errorf("failed to encode chat context: %w", err)
	}
	dst := ArchiveKey(cc.ConversationID, cc.PatientID, a.opts.now())
	if err := putWithRetry(ctx, a.store, a.opts.retry, dst, data); err != nil {
		return fmt.Errorf("failed to archive chat context: %w", err)
	}
	if err := a.store.Delete(ctx, ContextKey(cc.ConversationID, cc.PatientID)); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to delete archived chat context: %w", err)
	}
	a.logger.Info("archived chat context",
		zap.String("conversation_id", cc.ConversationID),
		zap.String("scope", scopeName(cc.PatientID)),
		zap.String("archive_key", dst))
	return nil
}

// ArchiveToFolder moves the stored bytes of a scope below folder.
// A missing scope is logged and ignored.
func (a *ChatContextAccessor) ArchiveToFolder(ctx context.Context, conversationID, patientID, folder string) error {
	if conversationID == "" || folder == "" {
		return ErrInvalidInput
	}
	src := ContextKey(conversationID, patientID)
	dst := FolderArchiveKey(folder, conversationID, patientID, a.opts.now())
	log := a.logger.With(zap.String("conversation_id", conversationID), zap.String("scope", scopeName(patientID)))

	err := moveBlob(ctx, a.store, a.opts.retry, src, dst)
	if errors.Is(err, ErrNotFound) {
		log.Warn("no context found to archive")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to archive chat context to folder: %w", err)
	}
	log.Info("archived context to folder", zap.String("archive_key", dst))
	return nil
}

func freshContext(conversationID, patientID string) *chatctx.ChatContext {
	if patientID == "" {
		return chatctx.New(conversationID)
	}
	return chatctx.NewForPatient(conversationID, patientID)
}

func scopeName(patientID string) string {
	if patientID == "" {
		return "session"
	}
	return patientID
}

// moveBlob relocates src to dst, using Mover when the backend has it.
func moveBlob(ctx context.Context, store BlobStore, retry RetryConfig, src, dst string) error {
	if m, ok := store.(Mover); ok {
		return m.Move(ctx, src, dst)
	}
	data, err := store.Get(ctx, src)
	if err != nil {
		return err
	}
	if err := putWithRetry(ctx, store, retry, dst, data); err != nil {
		return err
	}
	return store.Delete(ctx, src)
}

// putWithRetry retries transient write failures with exponential backoff.
func putWithRetry(ctx context.Context, store BlobStore, retry RetryConfig, key string, data []byte) error {
	var err error
	for attempt := 0; attempt <= retry.MaxRetries; attempt++ {
		if err = store.Put(ctx, key, data); err == nil {
			return nil
		}
		if errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrStoreClosed) || attempt == retry.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retry.CalculateBackoff(attempt)):
		}
	}
	return err
}
