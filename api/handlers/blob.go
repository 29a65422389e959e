package handlers

import (
	"context"
	"errors"
	"net/http"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/careflow/agent/orchestrator"
	"github.com/BaSui01/careflow/agent/persistence"
	"github.com/BaSui01/careflow/types"
)

// BlobPrefix is the route prefix of signed blob reads.
const BlobPrefix = "/v1/blobs/"

// BlobReader fetches blob content.
type BlobReader interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// SignatureVerifier checks a blob signature against the request path.
type SignatureVerifier interface {
	Verify(path, token string) error
}

// BlobHandler serves blobs referenced from agent replies. Access is granted
// by the signature the orchestrator attached to the URL.
type BlobHandler struct {
	store    BlobReader
	verifier SignatureVerifier
	logger   *zap.Logger
}

// NewBlobHandler 创建 Blob 读取处理器
func NewBlobHandler(store BlobReader, verifier SignatureVerifier, logger *zap.Logger) *BlobHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlobHandler{store: store, verifier: verifier, logger: logger.With(zap.String("component", "blob_handler"))}
}

// HandleGet 读取已签名的 Blob
// @Router /v1/blobs/{key} [get]
func (h *BlobHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, BlobPrefix)
	if key == "" || key == r.URL.Path || strings.Contains(key, "..") {
		WriteError(w, r, types.NewInvalidRequestError("invalid blob key"), h.logger)
		return
	}

	if err := h.verifier.Verify(r.URL.Path, r.URL.Query().Get(orchestrator.SignatureParam)); err != nil {
		h.logger.Debug("blob signature rejected", zap.String("key", key), zap.Error(err))
		WriteError(w, r, types.NewError(types.ErrForbidden, "invalid or expired blob signature"), h.logger)
		return
	}

	data, err := h.store.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			WriteError(w, r, types.NewError(types.ErrNotFound, "blob not found"), h.logger)
			return
		}
		WriteError(w, r, types.NewError(types.ErrStorage, "failed to read blob").WithCause(err), h.logger)
		return
	}

	w.Header().Set("Content-Type", contentType(key, data))
	w.Header().Set("Cache-Control", "private, no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func contentType(key string, data []byte) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".json":
		return "application/json"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".pdf":
		return "application/pdf"
	}
	return http.DetectContentType(data)
}
