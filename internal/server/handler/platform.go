package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/galleria-labs/galleria/internal/domain"
)

// PlatformFees sweeps the marketplace's accrued fee balance.
type PlatformFees interface {
	WithdrawPlatformFees(ctx context.Context, caller domain.Account) (int64, error)
}

// FactoryFees sweeps the factory's accrued mint and burn fees.
type FactoryFees interface {
	WithdrawFactoryFees(ctx context.Context, caller domain.Account) (int64, error)
}

// AuditLog reads back the operator audit trail.
type AuditLog interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// ArchiveIndex enumerates the cold archive objects in blob storage.
type ArchiveIndex interface {
	List(ctx context.Context, prefix string) ([]domain.BlobInfo, error)
}

// PlatformHandler serves the platform operator's endpoints: fee
// withdrawals, the audit trail, and the cold archive index.
type PlatformHandler struct {
	market   PlatformFees
	factory  FactoryFees
	audit    AuditLog
	archives ArchiveIndex
	logger   *slog.Logger
}

// NewPlatformHandler creates a PlatformHandler with the given services.
func NewPlatformHandler(market PlatformFees, factory FactoryFees, audit AuditLog, logger *slog.Logger) *PlatformHandler {
	return &PlatformHandler{
		market:  market,
		factory: factory,
		audit:   audit,
		logger:  logHandler(logger, "platform"),
	}
}

// WithArchiveIndex attaches the blob reader so archived pages can be
// listed. Without one, the archives endpoint reports object storage as
// unavailable.
func (h *PlatformHandler) WithArchiveIndex(idx ArchiveIndex) *PlatformHandler {
	h.archives = idx
	return h
}

// WithdrawMarketFees transfers the accumulated platform share of settled
// sales to the platform account.
// POST /api/platform/withdrawals
func (h *PlatformHandler) WithdrawMarketFees(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCaller(w, r)
	if !ok {
		return
	}

	amount, err := h.market.WithdrawPlatformFees(r.Context(), domain.HexToAccount(req.Caller))
	if err != nil {
		h.writeServiceError(w, r, "withdraw platform fees", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"withdrawn": amount})
}

// WithdrawFactoryFees transfers the accumulated mint and burn fees to the
// platform account.
// POST /api/platform/factory-withdrawals
func (h *PlatformHandler) WithdrawFactoryFees(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCaller(w, r)
	if !ok {
		return
	}

	amount, err := h.factory.WithdrawFactoryFees(r.Context(), domain.HexToAccount(req.Caller))
	if err != nil {
		h.writeServiceError(w, r, "withdraw factory fees", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"withdrawn": amount})
}

// auditEntryView is the JSON shape of one audit trail entry.
type auditEntryView struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ListAuditLog returns the operator audit trail, newest first.
// GET /api/platform/audit?limit=50&offset=0
func (h *PlatformHandler) ListAuditLog(w http.ResponseWriter, r *http.Request) {
	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.writeServiceError(w, r, "list audit log", err)
		return
	}

	views := make([]auditEntryView, len(entries))
	for i, e := range entries {
		views[i] = auditEntryView{
			ID:        e.ID,
			Event:     e.Event,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": views})
}

// archiveView is the JSON shape of one archived page in blob storage.
type archiveView struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// ListArchives enumerates the cold archive pages under a prefix.
// GET /api/platform/archives?prefix=archive/listings/
func (h *PlatformHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	if h.archives == nil {
		writeError(w, http.StatusServiceUnavailable, "object storage is not configured")
		return
	}

	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = "archive/"
	}

	infos, err := h.archives.List(r.Context(), prefix)
	if err != nil {
		h.writeServiceError(w, r, "list archives", err)
		return
	}

	views := make([]archiveView, len(infos))
	for i, info := range infos {
		views[i] = archiveView{
			Path:         info.Path,
			Size:         info.Size,
			LastModified: info.LastModified,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"prefix":   prefix,
		"archives": views,
	})
}

func (h *PlatformHandler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("error", err.Error()),
		)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}
