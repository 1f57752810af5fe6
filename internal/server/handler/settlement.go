package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/galleria-labs/galleria/internal/domain"
)

const settlementPageMax = 200

// SettlementHandler exposes the durable settlement journal over HTTP so
// downstream accounting can replay receipts in order.
type SettlementHandler struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler reading from the given bus.
func NewSettlementHandler(bus domain.SignalBus, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{bus: bus, logger: logHandler(logger, "settlements")}
}

// settlementEntry pairs a journal cursor with the decoded event.
type settlementEntry struct {
	ID    string       `json:"id"`
	Event domain.Event `json:"event"`
}

// ListSettlements returns journal entries after the given cursor.
// GET /api/settlements?after=<id>&count=<n>
func (h *SettlementHandler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	count := 50
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid count")
			return
		}
		if n > settlementPageMax {
			n = settlementPageMax
		}
		count = n
	}

	msgs, err := h.bus.StreamRead(r.Context(), domain.StreamSettlements, after, count)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: settlement journal read failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	entries := make([]settlementEntry, 0, len(msgs))
	for _, msg := range msgs {
		var ev domain.Event
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			h.logger.WarnContext(r.Context(), "handler: skipping malformed journal entry",
				slog.String("id", msg.ID),
			)
			continue
		}
		entries = append(entries, settlementEntry{ID: msg.ID, Event: ev})
	}

	next := after
	if len(msgs) > 0 {
		next = msgs[len(msgs)-1].ID
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"settlements": entries,
		"next":        next,
	})
}
