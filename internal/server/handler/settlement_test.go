package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/galleria-labs/galleria/internal/domain"
)

type fakeBus struct {
	stream []domain.StreamMessage
}

func (b *fakeBus) Publish(context.Context, string, []byte) error { return nil }

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *fakeBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	b.stream = append(b.stream, domain.StreamMessage{
		ID:      strconv.Itoa(len(b.stream) + 1),
		Payload: payload,
	})
	return nil
}

func (b *fakeBus) StreamRead(_ context.Context, _ string, lastID string, count int) ([]domain.StreamMessage, error) {
	var out []domain.StreamMessage
	for _, msg := range b.stream {
		if msg.ID > lastID && len(out) < count {
			out = append(out, msg)
		}
	}
	return out, nil
}

func TestListSettlements(t *testing.T) {
	bus := &fakeBus{}
	at := time.Unix(1_700_000_000, 0).UTC()
	for i := 0; i < 3; i++ {
		ev := domain.NewEvent("settlement", at, map[string]any{"listing_id": i})
		require.NoError(t, bus.StreamAppend(context.Background(), domain.StreamSettlements, ev.Encode()))
	}

	h := NewSettlementHandler(bus, slog.New(slog.DiscardHandler))
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/settlements", h.ListSettlements)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/settlements", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Settlements []settlementEntry `json:"settlements"`
		Next        string            `json:"next"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Settlements, 3)
	require.Equal(t, "3", resp.Next)
	require.Equal(t, "settlement", resp.Settlements[0].Event.Type)

	// Resume after the second entry.
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/settlements?after=2", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Settlements, 1)
	require.Equal(t, "3", resp.Settlements[0].ID)
}

func TestListSettlementsRejectsBadCount(t *testing.T) {
	h := NewSettlementHandler(&fakeBus{}, slog.New(slog.DiscardHandler))
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/settlements", h.ListSettlements)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/settlements?count=zero", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
