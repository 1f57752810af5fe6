package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/galleria-labs/galleria/internal/domain"
)

// fakeFeeService scripts both withdrawal surfaces for the platform handler.
type fakeFeeService struct {
	marketFees  int64
	factoryFees int64
	err         error
}

func (f *fakeFeeService) WithdrawPlatformFees(_ context.Context, _ domain.Account) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.marketFees, nil
}

func (f *fakeFeeService) WithdrawFactoryFees(_ context.Context, _ domain.Account) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.factoryFees, nil
}

// fakeAuditLog scripts the audit trail read-back.
type fakeAuditLog struct {
	entries []domain.AuditEntry
}

func (f *fakeAuditLog) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	return f.entries, nil
}

// fakeArchiveIndex scripts the blob storage archive listing.
type fakeArchiveIndex struct {
	infos []domain.BlobInfo
}

func (f *fakeArchiveIndex) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for _, info := range f.infos {
		if strings.HasPrefix(info.Path, prefix) {
			out = append(out, info)
		}
	}
	return out, nil
}

func newPlatformHandler(svc *fakeFeeService) *PlatformHandler {
	return NewPlatformHandler(svc, svc, &fakeAuditLog{}, slog.New(slog.DiscardHandler))
}

func newPlatformMux(h *PlatformHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/platform/withdrawals", h.WithdrawMarketFees)
	mux.HandleFunc("POST /api/platform/factory-withdrawals", h.WithdrawFactoryFees)
	mux.HandleFunc("GET /api/platform/audit", h.ListAuditLog)
	mux.HandleFunc("GET /api/platform/archives", h.ListArchives)
	return mux
}

func postWithdrawal(t *testing.T, mux *http.ServeMux, path string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(map[string]string{"caller": domain.NewAccount().Hex()})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func TestWithdrawMarketFees(t *testing.T) {
	mux := newPlatformMux(newPlatformHandler(&fakeFeeService{marketFees: 1500}))

	rr := postWithdrawal(t, mux, "/api/platform/withdrawals")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]int64
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, int64(1500), resp["withdrawn"])
}

func TestWithdrawFactoryFees(t *testing.T) {
	mux := newPlatformMux(newPlatformHandler(&fakeFeeService{factoryFees: 40}))

	rr := postWithdrawal(t, mux, "/api/platform/factory-withdrawals")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]int64
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, int64(40), resp["withdrawn"])
}

func TestWithdrawFeesMapsErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"not the platform account", domain.ErrUnauthorized, http.StatusForbidden},
		{"nothing accrued", domain.ErrZeroBalance, http.StatusPaymentRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mux := newPlatformMux(newPlatformHandler(&fakeFeeService{err: tc.err}))

			rr := postWithdrawal(t, mux, "/api/platform/withdrawals")
			require.Equal(t, tc.code, rr.Code)
		})
	}
}

func TestWithdrawFeesRequiresCaller(t *testing.T) {
	mux := newPlatformMux(newPlatformHandler(&fakeFeeService{}))

	req := httptest.NewRequest(http.MethodPost, "/api/platform/withdrawals",
		bytes.NewReader([]byte(`{}`)))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestListAuditLog(t *testing.T) {
	h := NewPlatformHandler(&fakeFeeService{}, &fakeFeeService{}, &fakeAuditLog{
		entries: []domain.AuditEntry{
			{ID: 2, Event: "listing_created", CreatedAt: time.Unix(1_700_000_100, 0).UTC()},
			{ID: 1, Event: "group_created", CreatedAt: time.Unix(1_700_000_000, 0).UTC()},
		},
	}, slog.New(slog.DiscardHandler))
	mux := newPlatformMux(h)

	req := httptest.NewRequest(http.MethodGet, "/api/platform/audit", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Entries []auditEntryView `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 2)
	require.Equal(t, int64(2), resp.Entries[0].ID)
	require.Equal(t, "listing_created", resp.Entries[0].Event)
}

func TestListArchives(t *testing.T) {
	h := newPlatformHandler(&fakeFeeService{}).WithArchiveIndex(&fakeArchiveIndex{
		infos: []domain.BlobInfo{
			{Path: "archive/listings/2026-08.jsonl", Size: 2048},
			{Path: "archive/sales/0xabc/2026-08.jsonl", Size: 512},
			{Path: "metadata/0xabc/1.json", Size: 128},
		},
	})
	mux := newPlatformMux(h)

	req := httptest.NewRequest(http.MethodGet, "/api/platform/archives?prefix=archive/listings/", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Prefix   string        `json:"prefix"`
		Archives []archiveView `json:"archives"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "archive/listings/", resp.Prefix)
	require.Len(t, resp.Archives, 1)
	require.Equal(t, "archive/listings/2026-08.jsonl", resp.Archives[0].Path)
}

func TestListArchivesWithoutBlobStorage(t *testing.T) {
	mux := newPlatformMux(newPlatformHandler(&fakeFeeService{}))

	req := httptest.NewRequest(http.MethodGet, "/api/platform/archives", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
