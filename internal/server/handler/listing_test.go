package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/galleria-labs/galleria/internal/domain"
)

// fakeListingService scripts responses for the listing handler.
type fakeListingService struct {
	records map[int64]domain.ListingRecord
	bidErr  error
	endErr  error

	buys []int64
	ends []int64
}

func (f *fakeListingService) GetListing(_ context.Context, id int64) (domain.ListingRecord, error) {
	rec, ok := f.records[id]
	if !ok {
		return domain.ListingRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (f *fakeListingService) GetListingByToken(_ context.Context, col domain.Account, tokenID int) (domain.ListingRecord, error) {
	for _, rec := range f.records {
		if rec.Collection == col && rec.TokenID == tokenID {
			return rec, nil
		}
	}
	return domain.ListingRecord{}, domain.ErrNotFound
}

func (f *fakeListingService) CurrentDutchPrice(_ context.Context, id int64) (int64, error) {
	rec, ok := f.records[id]
	if !ok || rec.Mechanism != domain.MechanismDutch {
		return 0, domain.ErrWrongMechanism
	}
	return rec.StartPrice, nil
}

func (f *fakeListingService) ListBySeller(_ context.Context, seller domain.Account, _ domain.ListOpts) ([]domain.ListingRecord, error) {
	var out []domain.ListingRecord
	for _, rec := range f.records {
		if rec.Seller == seller {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeListingService) ListByStatus(_ context.Context, status domain.ListingStatus, _ domain.ListOpts) ([]domain.ListingRecord, error) {
	var out []domain.ListingRecord
	for _, rec := range f.records {
		if rec.Status == status {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeListingService) BidEnglish(_ context.Context, listingID int64, bidder domain.Account, amount int64) (domain.Bid, error) {
	if f.bidErr != nil {
		return domain.Bid{}, f.bidErr
	}
	return domain.Bid{
		ID:        0,
		ListingID: listingID,
		Bidder:    bidder,
		Amount:    amount,
		Status:    domain.BidStatusActive,
	}, nil
}

func (f *fakeListingService) BidOffering(ctx context.Context, listingID int64, bidder domain.Account, amount int64) (domain.Bid, error) {
	return f.BidEnglish(ctx, listingID, bidder, amount)
}

func (f *fakeListingService) BuyDutch(_ context.Context, listingID int64, _ domain.Account, _ int64) error {
	f.buys = append(f.buys, listingID)
	return nil
}

func (f *fakeListingService) EndEnglish(_ context.Context, listingID int64, _ domain.Account) error {
	if f.endErr != nil {
		return f.endErr
	}
	f.ends = append(f.ends, listingID)
	return nil
}

func (f *fakeListingService) ClaimEnglish(context.Context, int64, domain.Account) error { return nil }

func (f *fakeListingService) ResolveOffering(context.Context, int64, int, domain.Account) error {
	return nil
}

func (f *fakeListingService) WithdrawOfferingBid(context.Context, int64, int, domain.Account) error {
	return nil
}

func (f *fakeListingService) Cancel(context.Context, int64, domain.Account) error { return nil }

// newListingMux registers the listing routes the way the server does.
func newListingMux(svc ListingService) *http.ServeMux {
	logger := slog.New(slog.DiscardHandler)
	h := NewListingHandler(svc, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/listings", h.ListListings)
	mux.HandleFunc("GET /api/listings/token/{collection}/{token}", h.GetListingByToken)
	mux.HandleFunc("GET /api/listings/{id}", h.GetListing)
	mux.HandleFunc("GET /api/listings/{id}/price", h.GetDutchPrice)
	mux.HandleFunc("POST /api/listings/{id}/bids", h.PlaceBid)
	mux.HandleFunc("POST /api/listings/{id}/end", h.EndListing)
	mux.HandleFunc("DELETE /api/listings/{id}", h.CancelListing)
	return mux
}

func englishRecord(id int64) domain.ListingRecord {
	return domain.ListingRecord{
		ID:         id,
		Seller:     domain.DeriveAccount([]byte("seller")),
		Collection: domain.DeriveAccount([]byte("collection")),
		TokenID:    1,
		Mechanism:  domain.MechanismEnglish,
		Status:     domain.ListingStatusActive,
		ListedAt:   time.Unix(1_700_000_000, 0).UTC(),
		StartPrice: 300,
	}
}

func TestGetListing(t *testing.T) {
	svc := &fakeListingService{records: map[int64]domain.ListingRecord{
		7: englishRecord(7),
	}}
	mux := newListingMux(svc)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/listings/7", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var rec domain.ListingRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	require.Equal(t, int64(7), rec.ID)
	require.Equal(t, domain.MechanismEnglish, rec.Mechanism)
}

func TestGetListingNotFound(t *testing.T) {
	mux := newListingMux(&fakeListingService{records: map[int64]domain.ListingRecord{}})

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/listings/404", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGetListingByToken(t *testing.T) {
	rec := englishRecord(7)
	svc := &fakeListingService{records: map[int64]domain.ListingRecord{7: rec}}
	mux := newListingMux(svc)

	rr := httptest.NewRecorder()
	target := "/api/listings/token/" + rec.Collection.Hex() + "/1"
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var got domain.ListingRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Equal(t, int64(7), got.ID)

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/listings/token/"+rec.Collection.Hex()+"/99", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGetListingBadID(t *testing.T) {
	mux := newListingMux(&fakeListingService{})

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/listings/not-a-number", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestListListingsDefaultsToActive(t *testing.T) {
	rec := englishRecord(1)
	ended := englishRecord(2)
	ended.Status = domain.ListingStatusEnded
	svc := &fakeListingService{records: map[int64]domain.ListingRecord{1: rec, 2: ended}}
	mux := newListingMux(svc)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/listings", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Listings []domain.ListingRecord `json:"listings"`
		Limit    int                    `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Listings, 1)
	require.Equal(t, int64(1), resp.Listings[0].ID)
	require.Equal(t, 50, resp.Limit)
}

func TestListListingsRejectsUnknownStatus(t *testing.T) {
	mux := newListingMux(&fakeListingService{})

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/listings?status=pending", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPlaceBidDispatchesOnMechanism(t *testing.T) {
	english := englishRecord(1)
	dutch := englishRecord(2)
	dutch.Mechanism = domain.MechanismDutch
	svc := &fakeListingService{records: map[int64]domain.ListingRecord{1: english, 2: dutch}}
	mux := newListingMux(svc)

	body := `{"bidder":"0x00000000000000000000000000000000000000aa","amount":400}`

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/listings/1/bids", bytes.NewBufferString(body)))
	require.Equal(t, http.StatusCreated, rr.Code)

	var bid domain.Bid
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &bid))
	require.Equal(t, int64(400), bid.Amount)
	require.Equal(t, domain.BidStatusActive, bid.Status)

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/listings/2/bids", bytes.NewBufferString(body)))
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, []int64{2}, svc.buys)
}

func TestPlaceBidRequiresBidder(t *testing.T) {
	svc := &fakeListingService{records: map[int64]domain.ListingRecord{1: englishRecord(1)}}
	mux := newListingMux(svc)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/listings/1/bids", bytes.NewBufferString(`{"amount":400}`)))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPlaceBidMapsDomainErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"bid too low", domain.ErrBidTooLow, http.StatusBadRequest},
		{"not active", domain.ErrListingNotActive, http.StatusConflict},
		{"rate limited", domain.ErrRateLimited, http.StatusTooManyRequests},
		{"insufficient funds", domain.ErrInsufficientFunds, http.StatusPaymentRequired},
	}

	body := `{"bidder":"0x00000000000000000000000000000000000000aa","amount":1}`
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeListingService{
				records: map[int64]domain.ListingRecord{1: englishRecord(1)},
				bidErr:  tc.err,
			}
			mux := newListingMux(svc)

			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/listings/1/bids", bytes.NewBufferString(body)))
			require.Equal(t, tc.want, rr.Code)
		})
	}
}

func TestEndListing(t *testing.T) {
	svc := &fakeListingService{records: map[int64]domain.ListingRecord{1: englishRecord(1)}}
	mux := newListingMux(svc)

	body := `{"caller":"0x00000000000000000000000000000000000000bb"}`
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/listings/1/end", bytes.NewBufferString(body)))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, []int64{1}, svc.ends)
}

func TestEndListingNotExpired(t *testing.T) {
	svc := &fakeListingService{
		records: map[int64]domain.ListingRecord{1: englishRecord(1)},
		endErr:  domain.ErrAuctionNotExpired,
	}
	mux := newListingMux(svc)

	body := `{"caller":"0x00000000000000000000000000000000000000bb"}`
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/listings/1/end", bytes.NewBufferString(body)))
	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestGetDutchPrice(t *testing.T) {
	dutch := englishRecord(3)
	dutch.Mechanism = domain.MechanismDutch
	dutch.StartPrice = 1000
	svc := &fakeListingService{records: map[int64]domain.ListingRecord{3: dutch}}
	mux := newListingMux(svc)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/listings/3/price", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		ListingID int64 `json:"listing_id"`
		Price     int64 `json:"price"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, int64(3), resp.ListingID)
	require.Equal(t, int64(1000), resp.Price)
}
