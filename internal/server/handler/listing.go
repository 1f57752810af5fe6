package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/galleria-labs/galleria/internal/domain"
)

// ListingService defines the methods the listing handler requires from the
// service layer. It is declared locally so the handler package does not
// depend on the concrete service implementation.
type ListingService interface {
	GetListing(ctx context.Context, id int64) (domain.ListingRecord, error)
	GetListingByToken(ctx context.Context, collection domain.Account, tokenID int) (domain.ListingRecord, error)
	CurrentDutchPrice(ctx context.Context, id int64) (int64, error)
	ListBySeller(ctx context.Context, seller domain.Account, opts domain.ListOpts) ([]domain.ListingRecord, error)
	ListByStatus(ctx context.Context, status domain.ListingStatus, opts domain.ListOpts) ([]domain.ListingRecord, error)
	BidEnglish(ctx context.Context, listingID int64, bidder domain.Account, amount int64) (domain.Bid, error)
	BidOffering(ctx context.Context, listingID int64, bidder domain.Account, amount int64) (domain.Bid, error)
	BuyDutch(ctx context.Context, listingID int64, buyer domain.Account, amount int64) error
	EndEnglish(ctx context.Context, listingID int64, caller domain.Account) error
	ClaimEnglish(ctx context.Context, listingID int64, caller domain.Account) error
	ResolveOffering(ctx context.Context, listingID int64, bidID int, caller domain.Account) error
	WithdrawOfferingBid(ctx context.Context, listingID int64, bidID int, caller domain.Account) error
	Cancel(ctx context.Context, listingID int64, caller domain.Account) error
}

// ListingHandler serves listing-related HTTP endpoints.
type ListingHandler struct {
	listings ListingService
	logger   *slog.Logger
}

// NewListingHandler creates a ListingHandler with the given service and logger.
func NewListingHandler(listings ListingService, logger *slog.Logger) *ListingHandler {
	return &ListingHandler{
		listings: listings,
		logger:   logHandler(logger, "listings"),
	}
}

// listListingsResponse wraps the list endpoint output with the paging used.
type listListingsResponse struct {
	Listings []domain.ListingRecord `json:"listings"`
	Limit    int                    `json:"limit"`
	Offset   int                    `json:"offset"`
}

// ListListings returns archived listings filtered by seller or status.
// GET /api/listings?status=active&seller=0x...&limit=50&offset=0
func (h *ListingHandler) ListListings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := parseListOpts(r)

	var (
		recs []domain.ListingRecord
		err  error
	)
	switch {
	case q.Get("seller") != "":
		recs, err = h.listings.ListBySeller(r.Context(), domain.HexToAccount(q.Get("seller")), opts)
	case q.Get("status") != "":
		status := domain.ListingStatus(q.Get("status"))
		switch status {
		case domain.ListingStatusActive, domain.ListingStatusEnded, domain.ListingStatusCanceled:
		default:
			writeError(w, http.StatusBadRequest, "unknown status")
			return
		}
		recs, err = h.listings.ListByStatus(r.Context(), status, opts)
	default:
		recs, err = h.listings.ListByStatus(r.Context(), domain.ListingStatusActive, opts)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list listings failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list listings")
		return
	}

	writeJSON(w, http.StatusOK, listListingsResponse{
		Listings: recs,
		Limit:    opts.Limit,
		Offset:   opts.Offset,
	})
}

// GetListing returns a single listing by id.
// GET /api/listings/{id}
func (h *ListingHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	id, ok := listingID(w, r)
	if !ok {
		return
	}

	rec, err := h.listings.GetListing(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "get listing", id, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetListingByToken returns the active listing holding a token.
// GET /api/listings/token/{collection}/{token}
func (h *ListingHandler) GetListingByToken(w http.ResponseWriter, r *http.Request) {
	collection := pathParam(r, "collection")
	if collection == "" {
		writeError(w, http.StatusBadRequest, "collection is required")
		return
	}
	tokenID, err := strconv.Atoi(pathParam(r, "token"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid token id")
		return
	}

	rec, err := h.listings.GetListingByToken(r.Context(), domain.HexToAccount(collection), tokenID)
	if err != nil {
		status := statusForError(err)
		if status == http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: get listing by token failed",
				slog.String("collection", collection),
				slog.Int("token_id", tokenID),
				slog.String("error", err.Error()),
			)
			writeError(w, status, "internal error")
			return
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetDutchPrice returns the current price of a declining-price listing.
// GET /api/listings/{id}/price
func (h *ListingHandler) GetDutchPrice(w http.ResponseWriter, r *http.Request) {
	id, ok := listingID(w, r)
	if !ok {
		return
	}

	price, err := h.listings.CurrentDutchPrice(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "dutch price", id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"listing_id": id,
		"price":      price,
		"at":         time.Now().UTC().Format(time.RFC3339),
	})
}

// bidRequest is the body for bid and buy endpoints.
type bidRequest struct {
	Bidder string `json:"bidder"`
	Amount int64  `json:"amount"`
}

// PlaceBid places a bid on a listing, dispatching on its mechanism: an
// English bid, an offering bid, or a Dutch buy at the offered amount.
// POST /api/listings/{id}/bids
func (h *ListingHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	id, ok := listingID(w, r)
	if !ok {
		return
	}

	var req bidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Bidder == "" {
		writeError(w, http.StatusBadRequest, "bidder is required")
		return
	}
	bidder := domain.HexToAccount(req.Bidder)

	rec, err := h.listings.GetListing(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "get listing", id, err)
		return
	}

	switch rec.Mechanism {
	case domain.MechanismEnglish:
		bid, err := h.listings.BidEnglish(r.Context(), id, bidder, req.Amount)
		if err != nil {
			h.writeServiceError(w, r, "bid english", id, err)
			return
		}
		writeJSON(w, http.StatusCreated, bid)

	case domain.MechanismOffering:
		bid, err := h.listings.BidOffering(r.Context(), id, bidder, req.Amount)
		if err != nil {
			h.writeServiceError(w, r, "bid offering", id, err)
			return
		}
		writeJSON(w, http.StatusCreated, bid)

	case domain.MechanismDutch:
		if err := h.listings.BuyDutch(r.Context(), id, bidder, req.Amount); err != nil {
			h.writeServiceError(w, r, "buy dutch", id, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"listing_id": id,
			"buyer":      req.Bidder,
			"amount":     req.Amount,
		})

	default:
		writeError(w, http.StatusConflict, "unknown listing mechanism")
	}
}

// callerRequest carries the acting account for state-changing endpoints.
type callerRequest struct {
	Caller string `json:"caller"`
	BidID  *int   `json:"bid_id,omitempty"`
}

func decodeCaller(w http.ResponseWriter, r *http.Request) (callerRequest, bool) {
	var req callerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return callerRequest{}, false
	}
	if req.Caller == "" {
		writeError(w, http.StatusBadRequest, "caller is required")
		return callerRequest{}, false
	}
	return req, true
}

// EndListing concludes an expired English auction.
// POST /api/listings/{id}/end
func (h *ListingHandler) EndListing(w http.ResponseWriter, r *http.Request) {
	id, ok := listingID(w, r)
	if !ok {
		return
	}
	req, ok := decodeCaller(w, r)
	if !ok {
		return
	}

	if err := h.listings.EndEnglish(r.Context(), id, domain.HexToAccount(req.Caller)); err != nil {
		h.writeServiceError(w, r, "end english", id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"listing_id": id, "status": "ended"})
}

// ClaimToken transfers the token to the auction winner.
// POST /api/listings/{id}/claim
func (h *ListingHandler) ClaimToken(w http.ResponseWriter, r *http.Request) {
	id, ok := listingID(w, r)
	if !ok {
		return
	}
	req, ok := decodeCaller(w, r)
	if !ok {
		return
	}

	if err := h.listings.ClaimEnglish(r.Context(), id, domain.HexToAccount(req.Caller)); err != nil {
		h.writeServiceError(w, r, "claim english", id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"listing_id": id, "claimed": true})
}

// ResolveListing accepts one bid on an offering sale.
// POST /api/listings/{id}/resolve
func (h *ListingHandler) ResolveListing(w http.ResponseWriter, r *http.Request) {
	id, ok := listingID(w, r)
	if !ok {
		return
	}
	req, ok := decodeCaller(w, r)
	if !ok {
		return
	}
	if req.BidID == nil {
		writeError(w, http.StatusBadRequest, "bid_id is required")
		return
	}

	if err := h.listings.ResolveOffering(r.Context(), id, *req.BidID, domain.HexToAccount(req.Caller)); err != nil {
		h.writeServiceError(w, r, "resolve offering", id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"listing_id": id, "accepted_bid": *req.BidID})
}

// WithdrawBid returns a losing offering bidder's escrowed funds.
// POST /api/listings/{id}/withdraw
func (h *ListingHandler) WithdrawBid(w http.ResponseWriter, r *http.Request) {
	id, ok := listingID(w, r)
	if !ok {
		return
	}
	req, ok := decodeCaller(w, r)
	if !ok {
		return
	}
	if req.BidID == nil {
		writeError(w, http.StatusBadRequest, "bid_id is required")
		return
	}

	if err := h.listings.WithdrawOfferingBid(r.Context(), id, *req.BidID, domain.HexToAccount(req.Caller)); err != nil {
		h.writeServiceError(w, r, "withdraw offering bid", id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"listing_id": id, "withdrawn_bid": *req.BidID})
}

// CancelListing retires a listing that has never received a bid.
// DELETE /api/listings/{id}
func (h *ListingHandler) CancelListing(w http.ResponseWriter, r *http.Request) {
	id, ok := listingID(w, r)
	if !ok {
		return
	}
	req, ok := decodeCaller(w, r)
	if !ok {
		return
	}

	if err := h.listings.Cancel(r.Context(), id, domain.HexToAccount(req.Caller)); err != nil {
		h.writeServiceError(w, r, "cancel", id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"listing_id": id, "status": "canceled"})
}

// listingID parses the {id} path parameter, writing a 400 on failure.
func listingID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(pathParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid listing id")
		return 0, false
	}
	return id, true
}

// writeServiceError maps domain errors onto HTTP status codes.
func (h *ListingHandler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, id int64, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.Int64("listing_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

// statusForError translates the domain's sentinel errors into HTTP codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrNotMember),
		errors.Is(err, domain.ErrNotDirector):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrListingNotActive),
		errors.Is(err, domain.ErrWrongMechanism),
		errors.Is(err, domain.ErrAuctionStarted),
		errors.Is(err, domain.ErrAlreadyClaimed),
		errors.Is(err, domain.ErrAlreadyExecuted),
		errors.Is(err, domain.ErrAlreadyConfirmed),
		errors.Is(err, domain.ErrQuorumNotReached),
		errors.Is(err, domain.ErrTokenListed),
		errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, domain.ErrAuctionNotExpired):
		return http.StatusConflict
	case errors.Is(err, domain.ErrBidTooLow),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrQuorumUnsatisfiable):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrInsufficientAllowance),
		errors.Is(err, domain.ErrZeroBalance):
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}
