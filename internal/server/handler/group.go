package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	s3blob "github.com/galleria-labs/galleria/internal/blob/s3"
	"github.com/galleria-labs/galleria/internal/domain"
	"github.com/galleria-labs/galleria/internal/group"
)

// GroupService defines the methods the group handler requires from the
// service layer.
type GroupService interface {
	CreateGroup(ctx context.Context, name, description string, members []domain.Account, quorum int) (*group.Group, error)
	Group(addr domain.Account) (*group.Group, error)
	Groups() []*group.Group
	MintNew(ctx context.Context, groupAddr, caller domain.Account, uri, name, symbol, description string) (int, domain.Collection, error)
	Mint(ctx context.Context, groupAddr, caller domain.Account, uri string, collectionAddr domain.Account) (int, error)
	Burn(ctx context.Context, groupAddr, caller domain.Account, tokenIndex int) error
	ListEnglish(ctx context.Context, groupAddr, caller domain.Account, tokenIndex int, startPrice, reservePrice int64, duration time.Duration) (int64, error)
	ListDutch(ctx context.Context, groupAddr, caller domain.Account, tokenIndex int, startPrice, endPrice int64, duration time.Duration) (int64, error)
	ListOffering(ctx context.Context, groupAddr, caller domain.Account, tokenIndex int, askPrice int64) (int64, error)
	CancelListing(ctx context.Context, groupAddr, caller domain.Account, listingID int64) error
	PullDistributions(ctx context.Context, groupAddr, caller domain.Account) ([]domain.SoldRecord, error)
	Withdraw(ctx context.Context, groupAddr, caller domain.Account) (int64, error)
	SoldRecords(ctx context.Context, groupAddr domain.Account, opts domain.ListOpts) ([]domain.SoldRecord, error)
	TotalRevenue(ctx context.Context, groupAddr domain.Account) (int64, error)
	TokenMetadata(ctx context.Context, groupAddr domain.Account, tokenIndex int) (s3blob.MetadataDoc, error)
}

// GroupHandler serves group-related HTTP endpoints.
type GroupHandler struct {
	groups GroupService
	logger *slog.Logger
}

// NewGroupHandler creates a GroupHandler with the given service and logger.
func NewGroupHandler(groups GroupService, logger *slog.Logger) *GroupHandler {
	return &GroupHandler{
		groups: groups,
		logger: logHandler(logger, "groups"),
	}
}

// groupView is the JSON shape of a group.
type groupView struct {
	Address     string   `json:"address"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Director    string   `json:"director"`
	Quorum      int      `json:"quorum"`
	Members     []string `json:"members"`
	TokenCount  int      `json:"token_count"`
	Collections []string `json:"collections"`
}

func viewOf(g *group.Group) groupView {
	members := g.Members()
	memberHex := make([]string, len(members))
	for i, m := range members {
		memberHex[i] = m.Hex()
	}
	cols := g.Collections()
	colHex := make([]string, len(cols))
	for i, c := range cols {
		colHex[i] = c.Address().Hex()
	}
	return groupView{
		Address:     g.Address().Hex(),
		Name:        g.Name(),
		Description: g.Description(),
		Director:    g.Director().Hex(),
		Quorum:      g.Quorum(),
		Members:     memberHex,
		TokenCount:  g.TokenCount(),
		Collections: colHex,
	}
}

// txView is the JSON shape of a multisig transaction.
type txView struct {
	ID          int       `json:"id"`
	Kind        string    `json:"kind"`
	Proposer    string    `json:"proposer"`
	Candidate   string    `json:"candidate,omitempty"`
	ListingID   int64     `json:"listing_id,omitempty"`
	BidID       int       `json:"bid_id,omitempty"`
	Approvals   int       `json:"approvals"`
	Executed    bool      `json:"executed"`
	SubmittedAt time.Time `json:"submitted_at"`
}

func txViewOf(tx domain.MultisigTransaction) txView {
	v := txView{
		ID:          tx.ID,
		Kind:        string(tx.Kind),
		Proposer:    tx.Proposer.Hex(),
		Approvals:   tx.Approvals(),
		Executed:    tx.Executed,
		SubmittedAt: tx.SubmittedAt,
	}
	switch tx.Kind {
	case domain.TxKindDirectorSetting:
		v.Candidate = tx.Candidate.Hex()
	case domain.TxKindOfferingSale:
		v.ListingID = tx.ListingID
		v.BidID = tx.BidID
	}
	return v
}

// createGroupRequest is the body for group creation.
type createGroupRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Members     []string `json:"members"`
	Quorum      int      `json:"quorum"`
}

// CreateGroup registers a new creator collective.
// POST /api/groups
func (h *GroupHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if len(req.Members) == 0 {
		writeError(w, http.StatusBadRequest, "members are required")
		return
	}

	members := make([]domain.Account, len(req.Members))
	for i, m := range req.Members {
		members[i] = domain.HexToAccount(m)
	}

	g, err := h.groups.CreateGroup(r.Context(), req.Name, req.Description, members, req.Quorum)
	if err != nil {
		h.writeServiceError(w, r, "create group", err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(g))
}

// ListGroups returns every group.
// GET /api/groups
func (h *GroupHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	gs := h.groups.Groups()
	views := make([]groupView, len(gs))
	for i, g := range gs {
		views[i] = viewOf(g)
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": views})
}

// GetGroup returns one group by address.
// GET /api/groups/{address}
func (h *GroupHandler) GetGroup(w http.ResponseWriter, r *http.Request) {
	g, ok := h.resolveGroup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(g))
}

// mintRequest is the body for token minting. Collection selects an existing
// collection; when empty a new collection is created from the name, symbol,
// and description fields.
type mintRequest struct {
	Caller      string `json:"caller"`
	URI         string `json:"uri"`
	Collection  string `json:"collection,omitempty"`
	Name        string `json:"name,omitempty"`
	Symbol      string `json:"symbol,omitempty"`
	Description string `json:"description,omitempty"`
}

// MintToken mints a token for the group.
// POST /api/groups/{address}/tokens
func (h *GroupHandler) MintToken(w http.ResponseWriter, r *http.Request) {
	g, ok := h.resolveGroup(w, r)
	if !ok {
		return
	}

	var req mintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Caller == "" || req.URI == "" {
		writeError(w, http.StatusBadRequest, "caller and uri are required")
		return
	}
	caller := domain.HexToAccount(req.Caller)

	if req.Collection != "" {
		idx, err := h.groups.Mint(r.Context(), g.Address(), caller, req.URI, domain.HexToAccount(req.Collection))
		if err != nil {
			h.writeServiceError(w, r, "mint", err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"token_index": idx,
			"collection":  req.Collection,
		})
		return
	}

	if req.Name == "" || req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "name and symbol are required for a new collection")
		return
	}
	idx, col, err := h.groups.MintNew(r.Context(), g.Address(), caller, req.URI, req.Name, req.Symbol, req.Description)
	if err != nil {
		h.writeServiceError(w, r, "mint new", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"token_index": idx,
		"collection":  col.Address().Hex(),
	})
}

// BurnToken retires one of the group's tokens. Director only.
// DELETE /api/groups/{address}/tokens/{index}
func (h *GroupHandler) BurnToken(w http.ResponseWriter, r *http.Request) {
	g, ok := h.resolveGroup(w, r)
	if !ok {
		return
	}
	idx, err := strconv.Atoi(pathParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid token index")
		return
	}
	req, ok := decodeCaller(w, r)
	if !ok {
		return
	}

	if err := h.groups.Burn(r.Context(), g.Address(), domain.HexToAccount(req.Caller), idx); err != nil {
		h.writeServiceError(w, r, "burn", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token_index": idx, "burned": true})
}

// createListingRequest is the body for listing one of the group's tokens.
type createListingRequest struct {
	Caller       string `json:"caller"`
	TokenIndex   int    `json:"token_index"`
	Mechanism    string `json:"mechanism"`
	StartPrice   int64  `json:"start_price,omitempty"`
	ReservePrice int64  `json:"reserve_price,omitempty"`
	EndPrice     int64  `json:"end_price,omitempty"`
	AskPrice     int64  `json:"ask_price,omitempty"`
	DurationSec  int64  `json:"duration_sec,omitempty"`
}

// CreateListing puts one of the group's tokens up for sale.
// POST /api/groups/{address}/listings
func (h *GroupHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	g, ok := h.resolveGroup(w, r)
	if !ok {
		return
	}

	var req createListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Caller == "" {
		writeError(w, http.StatusBadRequest, "caller is required")
		return
	}
	caller := domain.HexToAccount(req.Caller)
	duration := time.Duration(req.DurationSec) * time.Second

	var (
		listingID int64
		err       error
	)
	switch domain.Mechanism(req.Mechanism) {
	case domain.MechanismEnglish:
		listingID, err = h.groups.ListEnglish(r.Context(), g.Address(), caller, req.TokenIndex, req.StartPrice, req.ReservePrice, duration)
	case domain.MechanismDutch:
		listingID, err = h.groups.ListDutch(r.Context(), g.Address(), caller, req.TokenIndex, req.StartPrice, req.EndPrice, duration)
	case domain.MechanismOffering:
		listingID, err = h.groups.ListOffering(r.Context(), g.Address(), caller, req.TokenIndex, req.AskPrice)
	default:
		writeError(w, http.StatusBadRequest, "unknown mechanism")
		return
	}
	if err != nil {
		h.writeServiceError(w, r, "create listing", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"listing_id": listingID})
}

// CancelListing retires one of the group's zero-bid listings.
// DELETE /api/groups/{address}/listings/{id}
func (h *GroupHandler) CancelListing(w http.ResponseWriter, r *http.Request) {
	g, ok := h.resolveGroup(w, r)
	if !ok {
		return
	}
	listingID, err := strconv.ParseInt(pathParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid listing id")
		return
	}
	req, ok := decodeCaller(w, r)
	if !ok {
		return
	}

	if err := h.groups.CancelListing(r.Context(), g.Address(), domain.HexToAccount(req.Caller), listingID); err != nil {
		h.writeServiceError(w, r, "cancel listing", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"listing_id": listingID, "status": "canceled"})
}

// memberRequest is the body for membership changes.
type memberRequest struct {
	Caller  string `json:"caller"`
	Account string `json:"account"`
}

// AddMember adds a member. Director only.
// POST /api/groups/{address}/members
func (h *GroupHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	g, ok := h.resolveGroup(w, r)
	if !ok {
		return
	}
	var req memberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Caller == "" || req.Account == "" {
		writeError(w, http.StatusBadRequest, "caller and account are required")
		return
	}

	if err := g.AddMember(domain.HexToAccount(req.Caller), domain.HexToAccount(req.Account)); err != nil {
		h.writeServiceError(w, r, "add member", err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(g))
}

// RemoveMember removes a member. Director only; the director cannot be
// removed and the member count cannot fall below the quorum.
// DELETE /api/groups/{address}/members/{account}
func (h *GroupHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	g, ok := h.resolveGroup(w, r)
	if !ok {
		return
	}
	req, ok := decodeCaller(w, r)
	if !ok {
		return
	}

	account := domain.HexToAccount(pathParam(r, "account"))
	if err := g.RemoveMember(domain.HexToAccount(req.Caller), account); err != nil {
		h.writeServiceError(w, r, "remove member", err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(g))
}

// directorRequest is the body for proposing a director.
type directorRequest struct {
	Caller    string `json:"caller"`
	Candidate string `json:"candidate"`
}

// ProposeDirector opens a director-setting multisig transaction.
// POST /api/groups/{address}/director
func (h *GroupHandler) ProposeDirector(w http.ResponseWriter, r *http.Request) {
	g, ok := h.resolveGroup(w, r)
	if !ok {
		return
	}
	var req directorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Caller == "" || req.Candidate == "" {
		writeError(w, http.StatusBadRequest, "caller and candidate are required")
		return
	}

	txID, err := g.SubmitDirectorSetting(domain.HexToAccount(req.Caller), domain.HexToAccount(req.Candidate))
	if err != nil {
		h.writeServiceError(w, r, "submit director setting", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"tx_id": txID})
}

// voteRequest is the body for multisig confirmation.
type voteRequest struct {
	Caller  string `json:"caller"`
	Approve bool   `json:"approve"`
}

// ConfirmTransaction records a member's vote on a multisig transaction.
// POST /api/groups/{address}/transactions/{kind}/{txid}/confirm
func (h *GroupHandler) ConfirmTransaction(w http.ResponseWriter, r *http.Request) {
	g, txID, kind, ok := h.resolveTx(w, r)
	if !ok {
		return
	}
	var req voteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Caller == "" {
		writeError(w, http.StatusBadRequest, "caller is required")
		return
	}
	caller := domain.HexToAccount(req.Caller)

	var err error
	switch kind {
	case domain.TxKindDirectorSetting:
		err = g.ConfirmDirectorSetting(caller, txID, req.Approve)
	case domain.TxKindOfferingSale:
		err = g.ConfirmOfferingSale(caller, txID, req.Approve)
	}
	if err != nil {
		h.writeServiceError(w, r, "confirm transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tx_id": txID, "confirmed": true})
}

// ExecuteTransaction executes a quorum-confirmed multisig transaction.
// POST /api/groups/{address}/transactions/{kind}/{txid}/execute
func (h *GroupHandler) ExecuteTransaction(w http.ResponseWriter, r *http.Request) {
	g, txID, kind, ok := h.resolveTx(w, r)
	if !ok {
		return
	}
	req, ok := decodeCaller(w, r)
	if !ok {
		return
	}
	caller := domain.HexToAccount(req.Caller)

	var err error
	switch kind {
	case domain.TxKindDirectorSetting:
		err = g.ExecuteDirectorSetting(caller, txID)
	case domain.TxKindOfferingSale:
		err = g.ExecuteOfferingSale(caller, txID)
	}
	if err != nil {
		h.writeServiceError(w, r, "execute transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tx_id": txID, "executed": true})
}

// ListTransactions returns the group's multisig transaction queues.
// GET /api/groups/{address}/transactions
func (h *GroupHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	g, ok := h.resolveGroup(w, r)
	if !ok {
		return
	}

	director := g.DirectorTransactions()
	offerings := g.OfferingTransactions()

	directorViews := make([]txView, len(director))
	for i, tx := range director {
		directorViews[i] = txViewOf(tx)
	}
	offeringViews := make([]txView, len(offerings))
	for i, tx := range offerings {
		offeringViews[i] = txViewOf(tx)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"director_settings": directorViews,
		"offering_sales":    offeringViews,
	})
}

// PullDistributions sweeps the group's settled proceeds from the marketplace
// and distributes them to the members.
// POST /api/groups/{address}/distributions
func (h *GroupHandler) PullDistributions(w http.ResponseWriter, r *http.Request) {
	g, ok := h.resolveGroup(w, r)
	if !ok {
		return
	}
	req, ok := decodeCaller(w, r)
	if !ok {
		return
	}

	recs, err := h.groups.PullDistributions(r.Context(), g.Address(), domain.HexToAccount(req.Caller))
	if err != nil {
		h.writeServiceError(w, r, "pull distributions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": recs})
}

// Withdraw pays out the caller's accrued distribution balance.
// POST /api/groups/{address}/withdrawals
func (h *GroupHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	g, ok := h.resolveGroup(w, r)
	if !ok {
		return
	}
	req, ok := decodeCaller(w, r)
	if !ok {
		return
	}

	amount, err := h.groups.Withdraw(r.Context(), g.Address(), domain.HexToAccount(req.Caller))
	if err != nil {
		h.writeServiceError(w, r, "withdraw", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"amount": amount})
}

// ListSales returns the group's archived sold records.
// GET /api/groups/{address}/sales
func (h *GroupHandler) ListSales(w http.ResponseWriter, r *http.Request) {
	g, ok := h.resolveGroup(w, r)
	if !ok {
		return
	}

	recs, err := h.groups.SoldRecords(r.Context(), g.Address(), parseListOpts(r))
	if err != nil {
		h.writeServiceError(w, r, "list sales", err)
		return
	}
	total, err := h.groups.TotalRevenue(r.Context(), g.Address())
	if err != nil {
		h.writeServiceError(w, r, "total revenue", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sales":         recs,
		"total_revenue": total,
	})
}

// GetTokenMetadata serves back the published metadata document for one of
// the group's tokens.
// GET /api/groups/{address}/tokens/{index}/metadata
func (h *GroupHandler) GetTokenMetadata(w http.ResponseWriter, r *http.Request) {
	g, ok := h.resolveGroup(w, r)
	if !ok {
		return
	}
	idx, err := strconv.Atoi(pathParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid token index")
		return
	}

	doc, err := h.groups.TokenMetadata(r.Context(), g.Address(), idx)
	if err != nil {
		h.writeServiceError(w, r, "token metadata", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func (h *GroupHandler) resolveGroup(w http.ResponseWriter, r *http.Request) (*group.Group, bool) {
	addr := pathParam(r, "address")
	if addr == "" {
		writeError(w, http.StatusBadRequest, "missing group address")
		return nil, false
	}
	g, err := h.groups.Group(domain.HexToAccount(addr))
	if err != nil {
		h.writeServiceError(w, r, "resolve group", err)
		return nil, false
	}
	return g, true
}

func (h *GroupHandler) resolveTx(w http.ResponseWriter, r *http.Request) (*group.Group, int, domain.TxKind, bool) {
	g, ok := h.resolveGroup(w, r)
	if !ok {
		return nil, 0, "", false
	}
	txID, err := strconv.Atoi(pathParam(r, "txid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid transaction id")
		return nil, 0, "", false
	}
	kind := domain.TxKind(pathParam(r, "kind"))
	switch kind {
	case domain.TxKindDirectorSetting, domain.TxKindOfferingSale:
	default:
		writeError(w, http.StatusBadRequest, "unknown transaction kind")
		return nil, 0, "", false
	}
	return g, txID, kind, true
}

func (h *GroupHandler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
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
