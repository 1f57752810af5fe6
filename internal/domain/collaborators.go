package domain

// PaymentLedger is the external fungible-token ledger used for every payment.
// Transfers are assumed to succeed or fail atomically; the engines build
// their all-or-nothing guarantees on top of that.
type PaymentLedger interface {
	BalanceOf(account Account) int64
	Approve(owner, spender Account, amount int64) error
	Allowance(owner, spender Account) int64
	// Transfer moves funds the caller already controls.
	Transfer(from, to Account, amount int64) error
	// TransferFrom moves owner funds on behalf of spender, consuming the
	// owner's allowance for that spender.
	TransferFrom(spender, owner, to Account, amount int64) error
}

// Collection is the external per-group NFT inventory: token ids, metadata
// URIs, and ownership. It carries no business logic.
type Collection interface {
	Address() Account
	Name() string
	Symbol() string
	Description() string
	// Mint creates a new token for the given URI and returns its id. Token
	// ids start at 1 and never repeat.
	Mint(uri string, owner Account) (int, error)
	Burn(tokenID int) error
	TokenURI(tokenID int) (string, error)
	OwnerOf(tokenID int) (Account, error)
	// Transfer reassigns token ownership. Only called by the marketplace at
	// settlement and by the owning group.
	Transfer(tokenID int, from, to Account) error
}

// FeeCollector charges the factory's flat mint/burn fees against a group's
// ledger account.
type FeeCollector interface {
	ChargeMintFee(group Account) error
	ChargeBurnFee(group Account) error
}
