// Package domain defines the core entities of the creator-collective
// marketplace: accounts, listings, bids, groups, multisig transactions,
// sold records, and the collaborator interfaces consumed by the engines.
package domain

import (
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// Account identifies a participant on the payment ledger: a member wallet, a
// group, a collection, the marketplace escrow, or the platform operator.
type Account = common.Address

// ZeroAccount is the unset account value (e.g. a group with no director).
var ZeroAccount = Account{}

// NewAccount returns a fresh, collision-resistant account address. Used when
// the factory instantiates groups, collections, and escrow accounts.
func NewAccount() Account {
	u := uuid.New()
	return common.BytesToAddress(ethcrypto.Keccak256(u[:])[12:])
}

// DeriveAccount returns an address deterministically derived from the given
// byte segments. Deterministic derivation keeps test fixtures stable.
func DeriveAccount(parts ...[]byte) Account {
	return common.BytesToAddress(ethcrypto.Keccak256(parts...)[12:])
}

// HexToAccount parses a 0x-prefixed hex address as stored in the archive.
func HexToAccount(s string) Account {
	return common.HexToAddress(s)
}
