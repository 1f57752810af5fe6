// Package collection implements the per-group NFT inventory: token ids,
// metadata URIs, and ownership. It carries no marketplace logic.
package collection

import (
	"fmt"
	"sync"

	"github.com/galleria-labs/galleria/internal/domain"
)

// Collection is an in-memory NFT inventory owned by a single group.
type Collection struct {
	mu          sync.Mutex
	address     domain.Account
	name        string
	symbol      string
	description string
	nextID      int
	uris        map[int]string
	owners      map[int]domain.Account
}

// New creates an empty collection with a freshly derived address.
func New(name, symbol, description string) *Collection {
	return &Collection{
		address:     domain.NewAccount(),
		name:        name,
		symbol:      symbol,
		description: description,
		nextID:      1,
		uris:        make(map[int]string),
		owners:      make(map[int]domain.Account),
	}
}

func (c *Collection) Address() domain.Account { return c.address }
func (c *Collection) Name() string            { return c.name }
func (c *Collection) Symbol() string          { return c.symbol }
func (c *Collection) Description() string     { return c.description }

// Mint creates a new token with the given metadata URI. Token ids are
// 1-based and never reused, even after a burn.
func (c *Collection) Mint(uri string, owner domain.Account) (int, error) {
	if uri == "" {
		return 0, fmt.Errorf("collection: empty token uri")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.uris[id] = uri
	c.owners[id] = owner
	return id, nil
}

// Burn removes a token permanently.
func (c *Collection) Burn(tokenID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.uris[tokenID]; !ok {
		return fmt.Errorf("collection: burn token %d: %w", tokenID, domain.ErrNotFound)
	}
	delete(c.uris, tokenID)
	delete(c.owners, tokenID)
	return nil
}

// TokenURI returns the metadata URI for a token.
func (c *Collection) TokenURI(tokenID int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	uri, ok := c.uris[tokenID]
	if !ok {
		return "", fmt.Errorf("collection: token %d: %w", tokenID, domain.ErrNotFound)
	}
	return uri, nil
}

// OwnerOf returns the current owner of a token.
func (c *Collection) OwnerOf(tokenID int) (domain.Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	owner, ok := c.owners[tokenID]
	if !ok {
		return domain.ZeroAccount, fmt.Errorf("collection: token %d: %w", tokenID, domain.ErrNotFound)
	}
	return owner, nil
}

// Transfer reassigns ownership of a token. The from account must be the
// current owner.
func (c *Collection) Transfer(tokenID int, from, to domain.Account) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	owner, ok := c.owners[tokenID]
	if !ok {
		return fmt.Errorf("collection: transfer token %d: %w", tokenID, domain.ErrNotFound)
	}
	if owner != from {
		return fmt.Errorf("collection: transfer token %d: %w", tokenID, domain.ErrUnauthorized)
	}
	c.owners[tokenID] = to
	return nil
}

var _ domain.Collection = (*Collection)(nil)
