package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/galleria-labs/galleria/internal/domain"
)

// MetadataDoc is the public token metadata document uploaded at mint time.
// It is the JSON a marketplace frontend or wallet resolves from the token's
// URI.
type MetadataDoc struct {
	Collection  string    `json:"collection"`
	TokenID     int       `json:"token_id"`
	Name        string    `json:"name"`
	Symbol      string    `json:"symbol"`
	Description string    `json:"description"`
	URI         string    `json:"uri"`
	Owner       string    `json:"owner"`
	MintedAt    time.Time `json:"minted_at"`
}

// MetadataPublisher uploads token metadata documents to object storage under
// metadata/<collection>/<token-id>.json.
type MetadataPublisher struct {
	writer  domain.BlobWriter
	reader  domain.BlobReader
	deleter domain.BlobDeleter
}

// NewMetadataPublisher creates a new MetadataPublisher.
func NewMetadataPublisher(writer domain.BlobWriter) *MetadataPublisher {
	return &MetadataPublisher{writer: writer}
}

// WithReader attaches a blob reader so published documents can be fetched
// back. Without one, Fetch reports ErrNotFound.
func (p *MetadataPublisher) WithReader(r domain.BlobReader) *MetadataPublisher {
	p.reader = r
	return p
}

// WithDeleter attaches a blob deleter so burned tokens can have their
// documents removed. Without one, Remove is a no-op.
func (p *MetadataPublisher) WithDeleter(d domain.BlobDeleter) *MetadataPublisher {
	p.deleter = d
	return p
}

// Publish serialises the document and uploads it, returning the object path.
// Re-publishing the same token overwrites the previous document, so ownership
// changes can be reflected by calling Publish again.
func (p *MetadataPublisher) Publish(ctx context.Context, doc MetadataDoc) (string, error) {
	buf, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal metadata %s/%d: %w", doc.Collection, doc.TokenID, err)
	}

	path := metadataPath(doc.Collection, doc.TokenID)
	if err := p.writer.Put(ctx, path, bytes.NewReader(buf), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: publish metadata %s: %w", path, err)
	}
	return path, nil
}

// Fetch retrieves a token's published metadata document.
func (p *MetadataPublisher) Fetch(ctx context.Context, collection string, tokenID int) (MetadataDoc, error) {
	path := metadataPath(collection, tokenID)
	if p.reader == nil {
		return MetadataDoc{}, fmt.Errorf("s3blob: fetch metadata %s: %w", path, domain.ErrNotFound)
	}

	body, err := p.reader.Get(ctx, path)
	if err != nil {
		return MetadataDoc{}, fmt.Errorf("s3blob: fetch metadata %s: %w", path, err)
	}
	defer body.Close()

	var doc MetadataDoc
	if err := json.NewDecoder(body).Decode(&doc); err != nil {
		return MetadataDoc{}, fmt.Errorf("s3blob: decode metadata %s: %w", path, err)
	}
	return doc, nil
}

// Remove deletes a burned token's metadata document. Idempotent.
func (p *MetadataPublisher) Remove(ctx context.Context, collection string, tokenID int) error {
	if p.deleter == nil {
		return nil
	}
	path := metadataPath(collection, tokenID)
	if err := p.deleter.Delete(ctx, path); err != nil {
		return fmt.Errorf("s3blob: remove metadata %s: %w", path, err)
	}
	return nil
}

// DocFor builds the metadata document for one token in a collection.
func DocFor(col domain.Collection, tokenID int, mintedAt time.Time) (MetadataDoc, error) {
	uri, err := col.TokenURI(tokenID)
	if err != nil {
		return MetadataDoc{}, fmt.Errorf("s3blob: token uri %s/%d: %w", col.Address().Hex(), tokenID, err)
	}
	owner, err := col.OwnerOf(tokenID)
	if err != nil {
		return MetadataDoc{}, fmt.Errorf("s3blob: token owner %s/%d: %w", col.Address().Hex(), tokenID, err)
	}
	return MetadataDoc{
		Collection:  col.Address().Hex(),
		TokenID:     tokenID,
		Name:        col.Name(),
		Symbol:      col.Symbol(),
		Description: col.Description(),
		URI:         uri,
		Owner:       owner.Hex(),
		MintedAt:    mintedAt,
	}, nil
}

func metadataPath(collection string, tokenID int) string {
	return fmt.Sprintf("metadata/%s/%d.json", collection, tokenID)
}
