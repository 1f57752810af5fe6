package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/galleria-labs/galleria/internal/collection"
	"github.com/galleria-labs/galleria/internal/domain"
)

type memWriter struct {
	objects map[string][]byte
	types   map[string]string
}

func newMemWriter() *memWriter {
	return &memWriter{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.objects[path] = buf
	w.types[path] = contentType
	return nil
}

func (w *memWriter) Get(_ context.Context, path string) (io.ReadCloser, error) {
	buf, ok := w.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(buf)), nil
}

func (w *memWriter) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var infos []domain.BlobInfo
	for path, buf := range w.objects {
		if strings.HasPrefix(path, prefix) {
			infos = append(infos, domain.BlobInfo{Path: path, Size: int64(len(buf))})
		}
	}
	return infos, nil
}

func (w *memWriter) Exists(_ context.Context, path string) (bool, error) {
	_, ok := w.objects[path]
	return ok, nil
}

func (w *memWriter) Delete(_ context.Context, path string) error {
	delete(w.objects, path)
	delete(w.types, path)
	return nil
}

type memListingArchive struct {
	listings []domain.ListingRecord
}

func (s *memListingArchive) ListByStatus(_ context.Context, status domain.ListingStatus, opts domain.ListOpts) ([]domain.ListingRecord, error) {
	var out []domain.ListingRecord
	for _, rec := range s.listings {
		if rec.Status == status {
			out = append(out, rec)
		}
	}
	if opts.Offset >= len(out) {
		return nil, nil
	}
	out = out[opts.Offset:]
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

type memSaleArchive struct {
	sales map[domain.Account][]domain.SoldRecord
}

func (s *memSaleArchive) ListByGroup(_ context.Context, group domain.Account, opts domain.ListOpts) ([]domain.SoldRecord, error) {
	out := s.sales[group]
	if opts.Offset >= len(out) {
		return nil, nil
	}
	out = out[opts.Offset:]
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

type memAudit struct {
	events []string
}

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func TestArchiveSettledListings(t *testing.T) {
	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	old := cutoff.Add(-48 * time.Hour)
	recent := cutoff.Add(24 * time.Hour)

	listings := &memListingArchive{listings: []domain.ListingRecord{
		{ID: 1, Status: domain.ListingStatusEnded, ListedAt: old, Mechanism: domain.MechanismEnglish},
		{ID: 2, Status: domain.ListingStatusEnded, ListedAt: recent, Mechanism: domain.MechanismDutch},
		{ID: 3, Status: domain.ListingStatusActive, ListedAt: old, Mechanism: domain.MechanismOffering},
	}}
	writer := newMemWriter()
	audit := &memAudit{}
	arch := NewArchiver(writer, listings, &memSaleArchive{}, audit)

	n, err := arch.ArchiveSettledListings(context.Background(), cutoff)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	path := "archive/listings/2026-08.jsonl"
	body, ok := writer.objects[path]
	require.True(t, ok, "expected upload at %s", path)
	require.Equal(t, "application/x-ndjson", writer.types[path])

	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 1)
	var rec domain.ListingRecord
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	require.Equal(t, int64(1), rec.ID)

	require.Equal(t, []string{"archive.listings"}, audit.events)
}

func TestArchiveSettledListingsEmpty(t *testing.T) {
	writer := newMemWriter()
	audit := &memAudit{}
	arch := NewArchiver(writer, &memListingArchive{}, &memSaleArchive{}, audit)

	n, err := arch.ArchiveSettledListings(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Empty(t, writer.objects)
	require.Empty(t, audit.events)
}

func TestArchiveGroupSales(t *testing.T) {
	groupAddr := domain.DeriveAccount([]byte("archive-group"))
	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	sales := &memSaleArchive{sales: map[domain.Account][]domain.SoldRecord{
		groupAddr: {
			{ID: 0, ListingID: 10, Price: 340, SoldAt: cutoff.Add(-time.Hour)},
			{ID: 1, ListingID: 11, Price: 85, SoldAt: cutoff.Add(time.Hour)},
		},
	}}
	writer := newMemWriter()
	audit := &memAudit{}
	arch := NewArchiver(writer, &memListingArchive{}, sales, audit)

	n, err := arch.ArchiveGroupSales(context.Background(), groupAddr, cutoff)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	path := "archive/sales/" + groupAddr.Hex() + "/2026-08.jsonl"
	body, ok := writer.objects[path]
	require.True(t, ok, "expected upload at %s", path)

	var rec domain.SoldRecord
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(body), &rec))
	require.Equal(t, int64(10), rec.ListingID)
	require.Equal(t, int64(340), rec.Price)

	require.Equal(t, []string{"archive.sales"}, audit.events)
}

func TestMetadataPublisher(t *testing.T) {
	col := collection.New("Nature", "NAT", "landscapes")
	owner := domain.DeriveAccount([]byte("metadata-owner"))
	tokenID, err := col.Mint("ipfs://nature/1", owner)
	require.NoError(t, err)

	mintedAt := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	doc, err := DocFor(col, tokenID, mintedAt)
	require.NoError(t, err)
	require.Equal(t, col.Address().Hex(), doc.Collection)
	require.Equal(t, "ipfs://nature/1", doc.URI)
	require.Equal(t, owner.Hex(), doc.Owner)

	writer := newMemWriter()
	pub := NewMetadataPublisher(writer)
	path, err := pub.Publish(context.Background(), doc)
	require.NoError(t, err)
	require.Equal(t, "metadata/"+col.Address().Hex()+"/1.json", path)
	require.Equal(t, "application/json", writer.types[path])

	var round MetadataDoc
	require.NoError(t, json.Unmarshal(writer.objects[path], &round))
	require.Equal(t, doc, round)
}

func TestMetadataPublisherFetchAndRemove(t *testing.T) {
	col := collection.New("Nature", "NAT", "landscapes")
	owner := domain.DeriveAccount([]byte("metadata-owner"))
	tokenID, err := col.Mint("ipfs://nature/1", owner)
	require.NoError(t, err)

	doc, err := DocFor(col, tokenID, time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	store := newMemWriter()
	pub := NewMetadataPublisher(store).WithReader(store).WithDeleter(store)

	ctx := context.Background()
	_, err = pub.Publish(ctx, doc)
	require.NoError(t, err)

	fetched, err := pub.Fetch(ctx, doc.Collection, tokenID)
	require.NoError(t, err)
	require.Equal(t, doc, fetched)

	require.NoError(t, pub.Remove(ctx, doc.Collection, tokenID))
	_, err = pub.Fetch(ctx, doc.Collection, tokenID)
	require.ErrorIs(t, err, domain.ErrNotFound)

	// Removing again is a no-op.
	require.NoError(t, pub.Remove(ctx, doc.Collection, tokenID))
}

func TestMetadataPublisherFetchWithoutReader(t *testing.T) {
	pub := NewMetadataPublisher(newMemWriter())
	_, err := pub.Fetch(context.Background(), "0xabc", 1)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDocForUnknownToken(t *testing.T) {
	col := collection.New("Nature", "NAT", "landscapes")
	_, err := DocFor(col, 99, time.Now().UTC())
	require.Error(t, err)
}
