package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/galleria-labs/galleria/internal/domain"
)

// ListingArchiveStore is the subset of domain.ListingStore the archiver
// needs: paging through listings in a terminal state.
type ListingArchiveStore interface {
	ListByStatus(ctx context.Context, status domain.ListingStatus, opts domain.ListOpts) ([]domain.ListingRecord, error)
}

// SaleArchiveStore is the subset of domain.SoldRecordStore the archiver
// needs: paging through a group's sold records.
type SaleArchiveStore interface {
	ListByGroup(ctx context.Context, group domain.Account, opts domain.ListOpts) ([]domain.SoldRecord, error)
}

// archivePageSize is how many rows the archiver pulls per store query.
const archivePageSize = 500

// Archiver serialises settled marketplace state to JSONL files in object
// storage, one file per calendar month. Cold rows stay queryable in Postgres;
// the archive exists for offline analysis and as an export surface.
type Archiver struct {
	writer   domain.BlobWriter
	listings ListingArchiveStore
	sales    SaleArchiveStore
	audit    domain.AuditStore
}

// NewArchiver creates a new Archiver.
func NewArchiver(
	writer domain.BlobWriter,
	listings ListingArchiveStore,
	sales SaleArchiveStore,
	audit domain.AuditStore,
) *Archiver {
	return &Archiver{
		writer:   writer,
		listings: listings,
		sales:    sales,
		audit:    audit,
	}
}

// ArchiveSettledListings collects every ended listing created before the
// cutoff, serialises the batch to JSONL, and uploads it to
// archive/listings/YYYY-MM.jsonl. The upload is recorded in the audit log
// and the number of archived listings is returned.
func (a *Archiver) ArchiveSettledListings(ctx context.Context, before time.Time) (int64, error) {
	var settled []domain.ListingRecord

	for offset := 0; ; offset += archivePageSize {
		page, err := a.listings.ListByStatus(ctx, domain.ListingStatusEnded, domain.ListOpts{
			Limit:  archivePageSize,
			Offset: offset,
			Until:  &before,
		})
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive listings query: %w", err)
		}
		for _, rec := range page {
			if rec.ListedAt.Before(before) {
				settled = append(settled, rec)
			}
		}
		if len(page) < archivePageSize {
			break
		}
	}

	if len(settled) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(settled)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive listings marshal: %w", err)
	}

	path := archivePath("listings", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive listings upload: %w", err)
	}

	count := int64(len(settled))

	if err := a.audit.Log(ctx, "archive.listings", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive listings audit log: %w", err)
	}

	return count, nil
}

// ArchiveGroupSales collects a group's sold records concluded before the
// cutoff, serialises them to JSONL, and uploads the file to
// archive/sales/<group>/YYYY-MM.jsonl. The upload is recorded in the audit
// log and the number of archived records is returned.
func (a *Archiver) ArchiveGroupSales(ctx context.Context, group domain.Account, before time.Time) (int64, error) {
	var sold []domain.SoldRecord

	for offset := 0; ; offset += archivePageSize {
		page, err := a.sales.ListByGroup(ctx, group, domain.ListOpts{
			Limit:  archivePageSize,
			Offset: offset,
			Until:  &before,
		})
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive sales query: %w", err)
		}
		for _, rec := range page {
			if rec.SoldAt.Before(before) {
				sold = append(sold, rec)
			}
		}
		if len(page) < archivePageSize {
			break
		}
	}

	if len(sold) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(sold)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive sales marshal: %w", err)
	}

	path := fmt.Sprintf("archive/sales/%s/%s.jsonl", group.Hex(), before.Format("2006-01"))
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive sales upload: %w", err)
	}

	count := int64(len(sold))

	if err := a.audit.Log(ctx, "archive.sales", map[string]any{
		"group":  group.Hex(),
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive sales audit log: %w", err)
	}

	return count, nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/listings/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
