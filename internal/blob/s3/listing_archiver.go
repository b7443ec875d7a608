package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/alanyoungcy/cryptoworld/internal/domain"
)

const listingPrefix = "listings/"

// ListingArchiver stores every refreshed listing as one JSON object at
// listings/YYYY/MM/DD/<unix>.json and can read the newest one back.
type ListingArchiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
}

// NewListingArchiver creates a ListingArchiver. reader may be nil when only
// archiving is needed.
func NewListingArchiver(writer domain.BlobWriter, reader domain.BlobReader) *ListingArchiver {
	return &ListingArchiver{writer: writer, reader: reader}
}

// ArchiveListing uploads listing. An empty listing is skipped.
func (a *ListingArchiver) ArchiveListing(ctx context.Context, listing domain.Listing) error {
	if listing.Empty() {
		return nil
	}

	data, err := json.Marshal(listing)
	if err != nil {
		return fmt.Errorf("s3blob: marshal listing: %w", err)
	}

	path := listingPath(listing.FetchedAt)
	if err := a.writer.Put(ctx, path, bytes.NewReader(data), "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive listing: %w", err)
	}
	return nil
}

// Latest returns the newest archived listing, searching back from day.
// It looks at most lookbackDays days back and returns domain.ErrNotFound
// when nothing was archived in that span.
func (a *ListingArchiver) Latest(ctx context.Context, day time.Time, lookbackDays int) (domain.Listing, error) {
	if a.reader == nil {
		return domain.Listing{}, fmt.Errorf("s3blob: latest listing: %w", domain.ErrNotFound)
	}

	day = day.UTC()
	for i := 0; i <= lookbackDays; i++ {
		prefix := dayPrefix(day.AddDate(0, 0, -i))
		infos, err := a.reader.List(ctx, prefix)
		if err != nil {
			return domain.Listing{}, fmt.Errorf("s3blob: latest listing: %w", err)
		}
		if len(infos) == 0 {
			continue
		}

		// Keys within a day are unix seconds of equal width, so the
		// lexically greatest key is the newest.
		sort.Slice(infos, func(i, j int) bool { return infos[i].Path > infos[j].Path })
		return a.read(ctx, infos[0].Path)
	}
	return domain.Listing{}, fmt.Errorf("s3blob: latest listing: %w", domain.ErrNotFound)
}

func (a *ListingArchiver) read(ctx context.Context, path string) (domain.Listing, error) {
	body, err := a.reader.Get(ctx, path)
	if err != nil {
		return domain.Listing{}, err
	}
	defer body.Close()

	var listing domain.Listing
	if err := json.NewDecoder(body).Decode(&listing); err != nil {
		return domain.Listing{}, fmt.Errorf("s3blob: decode %s: %w", path, err)
	}
	return listing, nil
}

// listingPath builds the object key for a listing fetched at t.
//
//	listings/2025/01/31/1738281600.json
func listingPath(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s%d.json", dayPrefix(t), t.Unix())
}

func dayPrefix(t time.Time) string {
	return listingPrefix + t.UTC().Format("2006/01/02") + "/"
}
