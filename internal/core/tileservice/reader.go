package tileservice

import (
	"context"
	"fmt"

	"github.com/mohammed-shakir/wms-tilesource/internal/core/ogc"
)

type Reader struct {
	fetcher ogc.DocumentFetcher
}

func NewReader(f ogc.DocumentFetcher) *Reader {
	return &Reader{fetcher: f}
}

// Read fetches and parses the tile-service description at url.
func (r *Reader) Read(ctx context.Context, url string) (*Service, error) {
	b, err := r.fetcher.FetchDocument(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch tile service: %w", err)
	}
	return ParseBytes(b)
}
