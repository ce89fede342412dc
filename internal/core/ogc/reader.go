package ogc

import (
	"context"
	"fmt"
)

// DocumentFetcher retrieves a small document such as a capabilities response.
type DocumentFetcher interface {
	FetchDocument(ctx context.Context, url string) ([]byte, error)
}

type CapabilitiesReader struct {
	fetcher DocumentFetcher
}

func NewCapabilitiesReader(f DocumentFetcher) *CapabilitiesReader {
	return &CapabilitiesReader{fetcher: f}
}

// Read fetches and parses the capabilities document at url.
func (r *CapabilitiesReader) Read(ctx context.Context, url string) (*Capabilities, error) {
	b, err := r.fetcher.FetchDocument(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch capabilities: %w", err)
	}
	caps, err := ParseCapabilitiesBytes(b)
	if err != nil {
		return nil, err
	}
	return caps, nil
}
