package search

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
)

// Provider turns a query plus a set of allowed path prefixes into a
// source-attributed context block for agent prompts.
type Provider struct {
	svc        Service
	maxResults int
}

func NewProvider(svc Service, maxResults int) *Provider {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &Provider{svc: svc, maxResults: maxResults}
}

// Fetch concatenates up to maxResults hits in remote rank order, each
// tagged with its decoded source path. An empty result set yields an
// empty string, not an error.
func (p *Provider) Fetch(ctx context.Context, query string, pathFilters []string) (string, error) {
	results, err := p.svc.Search(ctx, query, FilterExpression(pathFilters), p.maxResults)
	if err != nil {
		return "", fmt.Errorf("fetch context: %w", err)
	}

	var blocks []string
	for _, r := range results {
		if r.Content == "" {
			continue
		}
		blocks = append(blocks, fmt.Sprintf("[SOURCE: %s]\n%s", decodePath(r.MetadataStoragePath), strings.TrimSpace(r.Content)))
	}
	return strings.Join(blocks, "\n\n"), nil
}

// FilterExpression builds a disjunctive ismatch filter over the storage
// path metadata field. Paths are matched in their base64-encoded form, the
// way the index stores them.
func FilterExpression(paths []string) string {
	clauses := make([]string, 0, len(paths))
	for _, p := range paths {
		encoded := base64.StdEncoding.EncodeToString([]byte(p))
		clauses = append(clauses, fmt.Sprintf("search.ismatch('%s', 'metadata_storage_path')", encoded))
	}
	return strings.Join(clauses, " or ")
}

// decodePath recovers the original path from its base64 metadata form.
// Undecodable metadata falls back to the raw value rather than failing
// the whole fetch.
func decodePath(encoded string) string {
	if encoded == "" {
		return "UNKNOWN"
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return encoded
	}
	return string(decoded)
}
