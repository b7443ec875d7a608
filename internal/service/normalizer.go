package service

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/alanyoungcy/cryptoworld/internal/domain"
)

// defaultSearchLimit caps name suggestions.
const defaultSearchLimit = 10

var canonicalIDPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// Normalizer maps user-facing coin names onto the provider's canonical ids.
// Matching is exact and case-insensitive; there is no fuzzy matching.
type Normalizer struct{}

// NewNormalizer creates a Normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Resolve returns the canonical id whose display name equals rawName,
// ignoring case and surrounding whitespace. No match, or matches on more than
// one distinct id, yield domain.ErrNotFound.
func (n *Normalizer) Resolve(rawName string, pool []domain.Candidate) (string, error) {
	name := strings.TrimSpace(rawName)
	if name == "" {
		return "", fmt.Errorf("normalizer: %w: empty name", domain.ErrNotFound)
	}

	var match string
	for _, c := range pool {
		if !strings.EqualFold(strings.TrimSpace(c.Name), name) {
			continue
		}
		if match != "" && match != c.ID {
			return "", fmt.Errorf("normalizer: %w: %q is ambiguous (%s, %s)", domain.ErrNotFound, name, match, c.ID)
		}
		match = c.ID
	}
	if match == "" {
		return "", fmt.Errorf("normalizer: %w: no coin named %q", domain.ErrNotFound, name)
	}
	return match, nil
}

// Canonicalize returns the canonical id to fetch coin by. A canonically
// shaped identifier is used as is, listed or not; otherwise the display name,
// then the stored identifier, are resolved by name.
func (n *Normalizer) Canonicalize(coin domain.WatchedCoin, pool []domain.Candidate) (string, error) {
	id := strings.TrimSpace(coin.Identifier)
	for _, c := range pool {
		if c.ID == id && id != "" {
			return id, nil
		}
	}
	if IsCanonicalID(id) {
		return id, nil
	}

	if len(pool) > 0 {
		if coin.DisplayName != "" {
			if resolved, err := n.Resolve(coin.DisplayName, pool); err == nil {
				return resolved, nil
			}
		}
		if id != "" && id != coin.DisplayName {
			if resolved, err := n.Resolve(id, pool); err == nil {
				return resolved, nil
			}
		}
	}

	return "", fmt.Errorf("normalizer: %w: cannot resolve %q", domain.ErrNotFound, coin.Identifier)
}

// Search returns up to limit candidates whose name contains term, ignoring
// case, in pool order. Results are suggestions only.
func (n *Normalizer) Search(term string, pool []domain.Candidate, limit int) []domain.Candidate {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	needle := strings.ToLower(strings.TrimSpace(term))

	out := make([]domain.Candidate, 0, limit)
	for _, c := range pool {
		if len(out) == limit {
			break
		}
		if strings.Contains(strings.ToLower(c.Name), needle) {
			out = append(out, c)
		}
	}
	return out
}

// IsCanonicalID reports whether id has the shape of a provider id: lower-case
// alphanumerics separated by single hyphens.
func IsCanonicalID(id string) bool {
	return canonicalIDPattern.MatchString(id)
}
