package common

import "strings"

// IdentityKey is the normalized (name, company) pair that decides whether two
// records describe the same person.
type IdentityKey string

// KeyNormalizer normalizes one component of an identity key.
type KeyNormalizer func(string) string

// DefaultNormalizer lower-cases and collapses internal whitespace, so
// "ACME  Corp " and "acme corp" produce the same key.
func DefaultNormalizer(value string) string {
	return strings.Join(strings.Fields(strings.ToLower(value)), " ")
}

// NewIdentityKey builds the key for name and company. A nil normalizer falls
// back to DefaultNormalizer.
func NewIdentityKey(name, company string, normalize KeyNormalizer) IdentityKey {
	if normalize == nil {
		normalize = DefaultNormalizer
	}
	return IdentityKey(normalize(name) + "|" + normalize(company))
}

func (k IdentityKey) String() string {
	return string(k)
}
