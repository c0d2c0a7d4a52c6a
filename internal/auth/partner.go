// Package auth authenticates partner requests (shared API key) and internal
// dispatch/admin callers (HS256 bearer tokens).
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net/http"

	"catersync/internal/config"
)

const (
	HeaderPartner = "X-Partner"
	HeaderAPIKey  = "X-API-Key"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrNotConfigured   = errors.New("credentials not configured")
	ErrForbidden       = errors.New("forbidden")
)

// PartnerGate checks the partner identity and API key headers against the
// configured credential. With no key configured every request is refused.
type PartnerGate struct {
	name    string
	nameSum [32]byte
	keySum  [32]byte
	hasKey  bool
}

func NewPartnerGate(p config.Partner) *PartnerGate {
	return &PartnerGate{
		name:    p.Name,
		nameSum: sha256.Sum256([]byte(p.Name)),
		keySum:  sha256.Sum256([]byte(p.APIKey)),
		hasKey:  p.APIKey != "",
	}
}

func (g *PartnerGate) Configured() bool { return g.hasKey }

// Authenticate returns the partner name when both values match. Hashing
// first keeps the comparison length-independent, and both comparisons always
// run.
func (g *PartnerGate) Authenticate(partner, apiKey string) (string, error) {
	if !g.hasKey {
		return "", ErrNotConfigured
	}
	ns := sha256.Sum256([]byte(partner))
	ks := sha256.Sum256([]byte(apiKey))
	ok := subtle.ConstantTimeCompare(ns[:], g.nameSum[:]) & subtle.ConstantTimeCompare(ks[:], g.keySum[:])
	if ok != 1 || partner == "" || apiKey == "" {
		return "", ErrUnauthenticated
	}
	return g.name, nil
}

func (g *PartnerGate) AuthenticateRequest(r *http.Request) (string, error) {
	return g.Authenticate(r.Header.Get(HeaderPartner), r.Header.Get(HeaderAPIKey))
}
