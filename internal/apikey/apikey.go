// Package apikey generates dashboard API keys. Raw keys are shown to the
// caller once; only the bcrypt hash and the lookup prefix are stored.
package apikey

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/kiranshivaraju/autolister/pkg/models"
)

const (
	// PrefixLen is how much of the raw key is stored in clear for lookup.
	PrefixLen = 8
	rawPrefix = "al_"
	secretLen = 24
	nameMax   = 100
)

var ErrInvalidKey = errors.New("invalid api key request")

type Generated struct {
	Raw    string
	Prefix string
	Hash   string
}

func Generate() (Generated, error) {
	secret := make([]byte, secretLen)
	if _, err := rand.Read(secret); err != nil {
		return Generated{}, fmt.Errorf("generate api key: %w", err)
	}
	raw := rawPrefix + hex.EncodeToString(secret)

	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return Generated{}, fmt.Errorf("hash api key: %w", err)
	}
	return Generated{Raw: raw, Prefix: raw[:PrefixLen], Hash: string(hash)}, nil
}

// Matches reports whether raw is the key behind hash.
func Matches(hash, raw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw)) == nil
}

// New builds an API key record for name. The raw key is returned separately
// and is not recoverable from the record. Scopes default to read.
func New(name string, scopes []string, now time.Time) (*models.APIKey, string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > nameMax {
		return nil, "", fmt.Errorf("%w: name must be 1 to %d characters", ErrInvalidKey, nameMax)
	}
	if len(scopes) == 0 {
		scopes = []string{models.ScopeRead}
	}
	seen := map[string]bool{}
	clean := make([]string, 0, len(scopes))
	for _, s := range scopes {
		switch s {
		case models.ScopeRead, models.ScopeWrite, models.ScopeAdmin:
		default:
			return nil, "", fmt.Errorf("%w: unknown scope %q", ErrInvalidKey, s)
		}
		if !seen[s] {
			seen[s] = true
			clean = append(clean, s)
		}
	}

	g, err := Generate()
	if err != nil {
		return nil, "", err
	}
	now = now.UTC()
	return &models.APIKey{
		ID:        uuid.New(),
		Name:      name,
		KeyHash:   g.Hash,
		KeyPrefix: g.Prefix,
		Scopes:    clean,
		CreatedAt: now,
		UpdatedAt: now,
	}, g.Raw, nil
}
