package approval

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
	"golang.org/x/crypto/hkdf"

	"github.com/abbyhq/abby/pkg/contracts"
)

// ErrInvalidToken covers every way a presented token can fail.
var ErrInvalidToken = errors.New("approval: invalid or expired approval")

const (
	tokenIssuer   = "abby/approval"
	tokenAudience = "abby/executor"

	// DefaultTokenTTL bounds how long an approval stays usable.
	DefaultTokenTTL = 5 * time.Minute
)

// TokenClaims binds a token to one command and its exact content.
type TokenClaims struct {
	jwt.RegisteredClaims
	Fingerprint string `json:"cmd"`
}

// TokenIssuer mints and verifies HS256 approval tokens.
type TokenIssuer struct {
	key   []byte
	ttl   time.Duration
	clock func() time.Time
}

// NewTokenIssuer derives the signing key from secret. An empty secret
// yields a random per-process key, so tokens die with the process.
func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	seed := []byte(secret)
	if len(seed) == 0 {
		seed = make([]byte, 32)
		if _, err := rand.Read(seed); err != nil {
			return nil, fmt.Errorf("approval: random seed: %w", err)
		}
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, seed, []byte("abby-approval-kdf"), []byte("hs256")), key); err != nil {
		return nil, fmt.Errorf("approval: derive key: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenIssuer{key: key, ttl: ttl, clock: time.Now}, nil
}

// WithClock overrides the clock for deterministic testing.
func (t *TokenIssuer) WithClock(clock func() time.Time) *TokenIssuer {
	t.clock = clock
	return t
}

// Issue mints a token for cmd.
func (t *TokenIssuer) Issue(cmd contracts.ActionCommand) (contracts.ApprovalToken, error) {
	fp, err := Fingerprint(cmd)
	if err != nil {
		return contracts.ApprovalToken{}, err
	}
	now := t.clock().UTC()
	exp := now.Add(t.ttl)
	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   cmd.ID,
			Issuer:    tokenIssuer,
			Audience:  jwt.ClaimStrings{tokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Fingerprint: fp,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
	if err != nil {
		return contracts.ApprovalToken{}, fmt.Errorf("approval: sign token: %w", err)
	}
	return contracts.ApprovalToken{
		CommandID: cmd.ID,
		Value:     signed,
		IssuedAt:  now,
		ExpiresAt: exp,
	}, nil
}

// Verify checks that token was minted by t for exactly cmd and has not
// expired. It returns the claims so the caller can consume the token id.
func (t *TokenIssuer) Verify(cmd contracts.ActionCommand, token contracts.ApprovalToken) (*TokenClaims, error) {
	if token.CommandID == "" || token.CommandID != cmd.ID {
		return nil, fmt.Errorf("%w: token issued for a different command", ErrInvalidToken)
	}
	claims := &TokenClaims{}
	_, err := jwt.ParseWithClaims(token.Value, claims,
		func(tok *jwt.Token) (any, error) { return t.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.clock),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject != cmd.ID {
		return nil, fmt.Errorf("%w: subject mismatch", ErrInvalidToken)
	}
	fp, err := Fingerprint(cmd)
	if err != nil {
		return nil, err
	}
	if claims.Fingerprint != fp {
		return nil, fmt.Errorf("%w: command changed after approval", ErrInvalidToken)
	}
	return claims, nil
}

// Fingerprint is the sha256 of the command's canonical JSON (RFC 8785).
func Fingerprint(cmd contracts.ActionCommand) (string, error) {
	hashable := struct {
		ID     string               `json:"commandId"`
		Action contracts.ActionType `json:"action"`
		Entity contracts.EntityType `json:"entity"`
		Params map[string]any       `json:"params"`
	}{cmd.ID, cmd.Action, cmd.Entity, cmd.Params}

	data, err := json.Marshal(hashable)
	if err != nil {
		return "", fmt.Errorf("approval: marshal command: %w", err)
	}
	canonical, err := jcs.Transform(data)
	if err != nil {
		return "", fmt.Errorf("approval: canonicalize command: %w", err)
	}
	h := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(h[:]), nil
}
