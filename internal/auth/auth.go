// Package auth verifies the two bearer credentials the API accepts: a
// shared service token for event ingestion and a bcrypt-hashed admin token
// for administrative operations.
package auth

import (
	"crypto/hmac"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrNotConfigured = errors.New("credential not configured")
)

// Verifier holds the configured credentials. Either may be empty, in which
// case the corresponding check always fails closed.
type Verifier struct {
	serviceToken   string
	adminTokenHash string
}

func NewVerifier(serviceToken, adminTokenHash string) *Verifier {
	return &Verifier{
		serviceToken:   serviceToken,
		adminTokenHash: adminTokenHash,
	}
}

// VerifyService checks a presented token against the shared service token
// in constant time.
func (v *Verifier) VerifyService(token string) error {
	if v.serviceToken == "" {
		return ErrNotConfigured
	}
	if !hmac.Equal([]byte(token), []byte(v.serviceToken)) {
		return ErrInvalidToken
	}
	return nil
}

// VerifyAdmin checks a presented token against the stored bcrypt hash.
// The admin token is also accepted wherever a service token is.
func (v *Verifier) VerifyAdmin(token string) error {
	if v.adminTokenHash == "" {
		return ErrNotConfigured
	}
	if err := bcrypt.CompareHashAndPassword([]byte(v.adminTokenHash), []byte(token)); err != nil {
		return ErrInvalidToken
	}
	return nil
}

// HashAdminToken produces a bcrypt hash suitable for TALLY_ADMIN_TOKEN_HASH.
func HashAdminToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
