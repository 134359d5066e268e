package ticket

import (
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"

	"venue/entity"
)

const issuer = "venue"

type Claims struct {
	UnitID string          `json:"uid"`
	Kind   entity.UnitKind `json:"knd"`
	jwt.RegisteredClaims
}

// Signer mints and parses ticket tokens. The signing key is derived from
// the configured secret, so the raw secret never signs anything.
type Signer struct {
	key []byte
}

func NewSigner(secret string) (Signer, error) {
	if secret == "" {
		return Signer{}, fmt.Errorf("missing ticket secret")
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte("venue ticket signing v1")), key); err != nil {
		return Signer{}, fmt.Errorf("could not derive ticket key: %w", err)
	}

	return Signer{key: key}, nil
}

// Sign returns the token of a paid booking. Every input comes from the
// stored booking, so signing the same booking twice yields the same token.
func (s Signer) Sign(booking entity.Booking, unit entity.Unit) (string, error) {
	if !booking.IsPaid() || booking.PaidAt == nil || booking.TicketNonce == "" {
		return "", fmt.Errorf("%w: booking %s", entity.ErrNotPaid, booking.ID)
	}

	claims := Claims{
		UnitID: unit.ID,
		Kind:   unit.Kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   issuer,
			Subject:  booking.ID,
			ID:       booking.TicketNonce,
			IssuedAt: jwt.NewNumericDate(*booking.PaidAt),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

func (s Signer) Parse(token string) (Claims, error) {
	var claims Claims

	_, err := jwt.ParseWithClaims(
		token,
		&claims,
		func(*jwt.Token) (any, error) { return s.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %s", entity.ErrTokenInvalid, err.Error())
	}
	if claims.Subject == "" || claims.ID == "" {
		return Claims{}, fmt.Errorf("%w: incomplete claims", entity.ErrTokenInvalid)
	}

	return claims, nil
}
