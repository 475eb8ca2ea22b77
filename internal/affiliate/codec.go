// Package affiliate captures referral attribution from the browsing session
// and carries it to checkout in a signed cookie.
package affiliate

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hexacloud/storefront/internal/order"
)

// CookieName is the attribution cookie set on referred visits.
const CookieName = "aff_ref"

// DefaultTTL is how long an attribution survives without a new visit.
const DefaultTTL = 30 * 24 * time.Hour

// DefaultLeeway for token time validation.
const DefaultLeeway = 30 * time.Second

// ErrInvalidToken is returned when cookie validation fails.
var ErrInvalidToken = errors.New("invalid attribution token")

// ErrEmptyAffiliateID is returned when the affiliate ID is empty.
var ErrEmptyAffiliateID = errors.New("affiliate ID cannot be empty")

// Claims are the signed attribution cookie claims.
type Claims struct {
	jwt.RegisteredClaims
	AffiliateID   string `json:"aff_id"`
	AffiliateCode string `json:"aff_code,omitempty"`
}

// Codec signs and verifies attribution cookies with an HS256 secret.
type Codec struct {
	secret []byte
	ttl    time.Duration
	leeway time.Duration
}

// NewCodec creates a Codec with the default TTL.
func NewCodec(secret string) *Codec {
	return &Codec{
		secret: []byte(secret),
		ttl:    DefaultTTL,
		leeway: DefaultLeeway,
	}
}

// NewCodecWithTTL creates a Codec with a custom attribution lifetime.
func NewCodecWithTTL(secret string, ttl time.Duration) *Codec {
	return &Codec{
		secret: []byte(secret),
		ttl:    ttl,
		leeway: DefaultLeeway,
	}
}

// TTL returns the attribution lifetime, used for the cookie max-age.
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Encode signs an attribution into a cookie value.
func (c *Codec) Encode(attr order.Attribution) (string, error) {
	if attr.AffiliateID == "" {
		return "", ErrEmptyAffiliateID
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
		AffiliateID:   attr.AffiliateID,
		AffiliateCode: attr.AffiliateCode,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.secret)
}

// Decode verifies a cookie value and returns the attribution it carries.
func (c *Codec) Decode(value string) (*order.Attribution, error) {
	token, err := jwt.ParseWithClaims(value, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, ErrInvalidToken
		}
		return c.secret, nil
	}, jwt.WithLeeway(c.leeway))
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.AffiliateID == "" {
		return nil, ErrInvalidToken
	}
	return &order.Attribution{
		AffiliateID:   claims.AffiliateID,
		AffiliateCode: claims.AffiliateCode,
	}, nil
}
