package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidCredential = errors.New("invalid credential")
	ErrRevoked           = errors.New("credential revoked")
)

// Verifier resolves a bearer credential to the principal it was issued for.
type Verifier interface {
	Verify(ctx context.Context, credential string) (string, error)
}

// RevocationChecker reports whether a token id was revoked by logout.
type RevocationChecker interface {
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// Claims are the registered claims carried by every token we issue.
// Subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
}

type JWTVerifier struct {
	secret   []byte
	revoked  RevocationChecker
	issuer   string
	timeFunc func() time.Time
}

// NewJWTVerifier validates HMAC-signed tokens. revoked may be nil, in which case
// revocation is not checked.
func NewJWTVerifier(secret, issuer string, revoked RevocationChecker) *JWTVerifier {
	return &JWTVerifier{
		secret:   []byte(secret),
		revoked:  revoked,
		issuer:   issuer,
		timeFunc: time.Now,
	}
}

func (v *JWTVerifier) Verify(ctx context.Context, credential string) (string, error) {
	claims, err := v.Parse(ctx, credential)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// Parse validates the credential and returns its claims.
func (v *JWTVerifier) Parse(ctx context.Context, credential string) (*Claims, error) {
	credential = strings.TrimSpace(strings.TrimPrefix(credential, "Bearer "))
	if credential == "" {
		return nil, ErrInvalidCredential
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.timeFunc),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(credential, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidCredential)
	}

	if v.revoked != nil && claims.ID != "" {
		revoked, err := v.revoked.IsTokenRevoked(ctx, claims.ID)
		if err != nil {
			return nil, fmt.Errorf("check revocation: %w", err)
		}
		if revoked {
			return nil, ErrRevoked
		}
	}
	return claims, nil
}

// Issuer mints signed tokens at login.
type Issuer struct {
	secret   []byte
	issuer   string
	ttl      time.Duration
	timeFunc func() time.Time
}

func NewIssuer(secret, issuer string, ttl time.Duration) *Issuer {
	return &Issuer{
		secret:   []byte(secret),
		issuer:   issuer,
		ttl:      ttl,
		timeFunc: time.Now,
	}
}

func (i *Issuer) Issue(userID string) (string, *Claims, error) {
	if userID == "" {
		return "", nil, fmt.Errorf("%w: empty subject", ErrInvalidCredential)
	}
	now := i.timeFunc()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}
