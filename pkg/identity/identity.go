// Package identity assigns browser sessions to clusters. A cluster ID lives in
// a signed `cluster` cookie; a missing or tampered cookie gets a new cluster.
package identity

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/dd0wney/cluso-raft/pkg/cluster"
)

// CookieName is the name of the cookie carrying the signed cluster ID
const CookieName = "cluster"

// MinSecretLength is the shortest cookie secret accepted
const MinSecretLength = 32

var (
	ErrShortSecret   = fmt.Errorf("cookie secret must be at least %d characters", MinSecretLength)
	ErrInvalidCookie = errors.New("invalid cluster cookie")
	ErrNoCookie      = errors.New("no cluster cookie")
)

// Options configures the cookie written to clients
type Options struct {
	Domain string        // cookie domain, empty for host-only
	Secure bool          // set outside development
	MaxAge time.Duration // 0 keeps the cookie for the browser session
}

// Issuer signs and verifies cluster cookies
type Issuer struct {
	key  []byte
	opts Options
	now  func() time.Time
}

// NewIssuer creates an issuer whose HS256 key is derived from secret with HKDF
func NewIssuer(secret string, opts Options) (*Issuer, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrShortSecret
	}

	key := make([]byte, sha256.Size)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte("cluso-raft cluster cookie"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive cookie key: %w", err)
	}

	return &Issuer{key: key, opts: opts, now: time.Now}, nil
}

// NewClusterID returns a fresh random cluster ID
func NewClusterID() string {
	return uuid.NewString()
}

// Sign returns the cookie value for clusterID
func (i *Issuer) Sign(clusterID string) (string, error) {
	if err := cluster.ValidateClusterID(clusterID); err != nil {
		return "", err
	}

	now := i.now()
	claims := jwt.RegisteredClaims{
		Subject:  clusterID,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if i.opts.MaxAge > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(i.opts.MaxAge))
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign cookie: %w", err)
	}
	return token, nil
}

// Verify checks a cookie value and returns the cluster ID it carries
func (i *Issuer) Verify(value string) (string, error) {
	if value == "" {
		return "", ErrInvalidCookie
	}

	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(value, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCookie, err)
	}
	if !token.Valid {
		return "", ErrInvalidCookie
	}

	if err := cluster.ValidateClusterID(claims.Subject); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCookie, err)
	}
	return claims.Subject, nil
}

// Resolve returns the cluster ID of the request's cookie. fresh is true when
// the cookie was missing or did not verify and a new cluster was assigned;
// err then says why.
func (i *Issuer) Resolve(r *http.Request) (clusterID string, fresh bool, err error) {
	c, cerr := r.Cookie(CookieName)
	if cerr != nil {
		return NewClusterID(), true, ErrNoCookie
	}

	id, verr := i.Verify(c.Value)
	if verr != nil {
		return NewClusterID(), true, verr
	}
	return id, false, nil
}

// Cookie builds the Set-Cookie for clusterID
func (i *Issuer) Cookie(clusterID string) (*http.Cookie, error) {
	value, err := i.Sign(clusterID)
	if err != nil {
		return nil, err
	}

	c := &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		Domain:   i.opts.Domain,
		HttpOnly: true,
		Secure:   i.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if i.opts.MaxAge > 0 {
		c.MaxAge = int(i.opts.MaxAge / time.Second)
	}
	return c, nil
}
