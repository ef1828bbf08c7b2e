package storage

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DefaultUploadTTL bounds how long an issued upload URL stays usable.
	DefaultUploadTTL = 15 * time.Minute

	uploadAudience = "blob-upload"
	uploadPrefix   = "uploads/"
	objectsPrefix  = "/objects/"
	blobPrefix     = "/blob/"
)

var ErrInvalidUploadToken = errors.New("invalid upload token")

// UploadURL is handed to a client that wants to upload a receipt.
type UploadURL struct {
	Method     string `json:"method"`
	URL        string `json:"url"`
	ObjectPath string `json:"objectPath"`
}

type uploadClaims struct {
	jwt.RegisteredClaims
}

// Mediator issues upload URLs signed for a single object.
type Mediator struct {
	secret  []byte
	baseURL string
	ttl     time.Duration
	now     func() time.Time
}

func NewMediator(secret []byte, publicBaseURL string, ttl time.Duration) *Mediator {
	if ttl <= 0 {
		ttl = DefaultUploadTTL
	}
	return &Mediator{
		secret:  secret,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
		ttl:     ttl,
		now:     time.Now,
	}
}

// IssueUploadURL reserves a fresh object name and returns a PUT URL for it.
func (m *Mediator) IssueUploadURL(_ context.Context) (*UploadURL, error) {
	name := uploadPrefix + uuid.NewString()

	now := m.now()
	claims := uploadClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   name,
		Audience:  jwt.ClaimStrings{uploadAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(m.baseURL + blobPrefix + name)
	if err != nil {
		return nil, err
	}
	u.RawQuery = url.Values{"token": {signed}}.Encode()

	return &UploadURL{Method: "PUT", URL: u.String(), ObjectPath: objectsPrefix + name}, nil
}

// VerifyUploadToken checks that token was issued for object name and has not expired.
func (m *Mediator) VerifyUploadToken(token, name string) error {
	var claims uploadClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(uploadAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return ErrInvalidUploadToken
	}

	clean, err := CleanName(name)
	if err != nil || claims.Subject != clean {
		return ErrInvalidUploadToken
	}
	return nil
}

// NormalizeObjectPath turns an upload URL or object path into the canonical
// "/objects/<name>" form. Input it cannot interpret is returned unchanged.
func NormalizeObjectPath(raw string) string {
	if strings.HasPrefix(raw, objectsPrefix) {
		return raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	switch {
	case strings.HasPrefix(u.Path, blobPrefix):
		return objectsPrefix + strings.TrimPrefix(u.Path, blobPrefix)
	case strings.HasPrefix(u.Path, objectsPrefix):
		return u.Path
	}
	return raw
}

// ObjectName strips the "/objects/" prefix from a canonical object path.
func ObjectName(objectPath string) (string, bool) {
	if !strings.HasPrefix(objectPath, objectsPrefix) {
		return "", false
	}
	name, err := CleanName(strings.TrimPrefix(objectPath, objectsPrefix))
	return name, err == nil
}
