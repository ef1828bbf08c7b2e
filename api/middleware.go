package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"

	"github.com/garnizeh/timesheets/internal/apperror"
	"github.com/garnizeh/timesheets/internal/audit"
	"github.com/garnizeh/timesheets/internal/policy"
	"github.com/garnizeh/timesheets/pkg/models"
)

type ctxKey string

const ctxClaims ctxKey = "claims"

// package-level logger used by middleware and helpers; can be set via SetLogger from caller
var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// SetLogger installs a logger for the api package. Passing nil is a no-op.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

// Claims is the bearer token payload. Subject holds the user id.
type Claims struct {
	Email    string      `json:"email"`
	Role     models.Role `json:"role"`
	ClientID *int64      `json:"client_id,omitempty"`
	jwt.RegisteredClaims
}

// Subject converts the claims into a policy subject.
func (c *Claims) Subject() (policy.Subject, error) {
	id, err := strconv.ParseInt(c.RegisteredClaims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return policy.Subject{}, fmt.Errorf("invalid subject %q", c.RegisteredClaims.Subject)
	}
	return policy.Subject{UserID: id, Role: c.Role, ClientID: c.ClientID}, nil
}

// ClaimsFrom returns the verified token claims stored by the JWT middleware.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(ctxClaims).(*Claims)
	return c, ok
}

// WithClaims stores claims in ctx the way the JWT middleware does.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, ctxClaims, c)
}

// SubjectFrom returns the authenticated caller.
func SubjectFrom(ctx context.Context) (policy.Subject, bool) {
	c, ok := ClaimsFrom(ctx)
	if !ok {
		return policy.Subject{}, false
	}
	s, err := c.Subject()
	return s, err == nil
}

// effectiveSubject applies ?asClientId= impersonation to the caller.
func effectiveSubject(r *http.Request) (policy.Subject, error) {
	s, ok := SubjectFrom(r.Context())
	if !ok {
		return policy.Subject{}, apperror.Unauthorized("authentication required")
	}

	raw := r.URL.Query().Get("asClientId")
	if raw == "" {
		return s, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return policy.Subject{}, apperror.InvalidField("asClientId", "must be a positive integer")
	}
	return policy.Impersonate(s, id), nil
}

// actorFrom builds the audit actor for the authenticated caller.
func actorFrom(ctx context.Context) audit.Actor {
	c, ok := ClaimsFrom(ctx)
	if !ok {
		return audit.Actor{}
	}
	id, _ := strconv.ParseInt(c.RegisteredClaims.Subject, 10, 64)
	return audit.Actor{ID: id, Label: c.Email}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote", r.RemoteAddr),
			slog.Int("status", rec.status),
			slog.Int("bytes", rec.bytes),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic", slog.Any("err", err), slog.String("path", r.URL.Path))
				writeJSON(w, http.StatusInternalServerError, errorResponse{Error: string(apperror.KindInternal), Message: "internal error"})
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// RequestMetaMiddleware records the caller's address and user agent for audit entries.
func RequestMetaMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := audit.WithRequestMeta(r.Context(), clientIP(r), r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func JWTAuthMiddlewareWithSecret(secret string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, r, apperror.Unauthorized("missing Authorization header"))
				return
			}

			tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
			tokenString = strings.TrimSpace(tokenString)
			if !ok || tokenString == "" {
				writeError(w, r, apperror.Unauthorized("invalid Authorization header"))
				return
			}

			var claims Claims
			token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}

				return []byte(secret), nil
			}, jwt.WithExpirationRequired())
			if err != nil || !token.Valid {
				writeError(w, r, apperror.Unauthorized("invalid or expired token"))
				return
			}

			if _, err := claims.Subject(); err != nil || !claims.Role.Valid() {
				writeError(w, r, apperror.Unauthorized("invalid token claims"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), &claims)))
		})
	}
}
