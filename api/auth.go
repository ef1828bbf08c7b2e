package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/garnizeh/timesheets/internal/apperror"
	"github.com/garnizeh/timesheets/pkg/models"
	"github.com/garnizeh/timesheets/pkg/repository"
)

type AuthHandler struct {
	userRepo      repository.UserRepo
	jwtSecret     string
	tokenDuration time.Duration
}

// NewAuthHandler creates a new AuthHandler with required dependencies.
func NewAuthHandler(ur repository.UserRepo, jwtSecret string, tokenDuration time.Duration) *AuthHandler {
	return &AuthHandler{userRepo: ur, jwtSecret: jwtSecret, tokenDuration: tokenDuration}
}

type signinRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string `json:"token"`
}

// IssueToken signs a bearer token carrying the user's id, role and client.
func IssueToken(secret string, u *models.User, duration time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email:    u.Email,
		Role:     u.Role,
		ClientID: u.ClientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(u.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func (h *AuthHandler) Signin(w http.ResponseWriter, r *http.Request) {
	var req signinRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, r, apperror.InvalidField("email", "email and password are required"))
		return
	}

	ctx := r.Context()

	user, err := h.userRepo.GetUserByEmail(ctx, req.Email)
	if err != nil {
		writeError(w, r, apperror.Internal(err, "load user"))
		return
	}
	if user == nil || user.PasswordHash == "" {
		writeError(w, r, apperror.Unauthorized("credentials not found"))
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		writeError(w, r, apperror.Unauthorized("credentials not found"))
		return
	}

	tokenStr, err := IssueToken(h.jwtSecret, user, h.tokenDuration)
	if err != nil {
		writeError(w, r, apperror.Internal(err, "sign token"))
		return
	}

	writeJSON(w, http.StatusOK, authResponse{Token: tokenStr})
}

// Me returns the authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	s, ok := SubjectFrom(r.Context())
	if !ok {
		writeError(w, r, apperror.Unauthorized("authentication required"))
		return
	}

	user, err := h.userRepo.GetUser(r.Context(), s.UserID)
	if err != nil {
		writeError(w, r, apperror.Internal(err, "load user"))
		return
	}
	if user == nil {
		writeError(w, r, apperror.Unauthorized("user no longer exists"))
		return
	}

	writeJSON(w, http.StatusOK, user)
}
