package api

import (
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/garnizeh/timesheets/internal/apperror"
	"github.com/garnizeh/timesheets/internal/audit"
	"github.com/garnizeh/timesheets/internal/policy"
	"github.com/garnizeh/timesheets/internal/validate"
	"github.com/garnizeh/timesheets/pkg/models"
	"github.com/garnizeh/timesheets/pkg/repository"
)

const minPasswordLen = 8

type UserStore interface {
	repository.UserRepo
	repository.SoftDeleter
}

type UsersHandler struct {
	store UserStore
	audit *audit.Recorder
}

func NewUsersHandler(store UserStore, rec *audit.Recorder) *UsersHandler {
	return &UsersHandler{store: store, audit: rec}
}

// userRequest is the writable subset of a user. Nil fields are left unchanged.
type userRequest struct {
	Email    *string      `json:"email"`
	Name     *string      `json:"name"`
	Role     *models.Role `json:"role"`
	ClientID *int64       `json:"clientId"`
	Phone    *string      `json:"phone"`
	Password *string      `json:"password"`
}

func (req userRequest) apply(u *models.User) error {
	if req.Email != nil {
		u.Email = strings.TrimSpace(*req.Email)
	}
	if req.Name != nil {
		u.Name = *req.Name
	}
	if req.Role != nil {
		u.Role = *req.Role
	}
	if req.ClientID != nil {
		u.ClientID = req.ClientID
		if *req.ClientID == 0 {
			u.ClientID = nil
		}
	}
	if req.Phone != nil {
		u.Phone = *req.Phone
	}
	if req.Password != nil {
		hash, err := HashPassword(*req.Password)
		if err != nil {
			return err
		}
		u.PasswordHash = hash
	}
	return nil
}

// HashPassword bcrypt-hashes a password after checking its length.
func HashPassword(pw string) (string, error) {
	if len(pw) < minPasswordLen {
		return "", apperror.InvalidField("password", "must be at least 8 characters long")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		return "", apperror.Internal(err, "hash password")
	}
	return string(hash), nil
}

type userQuery struct {
	listQuery
	Role string `schema:"role"`
}

func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	if _, err := authorize(r, policy.UserManage, policy.Resource{}); err != nil {
		writeError(w, r, err)
		return
	}
	var q userQuery
	if err := decodeQuery(r, &q); err != nil {
		writeError(w, r, err)
		return
	}
	role := models.Role(q.Role)
	if role != "" && !role.Valid() {
		writeError(w, r, apperror.InvalidField("role", "must be one of: driver client admin super_admin"))
		return
	}

	users, err := h.store.ListUsers(r.Context(), role, q.params())
	if err != nil {
		writeError(w, r, apperror.Internal(err, "list users"))
		return
	}
	writeJSON(w, http.StatusOK, nonNil(users))
}

func (h *UsersHandler) Create(w http.ResponseWriter, r *http.Request) {
	s, err := authorize(r, policy.UserManage, policy.Resource{})
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req userRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	var u models.User
	if err := req.apply(&u); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validate.Struct(u); err != nil {
		writeError(w, r, err)
		return
	}
	if u.Role.IsAdmin() && !policy.Allow(s, policy.UserAssignPrivilege, policy.Resource{}) {
		writeError(w, r, apperror.Forbidden("only a super_admin may grant administrative roles"))
		return
	}
	if err := h.emailAvailable(r, u.Email, 0); err != nil {
		writeError(w, r, err)
		return
	}

	id, err := h.store.CreateUser(r.Context(), &u)
	if err != nil {
		writeError(w, r, storeError(err, "create user"))
		return
	}
	record(r, h.audit, "user.create", "user", id, u.Email, map[string]any{"email": u.Email, "role": u.Role, "clientId": u.ClientID})

	created, err := h.load(r, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *UsersHandler) Get(w http.ResponseWriter, r *http.Request) {
	if _, err := authorize(r, policy.UserManage, policy.Resource{}); err != nil {
		writeError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	u, err := h.load(r, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *UsersHandler) Update(w http.ResponseWriter, r *http.Request) {
	s, err := authorize(r, policy.UserManage, policy.Resource{})
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	u, err := h.load(r, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	before := *u

	var req userRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := req.apply(u); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validate.Struct(u); err != nil {
		writeError(w, r, err)
		return
	}
	if (u.Role.IsAdmin() || before.Role.IsAdmin()) && u.Role != before.Role &&
		!policy.Allow(s, policy.UserAssignPrivilege, policy.Resource{}) {
		writeError(w, r, apperror.Forbidden("only a super_admin may change administrative roles"))
		return
	}
	if u.Email != before.Email {
		if err := h.emailAvailable(r, u.Email, id); err != nil {
			writeError(w, r, err)
			return
		}
	}

	if err := h.store.UpdateUser(r.Context(), u); err != nil {
		writeError(w, r, storeError(err, "update user"))
		return
	}
	record(r, h.audit, "user.update", "user", id, u.Email, map[string]any{
		"before":          map[string]any{"email": before.Email, "role": before.Role, "clientId": before.ClientID},
		"after":           map[string]any{"email": u.Email, "role": u.Role, "clientId": u.ClientID},
		"passwordChanged": req.Password != nil,
	})

	writeJSON(w, http.StatusOK, u)
}

func (h *UsersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	s, err := authorize(r, policy.UserManage, policy.Resource{})
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if id == s.UserID {
		writeError(w, r, apperror.InvalidField("id", "cannot delete yourself"))
		return
	}

	u, err := h.load(r, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if u.Role.IsAdmin() && !policy.Allow(s, policy.UserAssignPrivilege, policy.Resource{}) {
		writeError(w, r, apperror.Forbidden("only a super_admin may delete administrators"))
		return
	}
	if err := h.store.SoftDelete(r.Context(), "users", id, s.UserID); err != nil {
		writeError(w, r, err)
		return
	}
	record(r, h.audit, "user.delete", "user", id, u.Email, nil)

	w.WriteHeader(http.StatusNoContent)
}

// emailAvailable checks email against every user, deleted ones included,
// since addresses stay unique across soft deletes.
func (h *UsersHandler) emailAvailable(r *http.Request, email string, self int64) error {
	existing, err := h.store.FindUserByEmail(r.Context(), email)
	if err != nil {
		return apperror.Internal(err, "check email")
	}
	switch {
	case existing == nil || existing.ID == self:
		return nil
	case existing.IsDeleted():
		return apperror.InvalidField("email", "is already in use by a deleted user; restore it instead")
	default:
		return apperror.InvalidField("email", "is already in use")
	}
}

// storeError maps a failed user write, reporting an email collision that
// slipped past emailAvailable as invalid input.
func storeError(err error, op string) error {
	if errors.Is(err, repository.ErrDuplicate) {
		return apperror.InvalidField("email", "is already in use")
	}
	return apperror.Internal(err, op)
}

func (h *UsersHandler) load(r *http.Request, id int64) (*models.User, error) {
	u, err := h.store.GetUser(r.Context(), id)
	if err != nil {
		return nil, apperror.Internal(err, "load user")
	}
	if u == nil {
		return nil, apperror.NotFound("user", id)
	}
	return u, nil
}
