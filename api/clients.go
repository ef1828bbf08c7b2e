package api

import (
	"net/http"

	"github.com/garnizeh/timesheets/internal/apperror"
	"github.com/garnizeh/timesheets/internal/audit"
	"github.com/garnizeh/timesheets/internal/policy"
	"github.com/garnizeh/timesheets/internal/validate"
	"github.com/garnizeh/timesheets/pkg/models"
	"github.com/garnizeh/timesheets/pkg/repository"
)

// ClientStore is what the client endpoints need from persistence.
type ClientStore interface {
	repository.ClientRepo
	repository.ContactRepo
	repository.SoftDeleter
}

type ClientsHandler struct {
	store ClientStore
	audit *audit.Recorder
}

func NewClientsHandler(store ClientStore, rec *audit.Recorder) *ClientsHandler {
	return &ClientsHandler{store: store, audit: rec}
}

func (h *ClientsHandler) List(w http.ResponseWriter, r *http.Request) {
	if _, err := authorize(r, policy.ClientManage, policy.Resource{}); err != nil {
		writeError(w, r, err)
		return
	}
	var q listQuery
	if err := decodeQuery(r, &q); err != nil {
		writeError(w, r, err)
		return
	}

	clients, err := h.store.ListClients(r.Context(), q.params())
	if err != nil {
		writeError(w, r, apperror.Internal(err, "list clients"))
		return
	}
	writeJSON(w, http.StatusOK, nonNil(clients))
}

// clientCreateRequest tells an explicit zero minimumHours apart from an
// absent one.
type clientCreateRequest struct {
	models.Client
	MinimumHours *float64 `json:"minimumHours"`
}

func (h *ClientsHandler) Create(w http.ResponseWriter, r *http.Request) {
	if _, err := authorize(r, policy.ClientManage, policy.Resource{}); err != nil {
		writeError(w, r, err)
		return
	}

	var req clientCreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c := req.Client
	c.ID, c.SoftDelete = 0, models.SoftDelete{}
	c.MinimumHours = models.DefaultMinimumHours
	if req.MinimumHours != nil {
		c.MinimumHours = *req.MinimumHours
	}
	if err := validate.Struct(c); err != nil {
		writeError(w, r, err)
		return
	}

	id, err := h.store.CreateClient(r.Context(), &c)
	if err != nil {
		writeError(w, r, apperror.Internal(err, "create client"))
		return
	}
	record(r, h.audit, "client.create", "client", id, c.CompanyName, c)

	h.respondClient(w, r, id, http.StatusCreated)
}

func (h *ClientsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if _, err := authorize(r, policy.ClientManage, policy.Resource{}); err != nil {
		writeError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.respondClient(w, r, id, http.StatusOK)
}

func (h *ClientsHandler) Update(w http.ResponseWriter, r *http.Request) {
	if _, err := authorize(r, policy.ClientManage, policy.Resource{}); err != nil {
		writeError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.load(r, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	before := *c

	if err := decodeJSON(w, r, c); err != nil {
		writeError(w, r, err)
		return
	}
	c.ID, c.Created, c.SoftDelete = before.ID, before.Created, before.SoftDelete
	if err := validate.Struct(c); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.store.UpdateClient(r.Context(), c); err != nil {
		writeError(w, r, apperror.Internal(err, "update client"))
		return
	}
	record(r, h.audit, "client.update", "client", id, c.CompanyName, map[string]any{"before": before, "after": c})

	writeJSON(w, http.StatusOK, c)
}

func (h *ClientsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	s, err := authorize(r, policy.ClientManage, policy.Resource{})
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.load(r, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.store.SoftDelete(r.Context(), "clients", id, s.UserID); err != nil {
		writeError(w, r, err)
		return
	}
	record(r, h.audit, "client.delete", "client", id, c.CompanyName, nil)

	w.WriteHeader(http.StatusNoContent)
}

func (h *ClientsHandler) load(r *http.Request, id int64) (*models.Client, error) {
	c, err := h.store.GetClient(r.Context(), id)
	if err != nil {
		return nil, apperror.Internal(err, "load client")
	}
	if c == nil {
		return nil, apperror.NotFound("client", id)
	}
	return c, nil
}

func (h *ClientsHandler) respondClient(w http.ResponseWriter, r *http.Request, id int64, status int) {
	c, err := h.load(r, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, status, c)
}

// contacts

type contactRequest struct {
	Name      *string `json:"name"`
	Email     *string `json:"email"`
	Phone     *string `json:"phone"`
	IsPrimary *bool   `json:"isPrimary"`
}

func (req contactRequest) apply(c *models.ClientContact) {
	if req.Name != nil {
		c.Name = *req.Name
	}
	if req.Email != nil {
		c.Email = *req.Email
	}
	if req.Phone != nil {
		c.Phone = *req.Phone
	}
}

func (h *ClientsHandler) ListContacts(w http.ResponseWriter, r *http.Request) {
	if _, err := authorize(r, policy.ContactManage, policy.Resource{}); err != nil {
		writeError(w, r, err)
		return
	}
	clientID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.load(r, clientID); err != nil {
		writeError(w, r, err)
		return
	}

	contacts, err := h.store.ListContacts(r.Context(), clientID)
	if err != nil {
		writeError(w, r, apperror.Internal(err, "list contacts"))
		return
	}
	writeJSON(w, http.StatusOK, nonNil(contacts))
}

func (h *ClientsHandler) CreateContact(w http.ResponseWriter, r *http.Request) {
	if _, err := authorize(r, policy.ContactManage, policy.Resource{}); err != nil {
		writeError(w, r, err)
		return
	}
	clientID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	client, err := h.load(r, clientID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req contactRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c := models.ClientContact{ClientID: clientID}
	req.apply(&c)
	if req.IsPrimary != nil {
		c.IsPrimary = *req.IsPrimary
	}
	if err := validate.Struct(c); err != nil {
		writeError(w, r, err)
		return
	}

	id, err := h.store.CreateContact(r.Context(), &c)
	if err != nil {
		writeError(w, r, apperror.Internal(err, "create contact"))
		return
	}
	c.ID = id
	record(r, h.audit, "contact.create", "client", clientID, client.CompanyName, c)

	writeJSON(w, http.StatusCreated, c)
}

func (h *ClientsHandler) UpdateContact(w http.ResponseWriter, r *http.Request) {
	if _, err := authorize(r, policy.ContactManage, policy.Resource{}); err != nil {
		writeError(w, r, err)
		return
	}
	clientID, contactID, err := contactIDs(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.loadContact(r, clientID, contactID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req contactRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.IsPrimary != nil && *req.IsPrimary != c.IsPrimary {
		writeError(w, r, apperror.InvalidField("isPrimary", "use the primary endpoint to change the primary contact"))
		return
	}
	req.apply(c)
	if err := validate.Struct(c); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.store.UpdateContact(r.Context(), c); err != nil {
		writeError(w, r, apperror.Internal(err, "update contact"))
		return
	}
	record(r, h.audit, "contact.update", "client_contact", c.ID, c.Name, c)

	writeJSON(w, http.StatusOK, c)
}

func (h *ClientsHandler) DeleteContact(w http.ResponseWriter, r *http.Request) {
	if _, err := authorize(r, policy.ContactManage, policy.Resource{}); err != nil {
		writeError(w, r, err)
		return
	}
	clientID, contactID, err := contactIDs(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.loadContact(r, clientID, contactID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.store.DeleteContact(r.Context(), clientID, contactID); err != nil {
		writeError(w, r, err)
		return
	}
	record(r, h.audit, "contact.delete", "client_contact", contactID, c.Name, nil)

	w.WriteHeader(http.StatusNoContent)
}

// SetPrimary makes the contact the client's only primary contact.
func (h *ClientsHandler) SetPrimary(w http.ResponseWriter, r *http.Request) {
	if _, err := authorize(r, policy.ContactManage, policy.Resource{}); err != nil {
		writeError(w, r, err)
		return
	}
	clientID, contactID, err := contactIDs(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.store.SetPrimary(r.Context(), clientID, contactID); err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.loadContact(r, clientID, contactID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	record(r, h.audit, "contact.set_primary", "client_contact", contactID, c.Name, nil)

	writeJSON(w, http.StatusOK, c)
}

func (h *ClientsHandler) loadContact(r *http.Request, clientID, contactID int64) (*models.ClientContact, error) {
	c, err := h.store.GetContact(r.Context(), clientID, contactID)
	if err != nil {
		return nil, apperror.Internal(err, "load contact")
	}
	if c == nil {
		return nil, apperror.NotFound("contact", contactID)
	}
	return c, nil
}

func contactIDs(r *http.Request) (int64, int64, error) {
	clientID, err := pathID(r, "id")
	if err != nil {
		return 0, 0, err
	}
	contactID, err := pathID(r, "contactId")
	if err != nil {
		return 0, 0, err
	}
	return clientID, contactID, nil
}
