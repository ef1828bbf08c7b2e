package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/garnizeh/timesheets/internal/apperror"
	"github.com/garnizeh/timesheets/internal/policy"
	"github.com/garnizeh/timesheets/internal/storage"
	"github.com/garnizeh/timesheets/pkg/models"
	"github.com/garnizeh/timesheets/pkg/repository"
)

// ObjectsHandler mediates receipt uploads and downloads.
type ObjectsHandler struct {
	mediator   *storage.Mediator
	blobs      *storage.BlobStore
	timesheets repository.TimesheetRepo
	maxBytes   int64
}

func NewObjectsHandler(m *storage.Mediator, blobs *storage.BlobStore, ts repository.TimesheetRepo, maxBytes int64) *ObjectsHandler {
	return &ObjectsHandler{mediator: m, blobs: blobs, timesheets: ts, maxBytes: maxBytes}
}

// UploadURL issues a short-lived PUT URL for a new object.
func (h *ObjectsHandler) UploadURL(w http.ResponseWriter, r *http.Request) {
	if _, err := authorize(r, policy.ObjectUpload, policy.Resource{}); err != nil {
		writeError(w, r, err)
		return
	}

	up, err := h.mediator.IssueUploadURL(r.Context())
	if err != nil {
		writeError(w, r, apperror.Internal(err, "issue upload url"))
		return
	}
	writeJSON(w, http.StatusOK, up)
}

// Put stores the request body under the object named in the path. It is
// public and authorized only by the signed token in the query string.
func (h *ObjectsHandler) Put(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["objectPath"]
	if err := h.mediator.VerifyUploadToken(r.URL.Query().Get("token"), name); err != nil {
		writeError(w, r, apperror.Unauthorized("invalid or expired upload token"))
		return
	}
	if r.ContentLength > h.maxBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: string(apperror.KindInvalidInput), Message: "object exceeds size limit"})
		return
	}

	err := h.blobs.Put(r.Context(), name, r.Body, h.maxBytes)
	switch {
	case errors.Is(err, storage.ErrTooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: string(apperror.KindInvalidInput), Message: "object exceeds size limit"})
		return
	case errors.Is(err, storage.ErrInvalidName):
		writeError(w, r, apperror.InvalidField("objectPath", "invalid object name"))
		return
	case err != nil:
		writeError(w, r, apperror.Internal(err, "store object"))
		return
	}

	logger.Info("object stored", slog.String("object", name))
	w.WriteHeader(http.StatusNoContent)
}

// Get streams a stored object to an admin or to the driver whose timesheet
// carries it as a receipt. Anyone else is told it does not exist.
func (h *ObjectsHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, ok := SubjectFrom(r.Context())
	if !ok {
		writeError(w, r, apperror.Unauthorized("authentication required"))
		return
	}
	name := mux.Vars(r)["objectPath"]

	if !policy.Allow(s, policy.ObjectRead, policy.Resource{}) {
		owners, err := h.timesheets.TimesheetsWithReceipt(r.Context(), objectPrefix+name)
		if err != nil {
			writeError(w, r, apperror.Internal(err, "look up receipt owner"))
			return
		}
		if !anyAllowed(s, policy.ObjectRead, owners) {
			writeError(w, r, apperror.NotFound("object", name))
			return
		}
	}

	rc, size, err := h.blobs.Open(name)
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrInvalidName):
		writeError(w, r, apperror.NotFound("object", name))
		return
	case err != nil:
		writeError(w, r, apperror.Internal(err, "open object"))
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		logger.Warn("stream object", slog.Any("err", err))
	}
}

const objectPrefix = "/objects/"

func anyAllowed(s policy.Subject, a policy.Action, timesheets []models.Timesheet) bool {
	for _, t := range timesheets {
		if policy.Allow(s, a, policy.Resource{OwnerID: t.UserID}) {
			return true
		}
	}
	return false
}

type receiptRequest struct {
	ReceiptURL  string `json:"receiptURL"`
	TimesheetID int64  `json:"timesheetId,omitempty"`
}

type receiptResponse struct {
	ObjectPath string `json:"objectPath"`
}

// AttachReceipt normalizes an uploaded receipt URL and, when a timesheet is
// named, appends the object path to its receipts.
func (h *ObjectsHandler) AttachReceipt(w http.ResponseWriter, r *http.Request) {
	s, ok := SubjectFrom(r.Context())
	if !ok {
		writeError(w, r, apperror.Unauthorized("authentication required"))
		return
	}

	var req receiptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.ReceiptURL == "" {
		writeError(w, r, apperror.InvalidField("receiptURL", "is required"))
		return
	}

	objectPath := storage.NormalizeObjectPath(req.ReceiptURL)
	if req.TimesheetID == 0 {
		writeJSON(w, http.StatusOK, receiptResponse{ObjectPath: objectPath})
		return
	}

	if _, ok := storage.ObjectName(objectPath); !ok {
		writeError(w, r, apperror.InvalidField("receiptURL", "must reference an uploaded object"))
		return
	}

	t, err := h.timesheets.GetTimesheet(r.Context(), req.TimesheetID)
	if err != nil {
		writeError(w, r, apperror.Internal(err, "load timesheet"))
		return
	}
	if t == nil {
		writeError(w, r, apperror.NotFound("timesheet", req.TimesheetID))
		return
	}
	if !policy.Allow(s, policy.ReceiptAttach, policy.Resource{OwnerID: t.UserID}) {
		writeError(w, r, apperror.Forbidden("not allowed to attach receipts to this timesheet"))
		return
	}

	// attaching someone else's receipt would grant read access to it
	holders, err := h.timesheets.TimesheetsWithReceipt(r.Context(), objectPath)
	if err != nil {
		writeError(w, r, apperror.Internal(err, "look up receipt owner"))
		return
	}
	if len(holders) > 0 && !anyAllowed(s, policy.ReceiptAttach, holders) {
		writeError(w, r, apperror.Forbidden("receipt belongs to another timesheet"))
		return
	}

	if err := h.timesheets.AddReceipt(r.Context(), t.ID, objectPath); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receiptResponse{ObjectPath: objectPath})
}
