package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/schema"

	"github.com/garnizeh/timesheets/internal/apperror"
	"github.com/garnizeh/timesheets/pkg/repository"
)

const maxBodyBytes = 1 << 20

var queryDecoder = func() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}()

type errorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encode response", slog.Any("err", err))
	}
}

// writeError maps err onto a status code and JSON body. Internal failures
// are logged and reported without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		err = &apperror.Error{Kind: apperror.KindNotFound, Message: "not found", Err: err}
	case errors.Is(err, repository.ErrUnknownKind):
		err = &apperror.Error{Kind: apperror.KindInvalidInput, Message: "unknown entity", Err: err}
	}

	var ae *apperror.Error
	if !errors.As(err, &ae) {
		ae = apperror.Internal(err, "unclassified error")
	}

	if ae.Kind == apperror.KindInternal {
		logger.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("op", ae.Message),
			slog.Any("err", ae.Err),
		)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: string(apperror.KindInternal), Message: "internal error"})
		return
	}

	writeJSON(w, ae.HTTPStatus(), errorResponse{Error: string(ae.Kind), Message: ae.Message, Fields: ae.Fields})
}

// decodeJSON decodes the request body into dst, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperror.InvalidField("body", jsonErrorMessage(err))
	}
	return nil
}

func jsonErrorMessage(err error) string {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		maxErr    *http.MaxBytesError
	)
	switch {
	case errors.As(err, &typeErr):
		return "field " + typeErr.Field + " has the wrong type"
	case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
		return "malformed JSON"
	case errors.Is(err, io.EOF):
		return "request body is empty"
	case errors.As(err, &maxErr):
		return "request body is too large"
	default:
		return err.Error()
	}
}

// readBody returns the raw request body, bounded by maxBodyBytes.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, apperror.InvalidField("body", jsonErrorMessage(err))
	}
	return b, nil
}

func decodeQuery(r *http.Request, dst any) error {
	if err := queryDecoder.Decode(dst, r.URL.Query()); err != nil {
		return apperror.InvalidField("query", err.Error())
	}
	return nil
}

// pathID parses the named mux variable as a positive id.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.InvalidField(name, "must be a positive integer")
	}
	return id, nil
}

// listQuery is embedded by every list endpoint's query struct.
type listQuery struct {
	Limit  int `schema:"limit"`
	Offset int `schema:"offset"`
}

func (q listQuery) params() repository.ListParams {
	return repository.ListParams{Limit: q.Limit, Offset: q.Offset}
}

// nonNil keeps empty lists encoding as [] instead of null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
