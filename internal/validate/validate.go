// Package validate turns struct-tag and JSON-schema validation failures into
// field-level InvalidInput errors.
package validate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/qri-io/jsonschema"

	"github.com/garnizeh/timesheets/internal/apperror"
)

var (
	once sync.Once
	v    *validator.Validate
)

func instance() *validator.Validate {
	once.Do(func() {
		v = validator.New(validator.WithRequiredStructEnabled())
		// report json names so field errors match the wire format
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return fld.Name
			}
			return name
		})
	})
	return v
}

// Struct validates s against its `validate` tags.
func Struct(s any) error {
	err := instance().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperror.Internal(err, "validate struct")
	}

	fields := make(map[string]string, len(verrs))
	for _, e := range verrs {
		fields[fieldPath(e.Namespace())] = message(e)
	}

	return apperror.Invalid(fields)
}

// fieldPath drops the top-level struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func message(e validator.FieldError) string {
	switch e.Tag() {
	case "required", "required_if":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "oneof":
		return "must be one of: " + e.Param()
	case "datetime":
		return "must match format " + e.Param()
	case "max":
		if e.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters long", e.Param())
		}
		return "must be at most " + e.Param()
	case "min":
		if e.Kind() == reflect.String {
			return fmt.Sprintf("must be at least %s characters long", e.Param())
		}
		return "must be at least " + e.Param()
	case "gte":
		return "must be greater than or equal to " + e.Param()
	case "lte":
		return "must be less than or equal to " + e.Param()
	default:
		return "is invalid"
	}
}

// Schema is a compiled JSON schema for request payloads.
type Schema struct {
	name string
	rs   *jsonschema.Schema
}

// MustCompile compiles a JSON schema document or panics. Intended for
// package-level schema variables.
func MustCompile(name, doc string) *Schema {
	rs := &jsonschema.Schema{}
	if err := json.Unmarshal([]byte(doc), rs); err != nil {
		panic(fmt.Sprintf("compile schema %s: %v", name, err))
	}
	return &Schema{name: name, rs: rs}
}

// Validate checks a raw JSON payload against the schema.
func (s *Schema) Validate(ctx context.Context, payload []byte) error {
	if !json.Valid(payload) {
		return apperror.InvalidField("body", "must be a valid JSON object")
	}

	kerrs, err := s.rs.ValidateBytes(ctx, payload)
	if err != nil {
		return apperror.InvalidField("body", err.Error())
	}
	if len(kerrs) == 0 {
		return nil
	}

	fields := make(map[string]string, len(kerrs))
	for _, ke := range kerrs {
		field := keyField(ke)
		if _, seen := fields[field]; !seen {
			fields[field] = ke.Message
		}
	}

	return apperror.Invalid(fields)
}

// keyField extracts the offending property. Required-property errors are
// reported on the parent path with the property name quoted in the message.
func keyField(ke jsonschema.KeyError) string {
	p := strings.Trim(ke.PropertyPath, "/")
	if p != "" {
		return strings.ReplaceAll(p, "/", ".")
	}
	if strings.HasPrefix(ke.Message, `"`) {
		if end := strings.Index(ke.Message[1:], `"`); end > 0 {
			return ke.Message[1 : end+1]
		}
	}
	return "body"
}
