package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// maxBodyBytes bounds request bodies accepted by DecodeJSON.
const maxBodyBytes = 4 << 20

// DecodeJSON decodes the request body into a new T and validates it. An
// empty body yields the zero T. On failure it writes a 400 response and
// returns false.
func DecodeJSON[T any](w http.ResponseWriter, r *http.Request) (*T, bool) {
	val := new(T)
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(val); err != nil && !errors.Is(err, io.EOF) {
		WriteErrors(w, http.StatusBadRequest, ValidationErrors{{
			Field:   "request_body",
			Message: fmt.Sprintf("invalid JSON: %v", err),
		}})
		return nil, false
	}
	if err := Struct(val); err != nil {
		var verrs ValidationErrors
		if errors.As(err, &verrs) {
			WriteErrors(w, http.StatusBadRequest, verrs)
			return nil, false
		}
		WriteErrors(w, http.StatusInternalServerError, ValidationErrors{{
			Field:   "validation",
			Message: "validation failed",
		}})
		return nil, false
	}
	return val, true
}

// WriteErrors writes errs as a JSON body with the given status.
func WriteErrors(w http.ResponseWriter, statusCode int, errs ValidationErrors) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	body, err := MarshalValidationErrors(errs)
	if err != nil {
		return
	}
	_, _ = w.Write(body)
}
