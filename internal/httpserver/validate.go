package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/rbeam/rbeam/internal/apierror"
)

// validate is a package-level, concurrency-safe validator instance.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Decode reads a JSON request body into dst. It enforces a max body
// size and rejects trailing data.
func Decode(r *http.Request, dst any) error {
	const maxBody = 1 << 20 // 1 MiB

	body := http.MaxBytesReader(nil, r.Body, maxBody)
	defer body.Close()

	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxBytesErr):
			return apierror.New(apierror.TooLong)
		case errors.Is(err, io.EOF):
			return apierror.Newf(apierror.ValueError, "request body is empty")
		default:
			return apierror.Newf(apierror.ValueError, "invalid JSON: %v", err)
		}
	}

	if dec.More() {
		return apierror.Newf(apierror.ValueError, "request body must contain a single JSON object")
	}

	return nil
}

// DecodeAndValidate decodes a JSON body and runs struct-tag validation.
// On failure it writes the failure envelope and returns false.
func DecodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := Decode(r, dst); err != nil {
		RespondError(w, err)
		return false
	}

	if err := validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			fe := ve[0]
			RespondError(w, apierror.Newf(apierror.ValueError,
				"field %s failed on '%s' validation", fe.Field(), fe.Tag()))
			return false
		}
		RespondError(w, apierror.Wrap(apierror.ValueError, err))
		return false
	}

	return true
}

// ClientIP returns the request's client IP as named by header, or the
// empty string when header is unset. Bans are inapplicable without a
// configured real-IP header.
func ClientIP(r *http.Request, header string) string {
	if header == "" {
		return ""
	}
	return r.Header.Get(header)
}
