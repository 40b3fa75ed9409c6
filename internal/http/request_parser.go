// Package http serves the budget JSON API.
//
// This file holds the helpers shared by handlers for reading query
// parameters and request bodies.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"burnrate/internal/core"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 64 << 10

// parseDateParam reads a YYYY-MM-DD query value as midnight in loc. A
// missing value yields fallback.
func parseDateParam(r *http.Request, name string, loc *time.Location, fallback time.Time) (time.Time, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return fallback, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, v, loc)
	if err != nil {
		return time.Time{}, core.NewValidationError(name, "expected YYYY-MM-DD")
	}
	return t, nil
}

// parseBoolParam reads a boolean query value; a missing value is false.
func parseBoolParam(r *http.Request, name string) (bool, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, core.NewValidationError(name, "expected true or false")
	}
	return b, nil
}

// decodeJSON reads exactly one JSON value into dst, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return core.NewValidationError("body", fmt.Sprintf("larger than %d bytes", maxErr.Limit))
		case errors.Is(err, io.EOF):
			return core.NewValidationError("body", "empty request body")
		default:
			return core.NewValidationError("body", "malformed JSON: "+err.Error())
		}
	}
	if dec.More() {
		return core.NewValidationError("body", "unexpected data after JSON value")
	}
	return nil
}
