package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/meshdrift/meshdrift/internal/tenant"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

type requestBodyTooLargeError struct {
	Limit int64
}

func (e *requestBodyTooLargeError) Error() string {
	return fmt.Sprintf("request body too large (max %d bytes)", e.Limit)
}

// DecodeBody decodes the JSON request body into v, rejecting unknown fields.
func DecodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return fmt.Errorf("request body is required")
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return &requestBodyTooLargeError{Limit: maxErr.Limit}
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return &requestBodyTooLargeError{Limit: maxErr.Limit}
		}
		return fmt.Errorf("invalid request body: must contain a single JSON value")
	}
	return nil
}

// ParseLimit reads an optional limit query parameter.
func ParseLimit(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit: must be a positive integer")
	}
	if n > maxListLimit {
		return 0, fmt.Errorf("limit: must be <= %d", maxListLimit)
	}
	return n, nil
}

// TenantContext builds the tenant context for a request from the
// {tenant} path parameter, carrying the request ID for observability.
func TenantContext(r *http.Request) (tenant.Context, error) {
	id := r.PathValue("tenant")
	if id == "" {
		return tenant.Context{}, fmt.Errorf("tenant path parameter is required")
	}
	tctx := tenant.For(id)
	tctx.RequestID = r.Header.Get("X-Request-Id")
	tctx.UserID = r.Header.Get("X-User-Id")
	return tctx, nil
}
