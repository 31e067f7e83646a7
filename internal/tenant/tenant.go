// Package tenant defines the identity context threaded through every core
// operation. Every persisted entity is scoped to a tenant; the context is
// how callers prove which one.
package tenant

import "fmt"

// Context identifies the tenant an operation acts on. A nil ID is only
// meaningful together with SuperAdmin on read paths; writes always require
// a concrete tenant. UserID and RequestID exist for log correlation only —
// no core code branches on them.
type Context struct {
	ID         *string
	SuperAdmin bool
	UserID     string
	RequestID  string
}

// For builds a context scoped to the given tenant.
func For(tenantID string) Context {
	return Context{ID: &tenantID}
}

// Admin builds an unscoped super-admin context, valid on read paths only.
func Admin() Context {
	return Context{SuperAdmin: true}
}

// WriteTenant returns the tenant ID for a write operation. Absent or empty
// tenant IDs are rejected regardless of super-admin status.
func (c Context) WriteTenant() (string, error) {
	if c.ID == nil || *c.ID == "" {
		return "", fmt.Errorf("write requires a concrete tenant: %w", ErrMissingTenant)
	}
	return *c.ID, nil
}

// ReadTenant returns the tenant ID for a read operation, or ("", true) for
// a super-admin read across all tenants. A missing tenant without the
// super-admin flag is rejected so that scoped reads can never widen by
// accident.
func (c Context) ReadTenant() (id string, all bool, err error) {
	if c.ID != nil && *c.ID != "" {
		return *c.ID, false, nil
	}
	if c.SuperAdmin {
		return "", true, nil
	}
	return "", false, fmt.Errorf("read requires a tenant or super-admin: %w", ErrMissingTenant)
}

// ErrMissingTenant marks operations attempted without a usable tenant.
var ErrMissingTenant = fmt.Errorf("missing tenant")
