package api

import (
	"net/http"
	"time"

	"github.com/meshdrift/meshdrift/internal/model"
	"github.com/meshdrift/meshdrift/internal/store"
)

type whitelistRequest struct {
	Source      string     `json:"source"`
	Destination string     `json:"destination"`
	Reason      string     `json:"reason,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// HandleAddWhitelist allow-lists an edge for the tenant.
func HandleAddWhitelist(st *store.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tctx, err := TenantContext(r)
		if err != nil {
			writeInvalidArgument(w, err.Error())
			return
		}

		var req whitelistRequest
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		if req.Source == "" || req.Destination == "" {
			writeInvalidArgument(w, "source and destination are required")
			return
		}

		entry := model.WhitelistEntry{
			Source:      req.Source,
			Destination: req.Destination,
			Reason:      req.Reason,
			CreatedAt:   time.Now().UTC(),
		}
		if req.ExpiresAt != nil {
			entry.ExpiresAt = req.ExpiresAt.UTC()
		}
		if err := st.Whitelist.Upsert(r.Context(), tctx, entry); err != nil {
			writeStoreError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, entry)
	})
}

// HandleListWhitelist returns the tenant's allow-list entries.
func HandleListWhitelist(st *store.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tctx, err := TenantContext(r)
		if err != nil {
			writeInvalidArgument(w, err.Error())
			return
		}

		entries, err := st.Whitelist.List(r.Context(), tctx)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		WriteList(w, http.StatusOK, entries)
	})
}

// HandleRemoveWhitelist drops one allow-list entry.
func HandleRemoveWhitelist(st *store.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tctx, err := TenantContext(r)
		if err != nil {
			writeInvalidArgument(w, err.Error())
			return
		}

		source, destination := r.PathValue("source"), r.PathValue("destination")
		if source == "" || destination == "" {
			writeInvalidArgument(w, "source and destination path parameters are required")
			return
		}
		if err := st.Whitelist.Remove(r.Context(), tctx, source, destination); err != nil {
			writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
