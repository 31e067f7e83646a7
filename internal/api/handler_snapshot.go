package api

import (
	"net/http"

	"github.com/meshdrift/meshdrift/internal/store"
)

// HandleListSnapshots returns snapshot summaries for a tenant, newest first.
func HandleListSnapshots(st *store.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tctx, err := TenantContext(r)
		if err != nil {
			writeInvalidArgument(w, err.Error())
			return
		}
		limit, err := ParseLimit(r)
		if err != nil {
			writeInvalidArgument(w, err.Error())
			return
		}

		summaries, err := st.Snapshots.List(r.Context(), tctx, limit)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		WriteList(w, http.StatusOK, summaries)
	})
}

// HandleGetSnapshot returns one full snapshot with nodes and edges.
func HandleGetSnapshot(st *store.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tctx, err := TenantContext(r)
		if err != nil {
			writeInvalidArgument(w, err.Error())
			return
		}

		snap, err := st.Snapshots.Get(r.Context(), tctx, r.PathValue("id"))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, snap)
	})
}

// HandleDeleteSnapshot removes one snapshot; nodes and edges cascade.
func HandleDeleteSnapshot(st *store.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tctx, err := TenantContext(r)
		if err != nil {
			writeInvalidArgument(w, err.Error())
			return
		}

		if err := st.Snapshots.Delete(r.Context(), tctx, r.PathValue("id")); err != nil {
			writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
