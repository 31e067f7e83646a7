package api

import (
	"net/http"

	"github.com/meshdrift/meshdrift/internal/history"
	"github.com/meshdrift/meshdrift/internal/pipeline"
	"github.com/meshdrift/meshdrift/internal/store"
)

// HandleRunDrift enqueues an on-demand drift detection for the tenant.
func HandleRunDrift(q *pipeline.Queue) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tctx, err := TenantContext(r)
		if err != nil {
			writeInvalidArgument(w, err.Error())
			return
		}
		tenantID, err := tctx.WriteTenant()
		if err != nil {
			writeStoreError(w, err)
			return
		}

		if err := q.Enqueue(pipeline.Task{Kind: pipeline.TaskDetectDrift, TenantID: tenantID}); err != nil {
			WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", err.Error())
			return
		}
		WriteJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	})
}

// HandleBuildSnapshot enqueues a snapshot build for the last full hour.
func HandleBuildSnapshot(sched *pipeline.Scheduler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tctx, err := TenantContext(r)
		if err != nil {
			writeInvalidArgument(w, err.Error())
			return
		}
		tenantID, err := tctx.WriteTenant()
		if err != nil {
			writeStoreError(w, err)
			return
		}

		if err := sched.BuildNow(tenantID); err != nil {
			WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", err.Error())
			return
		}
		WriteJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	})
}

// HandleRecentDrift returns the tenant's persisted explain cards,
// newest first.
func HandleRecentDrift(st *store.Store) http.Handler {
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

		cards, err := st.Events.ListRecent(r.Context(), tctx, limit)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		WriteList(w, http.StatusOK, cards)
	})
}

// HandleGetDriftEvent returns one persisted explain card by event ID.
func HandleGetDriftEvent(st *store.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tctx, err := TenantContext(r)
		if err != nil {
			writeInvalidArgument(w, err.Error())
			return
		}

		card, err := st.Events.Get(r.Context(), tctx, r.PathValue("id"))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, card)
	})
}

// HandleDriftFeed serves the in-memory ring of recently produced cards.
// Unlike the persisted list it survives no restart; it is the cheap
// polling surface for dashboards.
func HandleDriftFeed(tracker *history.Tracker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tctx, err := TenantContext(r)
		if err != nil {
			writeInvalidArgument(w, err.Error())
			return
		}
		tenantID, err := tctx.WriteTenant()
		if err != nil {
			writeStoreError(w, err)
			return
		}
		limit, err := ParseLimit(r)
		if err != nil {
			writeInvalidArgument(w, err.Error())
			return
		}

		WriteList(w, http.StatusOK, tracker.Recent(tenantID, limit))
	})
}
