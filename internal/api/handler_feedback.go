package api

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/meshdrift/meshdrift/internal/model"
	"github.com/meshdrift/meshdrift/internal/store"
)

// autoWhitelistReason marks entries created from "expected" verdicts.
const autoWhitelistReason = "auto-whitelisted from feedback"

type feedbackRequest struct {
	DriftEventID string `json:"drift_event_id"`
	Verdict      string `json:"verdict"`
	Comment      string `json:"comment,omitempty"`
}

// HandleSubmitFeedback records a verdict on a drift event. An "expected"
// verdict also allow-lists the event's edge, so the same finding stops
// alerting.
func HandleSubmitFeedback(st *store.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tctx, err := TenantContext(r)
		if err != nil {
			writeInvalidArgument(w, err.Error())
			return
		}

		var req feedbackRequest
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		verdict := model.Verdict(req.Verdict)
		if !verdict.IsValid() {
			writeInvalidArgument(w, "verdict must be true_positive, false_positive, or expected")
			return
		}

		card, err := st.Events.Get(r.Context(), tctx, req.DriftEventID)
		if err != nil {
			writeStoreError(w, err)
			return
		}

		record := model.FeedbackRecord{
			DriftEventID: req.DriftEventID,
			Source:       card.Source,
			Destination:  card.Destination,
			EventType:    card.EventType,
			Verdict:      verdict,
			Comment:      req.Comment,
			UserID:       tctx.UserID,
			CreatedAt:    time.Now().UTC(),
		}
		if err := st.Feedback.Insert(r.Context(), tctx, record); err != nil {
			writeStoreError(w, err)
			return
		}

		if verdict == model.VerdictExpected && card.Destination != "*" {
			entry := model.WhitelistEntry{
				Source:      card.Source,
				Destination: card.Destination,
				Reason:      autoWhitelistReason,
			}
			if err := st.Whitelist.Upsert(r.Context(), tctx, entry); err != nil {
				// Feedback is already recorded; the whitelist catches up
				// on the next expected verdict.
				log.Printf("[api] auto-whitelist %s->%s failed: %v", card.Source, card.Destination, err)
			}
		}

		WriteJSON(w, http.StatusCreated, record)
	})
}

// HandleListEventFeedback returns all feedback on one drift event.
func HandleListEventFeedback(st *store.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tctx, err := TenantContext(r)
		if err != nil {
			writeInvalidArgument(w, err.Error())
			return
		}

		records, err := st.Feedback.ListForEvent(r.Context(), tctx, r.PathValue("id"))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				WriteList(w, http.StatusOK, records)
				return
			}
			writeStoreError(w, err)
			return
		}
		WriteList(w, http.StatusOK, records)
	})
}
