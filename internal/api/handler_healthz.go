package api

import "net/http"

// HandleHealthz reports liveness. No auth; load balancers hit this.
func HandleHealthz(version string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
}
