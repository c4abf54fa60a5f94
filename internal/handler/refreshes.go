package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/web3-frozen/chain-tvl/internal/store"
)

// RefreshLog reads recorded refresh outcomes.
type RefreshLog interface {
	ListRefreshRuns(ctx context.Context, limit int) ([]store.RefreshRun, error)
}

// RefreshRuns lists the most recent refresh outcomes.
func RefreshRuns(s RefreshLog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > 200 {
				http.Error(w, `{"error":"invalid limit"}`, http.StatusBadRequest)
				return
			}
			limit = n
		}

		runs, err := s.ListRefreshRuns(r.Context(), limit)
		if err != nil {
			http.Error(w, `{"error":"failed to list refresh runs"}`, http.StatusInternalServerError)
			return
		}
		if runs == nil {
			runs = []store.RefreshRun{}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(runs)
	}
}
