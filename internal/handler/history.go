package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/web3-frozen/chain-tvl/internal/store"
)

const (
	defaultHistoryDays = 90
	maxHistoryDays     = 1000
)

// HistoryStore reads recorded daily summaries.
type HistoryStore interface {
	ChainHistory(ctx context.Context, chain string, limit int) ([]store.DailyChainTVL, error)
}

// ChainHistory returns the recorded daily summaries of one chain, newest first.
func ChainHistory(s HistoryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, err := chainParam(r)
		if err != nil || name == "" {
			http.Error(w, `{"error":"invalid chain name"}`, http.StatusBadRequest)
			return
		}

		limit := defaultHistoryDays
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > maxHistoryDays {
				http.Error(w, `{"error":"invalid limit"}`, http.StatusBadRequest)
				return
			}
			limit = n
		}

		days, err := s.ChainHistory(r.Context(), name, limit)
		if err != nil {
			http.Error(w, `{"error":"failed to load history"}`, http.StatusInternalServerError)
			return
		}
		if days == nil {
			days = []store.DailyChainTVL{}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(days)
	}
}

// chainParam returns the decoded {name} segment. chi matches on RawPath when
// the request carries one, leaving the segment escaped; otherwise it is
// already decoded.
func chainParam(r *http.Request) (string, error) {
	name := chi.URLParam(r, "name")
	if r.URL.RawPath == "" {
		return name, nil
	}
	return url.PathUnescape(name)
}
