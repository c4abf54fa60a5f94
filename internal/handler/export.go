package handler

import (
	"bytes"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/web3-frozen/chain-tvl/internal/export"
)

// Export downloads the stacked dataset as chains.<format>.
func Export(src SnapshotSource, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		format, err := export.ParseFormat(chi.URLParam(r, "format"))
		if err != nil {
			http.Error(w, `{"error":"unsupported format"}`, http.StatusNotFound)
			return
		}
		snap := latest(w, src)
		if snap == nil {
			return
		}

		var buf bytes.Buffer
		if err := export.Write(&buf, format, snap.Rollup.Chains, snap.Rollup.Stacked); err != nil {
			logger.Error("export failed", "format", format, "error", err)
			http.Error(w, `{"error":"export failed"}`, http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", format.ContentType())
		w.Header().Set("Content-Disposition", `attachment; filename="chains.`+string(format)+`"`)
		_, _ = w.Write(buf.Bytes())
	}
}
