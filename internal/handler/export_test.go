package handler

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestExportHandler(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/chains/export.{format}", Export(fixedSource{testSnapshot(t)}, slog.Default()))

	tests := []struct {
		path     string
		wantCode int
		wantType string
		wantFile string
	}{
		{"/api/chains/export.csv", http.StatusOK, "text/csv; charset=utf-8", `attachment; filename="chains.csv"`},
		{"/api/chains/export.xlsx", http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", `attachment; filename="chains.xlsx"`},
		{"/api/chains/export.parquet", http.StatusOK, "application/vnd.apache.parquet", `attachment; filename="chains.parquet"`},
		{"/api/chains/export.pdf", http.StatusNotFound, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			if got := rec.Header().Get("Content-Type"); got != tt.wantType {
				t.Errorf("content-type = %q, want %q", got, tt.wantType)
			}
			if got := rec.Header().Get("Content-Disposition"); got != tt.wantFile {
				t.Errorf("content-disposition = %q, want %q", got, tt.wantFile)
			}
			if rec.Body.Len() == 0 {
				t.Error("empty body")
			}
		})
	}
}

func TestExportCSVBody(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/chains/export.{format}", Export(fixedSource{testSnapshot(t)}, slog.Default()))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chains/export.csv", nil))

	want := "Timestamp,Date,A,B\n1700000000,14/11/2023,100,50\n1700086400,15/11/2023,110,45"
	if got := rec.Body.String(); got != want {
		t.Errorf("body =\n%s\nwant\n%s", got, want)
	}
}

func TestExportBeforeFirstRefresh(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/chains/export.{format}", Export(fixedSource{}, slog.Default()))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chains/export.csv", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	if !strings.Contains(rec.Body.String(), "no data available yet") {
		t.Errorf("body = %q", rec.Body.String())
	}
}
