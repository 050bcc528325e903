package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ethpandaops/testoor/pkg/ingest"
	"github.com/ethpandaops/testoor/pkg/results"
	"github.com/ethpandaops/testoor/pkg/store"
)

// maxBuildBodyBytes caps the size of a posted build.
const maxBuildBodyBytes = 64 << 20

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// handleHealth returns a simple health check response.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Tables []store.TableStats `json:"tables"`
}

// handleStatus reports the row count and latest insertion of each table.
func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.stats.Stats(r.Context())
	if err != nil {
		s.log.WithError(err).Warn("Failed to read table stats")
		writeJSON(w, http.StatusServiceUnavailable,
			errorResponse{err.Error()})

		return
	}

	writeJSON(w, http.StatusOK, statusResponse{Tables: stats})
}

type ingestRequest struct {
	Build *results.Build `json:"build"`
	Tree  *results.Tree  `json:"tree"`
}

// handleIngestBuild ingests one build. Unit failures are part of the
// returned report and do not change the status code.
func (s *server) handleIngestBuild(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxBuildBodyBytes)

	var req ingestRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body: " + err.Error()})

		return
	}

	if req.Build == nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"build is required"})

		return
	}

	report, err := s.ingester.Ingest(r.Context(), req.Build, req.Tree)
	if err != nil {
		var mappingErr *ingest.MappingError
		if errors.As(err, &mappingErr) {
			writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

			return
		}

		s.log.WithError(err).Error("Ingestion failed")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"ingestion failed"})

		return
	}

	writeJSON(w, http.StatusOK, report)
}
