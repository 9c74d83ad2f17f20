package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/roach88/marksync/internal/entity"
)

// NewServer exposes backend over the routes Client speaks:
//
//	GET  /api/{kind}?scope=
//	POST /api/{kind}/{op}
//
// Response bodies are the backend's Data verbatim with its status code.
func NewServer(backend Gateway, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &server{backend: backend, logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/{kind}", s.handleFetch)
	mux.HandleFunc("POST /api/{kind}/{op}", s.handleMutate)
	return mux
}

type server struct {
	backend Gateway
	logger  *slog.Logger
}

func (s *server) handleFetch(w http.ResponseWriter, r *http.Request) {
	kind, err := entity.ParseKind(r.PathValue("kind"))
	if err != nil {
		s.write(w, failure(http.StatusNotFound, err.Error()))
		return
	}
	ctx := WithOrigin(r.Context(), r.Header.Get(OriginHeader))
	resp, err := s.backend.FetchAll(ctx, kind, r.URL.Query().Get("scope"))
	if err != nil {
		s.logger.Warn("fetch failed", "kind", kind, "error", err)
		s.write(w, failure(http.StatusBadGateway, err.Error()))
		return
	}
	s.write(w, resp)
}

func (s *server) handleMutate(w http.ResponseWriter, r *http.Request) {
	kind, err := entity.ParseKind(r.PathValue("kind"))
	if err != nil {
		s.write(w, failure(http.StatusNotFound, err.Error()))
		return
	}
	op, err := entity.ParseOp(r.PathValue("op"))
	if err != nil {
		s.write(w, failure(http.StatusNotFound, err.Error()))
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxResponseBytes))
	if err != nil {
		s.write(w, failure(http.StatusBadRequest, err.Error()))
		return
	}
	if !json.Valid(body) {
		s.write(w, failure(http.StatusBadRequest, "body is not valid JSON"))
		return
	}

	ctx := WithOrigin(r.Context(), r.Header.Get(OriginHeader))
	resp, err := s.backend.Mutate(ctx, kind, op, json.RawMessage(body))
	if err != nil {
		s.logger.Warn("mutate failed", "kind", kind, "op", op, "error", err)
		s.write(w, failure(http.StatusBadGateway, err.Error()))
		return
	}
	s.write(w, resp)
}

func (s *server) write(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	if _, err := w.Write(resp.Data); err != nil {
		s.logger.Debug("write response", "error", err)
	}
}
