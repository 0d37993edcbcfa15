package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"lostfound/auth"
	"lostfound/caption"
	"lostfound/intake"
	"lostfound/matching"
	"lostfound/report"
)

type reportSubmitter interface {
	Submit(ctx context.Context, kind report.Kind, draft report.Draft) (intake.Result, error)
}

type reportReader interface {
	Get(ctx context.Context, kind report.Kind, id string) (report.Report, error)
}

type candidateSearcher interface {
	SearchByID(ctx context.Context, kind report.Kind, id string) ([]matching.Candidate, error)
}

type matchConfirmer interface {
	Confirm(ctx context.Context, lostID, foundID string) (matching.Pair, error)
}

type matchResolver interface {
	Resolve(ctx context.Context, lostID, foundID string) (matching.Pair, error)
}

type tokenVerifier interface {
	Verify(token string) (string, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Server exposes the report and match operations over JSON.
type Server struct {
	intake    reportSubmitter
	reports   reportReader
	searcher  candidateSearcher
	confirmer matchConfirmer
	resolver  matchResolver
	captioner caption.Captioner
	tokens    tokenVerifier
	health    pinger
	logger    *zap.Logger
	maxBody   int64
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)

	api := http.NewServeMux()
	api.HandleFunc("/api/reports/", s.handleReports)
	api.HandleFunc("/api/matches", s.handleConfirmMatch)
	api.HandleFunc("/api/matches/resolve", s.handleResolveMatch)
	api.HandleFunc("/api/captions", s.handleCaption)
	mux.Handle("/api/", s.requireUser(api))

	return s.accessLog(mux)
}

func (s *Server) log() *zap.Logger {
	if s.logger == nil {
		return zap.NewNop()
	}
	return s.logger
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			s.log().Warn("health check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "unavailable", "database unreachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReports serves /api/reports/{kind}[/{id}[/candidates]].
func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/reports/"), "/")
	parts := strings.Split(rest, "/")
	kind := report.Kind(parts[0])
	if !kind.Valid() {
		writeError(w, http.StatusNotFound, "not_found", "unknown report kind")
		return
	}

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
			return
		}
		s.handleCreateReport(w, r, kind)
	case len(parts) == 2 && parts[1] != "":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
			return
		}
		s.handleGetReport(w, r, kind, parts[1])
	case len(parts) == 3 && parts[2] == "candidates":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
			return
		}
		s.handleCandidates(w, r, kind, parts[1])
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown path")
	}
}

type createReportRequest struct {
	Category    string            `json:"category"`
	Description string            `json:"description"`
	Attributes  map[string]string `json:"attributes"`
	Location    string            `json:"location"`
	PhotoRef    *string           `json:"photoRef"`
	// Image is base64 in JSON and only used to pre-fill a blank description.
	Image []byte `json:"image"`
}

type createReportResponse struct {
	Report              reportResponse      `json:"report"`
	Candidates          []candidateResponse `json:"candidates"`
	CandidatesAvailable bool                `json:"candidatesAvailable"`
}

func (s *Server) handleCreateReport(w http.ResponseWriter, r *http.Request, kind report.Kind) {
	userID, _ := auth.UserFrom(r.Context())

	var req createReportRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.intake.Submit(r.Context(), kind, report.Draft{
		OwnerID:     userID,
		Category:    report.Category(req.Category),
		Description: req.Description,
		Attributes:  req.Attributes,
		Location:    req.Location,
		PhotoRef:    req.PhotoRef,
		Image:       req.Image,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createReportResponse{
		Report:              toReportResponse(res.Report),
		Candidates:          toCandidateResponses(res.Candidates),
		CandidatesAvailable: !res.SearchFailed,
	})
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request, kind report.Kind, id string) {
	rep, err := s.reports.Get(r.Context(), kind, id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReportResponse(rep))
}

func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request, kind report.Kind, id string) {
	candidates, err := s.searcher.SearchByID(r.Context(), kind, id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": toCandidateResponses(candidates)})
}

type pairRequest struct {
	LostID  string `json:"lostId"`
	FoundID string `json:"foundId"`
}

type pairResponse struct {
	LostReport  reportResponse `json:"lostReport"`
	FoundReport reportResponse `json:"foundReport"`
}

func (s *Server) readPair(w http.ResponseWriter, r *http.Request) (pairRequest, bool) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return pairRequest{}, false
	}
	var req pairRequest
	if !s.decode(w, r, &req) {
		return pairRequest{}, false
	}
	req.LostID = strings.TrimSpace(req.LostID)
	req.FoundID = strings.TrimSpace(req.FoundID)
	if req.LostID == "" || req.FoundID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "lostId and foundId are required")
		return pairRequest{}, false
	}
	return req, true
}

func (s *Server) handleConfirmMatch(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readPair(w, r)
	if !ok {
		return
	}
	pair, err := s.confirmer.Confirm(r.Context(), req.LostID, req.FoundID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pairResponse{
		LostReport:  toReportResponse(pair.Lost),
		FoundReport: toReportResponse(pair.Found),
	})
}

func (s *Server) handleResolveMatch(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readPair(w, r)
	if !ok {
		return
	}
	pair, err := s.resolver.Resolve(r.Context(), req.LostID, req.FoundID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pairResponse{
		LostReport:  toReportResponse(pair.Lost),
		FoundReport: toReportResponse(pair.Found),
	})
}

func (s *Server) handleCaption(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	captioner := s.captioner
	if captioner == nil {
		captioner = caption.Disabled{}
	}
	image, err := io.ReadAll(http.MaxBytesReader(w, r.Body, caption.MaxImageBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "too_large", "image too large")
		return
	}
	text, err := captioner.Caption(r.Context(), image)
	if err != nil {
		if errors.Is(err, caption.ErrEmptyImage) || errors.Is(err, caption.ErrDisabled) {
			s.writeDomainError(w, err)
			return
		}
		s.log().Warn("captioning failed", zap.Int("image_bytes", len(image)), zap.Error(err))
		writeError(w, http.StatusBadGateway, "caption_failed", "captioning service failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"caption": text})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := r.Body
	if s.maxBody > 0 {
		body = http.MaxBytesReader(w, r.Body, s.maxBody)
	}
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}
	return true
}
