package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"lostfound/caption"
	"lostfound/matching"
	"lostfound/report"
)

type reportResponse struct {
	ID          string            `json:"id"`
	Kind        string            `json:"kind"`
	OwnerID     string            `json:"ownerId"`
	Category    string            `json:"category"`
	Description string            `json:"description"`
	Attributes  map[string]string `json:"attributes"`
	PhotoRef    *string           `json:"photoRef,omitempty"`
	Location    string            `json:"location"`
	Status      string            `json:"status"`
	MatchedRef  *string           `json:"matchedRef"`
	CreatedAt   string            `json:"createdAt"`
	UpdatedAt   string            `json:"updatedAt"`
}

type candidateResponse struct {
	reportResponse
	Relevance float64 `json:"relevance"`
	TextMatch bool    `json:"textMatch"`
}

type errorResponse struct {
	Error   string              `json:"error"`
	Message string              `json:"message"`
	Fields  []report.FieldError `json:"fields,omitempty"`
}

func toReportResponse(r report.Report) reportResponse {
	attrs := map[string]string{}
	if r.Details != nil {
		attrs = r.Details.Fields()
	}
	return reportResponse{
		ID:          r.ID,
		Kind:        string(r.Kind),
		OwnerID:     r.OwnerID,
		Category:    string(r.Category),
		Description: r.Description,
		Attributes:  attrs,
		PhotoRef:    r.PhotoRef,
		Location:    r.Location,
		Status:      string(r.Status),
		MatchedRef:  r.MatchedRef,
		CreatedAt:   r.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   r.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toCandidateResponses(candidates []matching.Candidate) []candidateResponse {
	out := make([]candidateResponse, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, candidateResponse{
			reportResponse: toReportResponse(c.Report),
			Relevance:      c.Relevance,
			TextMatch:      c.TextMatch,
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

// writeDomainError maps service errors onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var verr *report.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   "invalid_report",
			Message: "report failed validation",
			Fields:  verr.Fields,
		})
	case errors.Is(err, report.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "report not found")
	case errors.Is(err, matching.ErrAlreadyMatched):
		writeError(w, http.StatusConflict, "already_matched", err.Error())
	case errors.Is(err, matching.ErrLinkageFailure):
		s.log().Error("linkage failure", zap.Error(err))
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "linkage_failure", "match could not be recorded, retry")
	case errors.Is(err, matching.ErrPreconditionFailed):
		writeError(w, http.StatusBadRequest, "precondition_failed", err.Error())
	case errors.Is(err, caption.ErrDisabled):
		writeError(w, http.StatusNotFound, "captioning_disabled", "captioning is not configured")
	case errors.Is(err, caption.ErrEmptyImage):
		writeError(w, http.StatusBadRequest, "empty_image", "image body is empty")
	case errors.Is(err, caption.ErrNoCaption):
		writeError(w, http.StatusBadGateway, "no_caption", "captioning produced no text")
	default:
		s.log().Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
