// ABOUTME: HTTP API handlers for protocols, document types, sessions, approval, export and attempts
// ABOUTME: Request bodies are validated with struct tags; errors map to 400/404/409/500 JSON responses

package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/2389/docforge-gateway/internal/export"
	"github.com/2389/docforge-gateway/internal/generation"
	"github.com/2389/docforge-gateway/internal/session"
	"github.com/2389/docforge-gateway/internal/store"
	"github.com/2389/docforge-gateway/internal/templates"
)

const maxBodyBytes = 16 << 20

// CreateProtocolRequest is the JSON body of POST /api/protocols.
type CreateProtocolRequest struct {
	StudyAcronym  string `json:"study_acronym" validate:"required,max=50"`
	ProtocolTitle string `json:"protocol_title" validate:"max=500"`
	Text          string `json:"text,omitempty"` // optional protocol text to ingest
}

// CreateProtocolResponse is returned by POST /api/protocols.
type CreateProtocolResponse struct {
	Protocol *store.Protocol `json:"protocol"`
	Chunks   int             `json:"chunks"`
}

// IngestRequest is the JSON body of POST /api/protocols/{id}/documents.
type IngestRequest struct {
	Text string `json:"text" validate:"required"`
}

// IngestResponse reports how many chunks were stored.
type IngestResponse struct {
	ProtocolID string `json:"protocol_id"`
	Chunks     int    `json:"chunks"`
}

// SessionSummary describes a session without section content.
type SessionSummary struct {
	ID           string                           `json:"id"`
	DocumentType string                           `json:"document_type"`
	Status       session.Status                   `json:"status"`
	Sections     map[string]session.SectionStatus `json:"sections"`
	CreatedAt    time.Time                        `json:"created_at"`
	UpdatedAt    time.Time                        `json:"updated_at"`
}

// ProtocolSummaryResponse is returned by GET /api/protocols/{id}.
type ProtocolSummaryResponse struct {
	Protocol *store.Protocol   `json:"protocol"`
	Sessions []SessionSummary `json:"sessions"`
}

// SectionInfo describes one section requirement of a document type.
type SectionInfo struct {
	Name            string `json:"name"`
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	EstimatedLength string `json:"estimated_length,omitempty"`
}

// DocumentTypeInfo is one entry of GET /api/document-types.
type DocumentTypeInfo struct {
	Name       string        `json:"name"`
	Title      string        `json:"title"`
	Compliance string        `json:"compliance,omitempty"`
	Sections   []SectionInfo `json:"sections"`
}

// AttemptResponse is one provider attempt of GET /api/sessions/{id}/attempts.
type AttemptResponse struct {
	Section   string    `json:"section"`
	Provider  string    `json:"provider"`
	Attempt   int       `json:"attempt"`
	Outcome   string    `json:"outcome"`
	LatencyMS int64     `json:"latency_ms"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func summarize(snap session.Snapshot) SessionSummary {
	statuses := make(map[string]session.SectionStatus, len(snap.Sections))
	for _, s := range snap.Sections {
		statuses[s.Key] = s.Status
	}
	return SessionSummary{
		ID:           snap.ID,
		DocumentType: snap.DocumentType,
		Status:       snap.Status,
		Sections:     statuses,
		CreatedAt:    snap.CreatedAt,
		UpdatedAt:    snap.UpdatedAt,
	}
}

// handleCreateProtocol handles POST /api/protocols.
func (g *Gateway) handleCreateProtocol(w http.ResponseWriter, r *http.Request) {
	var req CreateProtocolRequest
	if !g.decode(w, r, &req) {
		return
	}
	p, n, err := g.services.AddProtocol(r.Context(), req.StudyAcronym, req.ProtocolTitle, req.Text)
	if err != nil {
		g.sendError(w, err)
		return
	}
	g.logger.Info("protocol registered", "protocol_id", p.ID, "collection", p.CollectionName, "chunks", n)
	g.sendJSON(w, http.StatusCreated, CreateProtocolResponse{Protocol: p, Chunks: n})
}

// handleListProtocols handles GET /api/protocols.
func (g *Gateway) handleListProtocols(w http.ResponseWriter, r *http.Request) {
	protocols, err := g.services.Store.ListProtocols(r.Context())
	if err != nil {
		g.sendError(w, err)
		return
	}
	if protocols == nil {
		protocols = []*store.Protocol{}
	}
	g.sendJSON(w, http.StatusOK, protocols)
}

// handleGetProtocol handles GET /api/protocols/{id}.
func (g *Gateway) handleGetProtocol(w http.ResponseWriter, r *http.Request) {
	p, err := g.services.Store.GetProtocol(r.Context(), r.PathValue("id"))
	if err != nil {
		g.sendError(w, err)
		return
	}
	snaps := g.services.Sessions.ListByProtocol(p.ID)
	resp := ProtocolSummaryResponse{Protocol: p, Sessions: make([]SessionSummary, 0, len(snaps))}
	for _, s := range snaps {
		resp.Sessions = append(resp.Sessions, summarize(s))
	}
	g.sendJSON(w, http.StatusOK, resp)
}

// handleDeleteProtocol handles DELETE /api/protocols/{id}.
func (g *Gateway) handleDeleteProtocol(w http.ResponseWriter, r *http.Request) {
	p, err := g.services.DeleteProtocol(r.Context(), r.PathValue("id"))
	if err != nil {
		g.sendError(w, err)
		return
	}
	g.logger.Info("protocol deleted", "protocol_id", p.ID, "collection", p.CollectionName)
	w.WriteHeader(http.StatusNoContent)
}

// handleGetCollection handles GET /api/collections/{name}.
func (g *Gateway) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	p, err := g.services.Store.GetProtocolByCollection(r.Context(), r.PathValue("name"))
	if err != nil {
		g.sendError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, p)
}

// handleDiagnostics handles GET /api/diagnostics.
func (g *Gateway) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	g.sendJSON(w, http.StatusOK, g.services.Diagnose(r.Context()))
}

// handleIngestProtocol handles POST /api/protocols/{id}/documents.
func (g *Gateway) handleIngestProtocol(w http.ResponseWriter, r *http.Request) {
	p, err := g.services.Store.GetProtocol(r.Context(), r.PathValue("id"))
	if err != nil {
		g.sendError(w, err)
		return
	}
	var req IngestRequest
	if !g.decode(w, r, &req) {
		return
	}
	n, err := g.services.Ingest(r.Context(), p, req.Text)
	if err != nil {
		g.sendError(w, err)
		return
	}
	g.logger.Info("protocol text ingested", "protocol_id", p.ID, "chunks", n)
	g.sendJSON(w, http.StatusOK, IngestResponse{ProtocolID: p.ID, Chunks: n})
}

// handleDocumentTypes handles GET /api/document-types.
func (g *Gateway) handleDocumentTypes(w http.ResponseWriter, r *http.Request) {
	names := g.services.Catalog.Names()
	out := make([]DocumentTypeInfo, 0, len(names))
	for _, name := range names {
		dt, err := g.services.Catalog.Lookup(name)
		if err != nil {
			continue
		}
		info := DocumentTypeInfo{Name: dt.Name, Title: dt.Title, Compliance: dt.Compliance}
		for _, s := range dt.Sections {
			info.Sections = append(info.Sections, SectionInfo{
				Name:            s.Key,
				Title:           s.Title,
				Description:     s.Description,
				EstimatedLength: s.EstimatedLength,
			})
		}
		out = append(out, info)
	}
	g.sendJSON(w, http.StatusOK, out)
}

// handleGetSession handles GET /api/sessions/{id}.
func (g *Gateway) handleGetSession(w http.ResponseWriter, r *http.Request) {
	snap, err := g.services.Sessions.Get(r.PathValue("id"))
	if err != nil {
		g.sendError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, snap)
}

// handleApprove handles POST /api/sessions/{id}/sections/{key}/approve.
func (g *Gateway) handleApprove(w http.ResponseWriter, r *http.Request) {
	sec, err := g.services.Sessions.Approve(r.PathValue("id"), r.PathValue("key"))
	if err != nil {
		g.sendError(w, err)
		return
	}
	g.logger.Info("section approved", "session_id", r.PathValue("id"), "section", sec.Key)
	g.sendJSON(w, http.StatusOK, sec)
}

// handleExport handles GET /api/sessions/{id}/export?format=markdown|html.
func (g *Gateway) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		g.sendError(w, err)
		return
	}
	snap, err := g.services.Sessions.ExportView(r.PathValue("id"))
	if err != nil {
		g.sendError(w, err)
		return
	}
	doc := export.Document{Snapshot: snap}
	if p, err := g.services.Store.GetProtocol(r.Context(), snap.ProtocolID); err == nil {
		doc.Protocol = *p
	}
	if dt, err := g.services.Catalog.Lookup(snap.DocumentType); err == nil {
		doc.Title = dt.Title
	}

	var buf bytes.Buffer
	if err := export.Render(&buf, doc, format); err != nil {
		g.sendError(w, err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// handleAttempts handles GET /api/sessions/{id}/attempts.
func (g *Gateway) handleAttempts(w http.ResponseWriter, r *http.Request) {
	attempts, err := g.services.Store.ListAttempts(r.Context(), r.PathValue("id"))
	if err != nil {
		g.sendError(w, err)
		return
	}
	out := make([]AttemptResponse, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, AttemptResponse{
			Section:   a.Section,
			Provider:  a.Provider,
			Attempt:   a.Attempt,
			Outcome:   a.Outcome,
			LatencyMS: a.Latency.Milliseconds(),
			Error:     a.Error,
			CreatedAt: a.CreatedAt,
		})
	}
	g.sendJSON(w, http.StatusOK, out)
}

// decode reads and validates a JSON body into v, writing a 400 on failure.
func (g *Gateway) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		g.sendJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, v); err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return false
		}
	}
	if err := g.validate.Struct(v); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

// validationMessage turns validator errors into "field: rule" pairs.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
	}
	return "invalid request: " + strings.Join(parts, ", ")
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, generation.ErrInvalidRequest),
		errors.Is(err, store.ErrInvalidProtocol),
		errors.Is(err, export.ErrUnknownFormat),
		errors.Is(err, templates.ErrUnknownDocumentType),
		errors.Is(err, templates.ErrUnknownSection):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrInvalidSession),
		errors.Is(err, session.ErrUnknownSection),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrConcurrentGeneration),
		errors.Is(err, session.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// sendError writes err as a JSON error; unexpected errors are logged and hidden.
func (g *Gateway) sendError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		g.logger.Error("request failed", "error", err)
		g.sendJSONError(w, status, "internal server error")
		return
	}
	g.sendJSONError(w, status, err.Error())
}

// sendJSON writes v as a JSON response.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("writing response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}
