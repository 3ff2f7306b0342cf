// ABOUTME: Streaming endpoints: generate, regenerate and session watch over Server-Sent Events
// ABOUTME: Each generation event is written as an SSE frame named after its type and flushed immediately

package gateway

import (
	"fmt"
	"net/http"

	"github.com/patrickmn/go-cache"

	"github.com/2389/docforge-gateway/internal/generation"
	"github.com/2389/docforge-gateway/internal/sse"
)

// IdempotencyHeader lets clients retry a generate request without starting
// a second run.
const IdempotencyHeader = "Idempotency-Key"

// GenerateRequest is the JSON body of POST /api/generate.
type GenerateRequest struct {
	ProtocolID   string   `json:"protocol_id" validate:"required_without=SessionID"`
	DocumentType string   `json:"document_type" validate:"required_without=SessionID"`
	Sections     []string `json:"sections,omitempty" validate:"omitempty,dive,required"`
	SessionID    string   `json:"session_id,omitempty"`
	Regenerate   bool     `json:"regenerate,omitempty"`
}

// RegenerateRequest is the JSON body of POST /api/sessions/{id}/regenerate.
type RegenerateRequest struct {
	Sections []string `json:"sections,omitempty" validate:"omitempty,dive,required"`
}

// handleGenerate handles POST /api/generate.
func (g *Gateway) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if !g.decode(w, r, &req) {
		return
	}
	g.stream(w, r, generation.Request{
		ProtocolID:   req.ProtocolID,
		DocumentType: req.DocumentType,
		Sections:     req.Sections,
		SessionID:    req.SessionID,
		Regenerate:   req.Regenerate,
	})
}

// handleRegenerate handles POST /api/sessions/{id}/regenerate.
func (g *Gateway) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	var req RegenerateRequest
	if !g.decode(w, r, &req) {
		return
	}
	g.stream(w, r, generation.Request{
		SessionID:  r.PathValue("id"),
		Sections:   req.Sections,
		Regenerate: true,
	})
}

// stream starts a run and relays its events until the run ends or the
// client goes away. Errors before the first event are plain JSON responses.
func (g *Gateway) stream(w http.ResponseWriter, r *http.Request, req generation.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	key := r.Header.Get(IdempotencyHeader)
	if key != "" {
		if err := g.idempotency.Add(key, "", cache.DefaultExpiration); err != nil {
			existing, _ := g.idempotency.Get(key)
			msg := "duplicate request"
			if id, _ := existing.(string); id != "" {
				msg = fmt.Sprintf("duplicate request: session %s", id)
			}
			g.sendJSONError(w, http.StatusConflict, msg)
			return
		}
	}

	run, err := g.services.Orchestrator.Start(r.Context(), req)
	if err != nil {
		if key != "" {
			g.idempotency.Delete(key)
		}
		g.sendError(w, err)
		return
	}
	if key != "" {
		g.idempotency.Set(key, run.SessionID, cache.DefaultExpiration)
	}

	sse.SetHeaders(w)
	w.Header().Set("X-Session-ID", run.SessionID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var writeErr error
	for e := range run.Events {
		if writeErr != nil {
			continue
		}
		if writeErr = sse.WriteJSON(w, string(e.Type), e); writeErr != nil {
			g.logger.Debug("client stream closed", "session_id", run.SessionID, "error", writeErr)
			continue
		}
		flusher.Flush()
	}
}

// handleWatch handles GET /api/sessions/{id}/watch, streaming section status
// changes made by any run until the client disconnects.
func (g *Gateway) handleWatch(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	id := r.PathValue("id")
	changes, err := g.services.Sessions.Watch(r.Context(), id)
	if err != nil {
		g.sendError(w, err)
		return
	}

	sse.SetHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			if err := sse.WriteJSON(w, "section_status", c); err != nil {
				g.logger.Debug("watch stream closed", "session_id", id, "error", err)
				return
			}
			flusher.Flush()
		}
	}
}
