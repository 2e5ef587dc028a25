package streams

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"

	"collab-server/collab"
	"collab-server/core"
	"collab-server/middleware"
)

type (
	StartRequest struct {
		Resource core.ResourceKey `json:"resource"`
		Position int              `json:"position"`
	}

	ChunkRequest struct {
		SessionID string `json:"session_id"`
		Text      string `json:"text"`
		// Position overrides the running character count when set.
		Position *int `json:"position,omitempty"`
	}

	ChunkResponse struct {
		SessionID string `json:"session_id"`
		Position  int    `json:"position"`
	}

	EndRequest struct {
		SessionID string `json:"session_id"`
	}

	EndResponse struct {
		SessionID     string `json:"session_id"`
		FinalPosition int    `json:"final_position"`
	}
)

// HandleStart opens a streaming session on a resource and announces it to
// the room. The response carries the session id chunks must reference.
func HandleStart(svc *collab.Service, policy core.AccessPolicy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := middleware.ActorFromContext(r.Context())
		if !ok {
			http.Error(w, "Missing actor identity", http.StatusUnauthorized)
			return
		}

		var req StartRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logrus.WithField("error", err).Error("Failed to decode request")
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if !req.Resource.Kind.Valid() || req.Resource.ID == "" {
			http.Error(w, "Invalid resource", http.StatusBadRequest)
			return
		}

		if !policy.CanEdit(r.Context(), actor, req.Resource) {
			http.Error(w, "Not allowed to edit this resource", http.StatusForbidden)
			return
		}

		session := svc.Streams.Start(req.Resource, actor, req.Position)
		svc.RecordActivity(r.Context(), actor, "stream.start", req.Resource, session.SessionID)

		render.JSON(w, r, session)
	}
}

// HandleChunk appends streamed text to a session the caller owns.
func HandleChunk(svc *collab.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := middleware.ActorFromContext(r.Context())
		if !ok {
			http.Error(w, "Missing actor identity", http.StatusUnauthorized)
			return
		}

		var req ChunkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logrus.WithField("error", err).Error("Failed to decode request")
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.SessionID == "" {
			http.Error(w, "Missing session id", http.StatusBadRequest)
			return
		}

		session, ok := svc.Streams.Session(req.SessionID)
		if !ok {
			http.Error(w, "Unknown streaming session", http.StatusNotFound)
			return
		}
		if session.Actor.ActorID != actor.ActorID {
			http.Error(w, "Session belongs to another actor", http.StatusForbidden)
			return
		}
		if !session.Active {
			http.Error(w, "Streaming session already ended", http.StatusNotFound)
			return
		}

		position, ok := svc.Streams.Chunk(req.SessionID, req.Text, req.Position)
		if !ok {
			http.Error(w, "Unknown streaming session", http.StatusNotFound)
			return
		}

		render.JSON(w, r, ChunkResponse{SessionID: req.SessionID, Position: position})
	}
}

// HandleEnd closes a streaming session the caller owns.
func HandleEnd(svc *collab.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := middleware.ActorFromContext(r.Context())
		if !ok {
			http.Error(w, "Missing actor identity", http.StatusUnauthorized)
			return
		}

		var req EndRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logrus.WithField("error", err).Error("Failed to decode request")
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.SessionID == "" {
			http.Error(w, "Missing session id", http.StatusBadRequest)
			return
		}

		session, ok := svc.Streams.Session(req.SessionID)
		if !ok {
			http.Error(w, "Unknown streaming session", http.StatusNotFound)
			return
		}
		if session.Actor.ActorID != actor.ActorID {
			http.Error(w, "Session belongs to another actor", http.StatusForbidden)
			return
		}

		finalPosition, ok := svc.Streams.End(req.SessionID)
		if !ok {
			http.Error(w, "Unknown streaming session", http.StatusNotFound)
			return
		}

		svc.RecordActivity(r.Context(), actor, "stream.end", session.Key, req.SessionID)
		render.JSON(w, r, EndResponse{SessionID: req.SessionID, FinalPosition: finalPosition})
	}
}
