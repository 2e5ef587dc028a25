package presence

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"collab-server/collab"
	"collab-server/core"
	"collab-server/middleware"
)

type (
	JoinRequest struct {
		Resource core.ResourceKey `json:"resource"`
		// ConnectionID is optional; REST callers without one get a fresh
		// rest_-prefixed id minted and must reuse it on later calls.
		ConnectionID string       `json:"connection_id,omitempty"`
		Cursor       *core.Cursor `json:"cursor,omitempty"`
	}

	JoinResponse struct {
		ConnectionID string               `json:"connection_id"`
		Roster       []core.PresenceEntry `json:"roster"`
	}

	ConnectionRequest struct {
		Resource     core.ResourceKey `json:"resource"`
		ConnectionID string           `json:"connection_id"`
	}

	CursorRequest struct {
		Resource     core.ResourceKey `json:"resource"`
		ConnectionID string           `json:"connection_id"`
		Cursor       core.Cursor      `json:"cursor"`
	}

	RosterResponse struct {
		Occupants []core.PresenceEntry `json:"occupants"`
	}
)

// HandleJoin registers the caller in a resource's room and returns the
// roster along with the connection id to use on subsequent calls.
func HandleJoin(svc *collab.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := middleware.ActorFromContext(r.Context())
		if !ok {
			http.Error(w, "Missing actor identity", http.StatusUnauthorized)
			return
		}

		var req JoinRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logrus.WithField("error", err).Error("Failed to decode request")
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if !req.Resource.Kind.Valid() || req.Resource.ID == "" {
			http.Error(w, "Invalid resource", http.StatusBadRequest)
			return
		}

		connectionID := req.ConnectionID
		if connectionID == "" {
			connectionID = "rest_" + ulid.Make().String()
		}

		roster := svc.Presence.Join(req.Resource, connectionID, actor, req.Cursor)
		svc.RecordActivity(r.Context(), actor, "presence.join", req.Resource, connectionID)

		render.JSON(w, r, JoinResponse{ConnectionID: connectionID, Roster: roster})
	}
}

// HandleLeave withdraws one connection from a resource's room.
func HandleLeave(svc *collab.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, req, ok := decodeConnectionRequest(w, r)
		if !ok {
			return
		}

		svc.Presence.Leave(req.Resource, req.ConnectionID)
		svc.RecordActivity(r.Context(), actor, "presence.leave", req.Resource, req.ConnectionID)

		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleCursor relays a cursor move to everyone else in the room.
func HandleCursor(svc *collab.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := middleware.ActorFromContext(r.Context()); !ok {
			http.Error(w, "Missing actor identity", http.StatusUnauthorized)
			return
		}

		var req CursorRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logrus.WithField("error", err).Error("Failed to decode request")
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if !req.Resource.Kind.Valid() || req.Resource.ID == "" || req.ConnectionID == "" {
			http.Error(w, "Invalid resource or connection id", http.StatusBadRequest)
			return
		}

		svc.Presence.UpdateCursor(req.Resource, req.ConnectionID, req.Cursor)
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleHeartbeat keeps a presence entry alive between edits.
func HandleHeartbeat(svc *collab.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, req, ok := decodeConnectionRequest(w, r)
		if !ok {
			return
		}

		svc.Presence.Heartbeat(req.Resource, req.ConnectionID)
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleRoster lists who is currently in a resource's room.
func HandleRoster(svc *collab.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := core.ParseResourceKey(chi.URLParam(r, "kind") + ":" + chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, "Invalid resource", http.StatusBadRequest)
			return
		}

		render.JSON(w, r, RosterResponse{Occupants: svc.Presence.Roster(key)})
	}
}

func decodeConnectionRequest(w http.ResponseWriter, r *http.Request) (core.Actor, ConnectionRequest, bool) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "Missing actor identity", http.StatusUnauthorized)
		return core.Actor{}, ConnectionRequest{}, false
	}

	var req ConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logrus.WithField("error", err).Error("Failed to decode request")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return core.Actor{}, ConnectionRequest{}, false
	}
	if !req.Resource.Kind.Valid() || req.Resource.ID == "" || req.ConnectionID == "" {
		http.Error(w, "Invalid resource or connection id", http.StatusBadRequest)
		return core.Actor{}, ConnectionRequest{}, false
	}

	return actor, req, true
}
