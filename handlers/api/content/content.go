package content

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"collab-server/collab"
	"collab-server/core"
	"collab-server/middleware"
)

type (
	ChangeRequest struct {
		Resource   core.ResourceKey `json:"resource"`
		ChangeType string           `json:"change_type"`
		Position   int              `json:"position"`
		Text       string           `json:"text,omitempty"`
		Length     int              `json:"length,omitempty"`
	}

	SyncRequest struct {
		Resource core.ResourceKey `json:"resource"`
		Content  string           `json:"content"`
		Version  int64            `json:"version"`
	}
)

// HandleChange relays an edit the workspace CRUD layer already persisted
// to everyone watching the resource.
func HandleChange(svc *collab.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := middleware.ActorFromContext(r.Context())
		if !ok {
			http.Error(w, "Missing actor identity", http.StatusUnauthorized)
			return
		}

		var req ChangeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logrus.WithField("error", err).Error("Failed to decode request")
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if !req.Resource.Kind.Valid() || req.Resource.ID == "" {
			http.Error(w, "Invalid resource", http.StatusBadRequest)
			return
		}
		switch req.ChangeType {
		case core.ChangeInsert, core.ChangeDelete, core.ChangeReplace:
		default:
			http.Error(w, "Invalid change type", http.StatusBadRequest)
			return
		}

		svc.BroadcastContentChange(req.Resource, actor, req.ChangeType, req.Position, req.Text, req.Length)
		svc.RecordActivity(r.Context(), actor, "content.change", req.Resource, req.ChangeType)

		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleSync pushes a full-state snapshot so clients that missed events
// can reconcile.
func HandleSync(svc *collab.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := middleware.ActorFromContext(r.Context())
		if !ok {
			http.Error(w, "Missing actor identity", http.StatusUnauthorized)
			return
		}

		var req SyncRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logrus.WithField("error", err).Error("Failed to decode request")
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if !req.Resource.Kind.Valid() || req.Resource.ID == "" {
			http.Error(w, "Invalid resource", http.StatusBadRequest)
			return
		}

		svc.BroadcastContentSync(req.Resource, req.Content, req.Version)
		svc.RecordActivity(r.Context(), actor, "content.sync", req.Resource, strconv.FormatInt(req.Version, 10))

		w.WriteHeader(http.StatusNoContent)
	}
}
