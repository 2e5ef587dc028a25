package events

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/render"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"collab-server/collab"
	"collab-server/core"
	"collab-server/hub"
	"collab-server/middleware"
)

// maxPollWait bounds the long-poll so intermediaries never see a request
// hang past their own idle timeouts.
const maxPollWait = 30 * time.Second

type (
	SubscribeRequest struct {
		Resource core.ResourceKey `json:"resource"`
		// ConnectionID is optional on subscribe; a fresh rest_ id is
		// minted when absent and must be reused on poll and unsubscribe.
		ConnectionID string `json:"connection_id,omitempty"`
	}

	SubscribeResponse struct {
		ConnectionID string `json:"connection_id"`
	}

	PollResponse struct {
		Events []core.Event `json:"events"`
	}
)

// HandleSubscribe opens a buffered event feed on a resource for callers
// without a socket, agents mostly.
func HandleSubscribe(svc *collab.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := middleware.ActorFromContext(r.Context()); !ok {
			http.Error(w, "Missing actor identity", http.StatusUnauthorized)
			return
		}

		var req SubscribeRequest
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

		svc.Hub.Subscribe(req.Resource.Room(), connectionID)
		render.JSON(w, r, SubscribeResponse{ConnectionID: connectionID})
	}
}

// HandleUnsubscribe drops the feed again. Unknown pairs are a no-op.
func HandleUnsubscribe(svc *collab.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := middleware.ActorFromContext(r.Context()); !ok {
			http.Error(w, "Missing actor identity", http.StatusUnauthorized)
			return
		}

		var req SubscribeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logrus.WithField("error", err).Error("Failed to decode request")
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if !req.Resource.Kind.Valid() || req.Resource.ID == "" || req.ConnectionID == "" {
			http.Error(w, "Invalid resource or connection id", http.StatusBadRequest)
			return
		}

		svc.Hub.Unsubscribe(req.Resource.Room(), req.ConnectionID)
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandlePoll drains the caller's buffered events for one resource. With a
// wait parameter the request blocks up to that many seconds for the first
// event; it never blocks once something is buffered.
func HandlePoll(svc *collab.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := middleware.ActorFromContext(r.Context()); !ok {
			http.Error(w, "Missing actor identity", http.StatusUnauthorized)
			return
		}

		query := r.URL.Query()
		connectionID := query.Get("connection_id")
		key, err := core.ParseResourceKey(query.Get("kind") + ":" + query.Get("id"))
		if err != nil || connectionID == "" {
			http.Error(w, "Invalid resource or connection id", http.StatusBadRequest)
			return
		}

		sub, ok := svc.Hub.Subscriber(key.Room(), connectionID)
		if !ok {
			http.Error(w, "Not subscribed to this resource", http.StatusNotFound)
			return
		}

		wait := time.Duration(0)
		if seconds, err := strconv.Atoi(query.Get("wait")); err == nil && seconds > 0 {
			wait = time.Duration(seconds) * time.Second
			if wait > maxPollWait {
				wait = maxPollWait
			}
		}

		events := drain(sub, nil)
		if len(events) == 0 && wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case ev, open := <-sub.Events():
				if open {
					events = drain(sub, append(events, ev))
				}
			case <-timer.C:
			case <-r.Context().Done():
			}
		}

		if events == nil {
			events = []core.Event{}
		}
		render.JSON(w, r, PollResponse{Events: events})
	}
}

func drain(sub *hub.Subscriber, events []core.Event) []core.Event {
	for {
		select {
		case ev, open := <-sub.Events():
			if !open {
				return events
			}
			events = append(events, ev)
		default:
			return events
		}
	}
}
