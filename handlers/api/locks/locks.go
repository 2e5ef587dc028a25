package locks

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"

	"collab-server/collab"
	"collab-server/core"
	locksvc "collab-server/locks"
	"collab-server/middleware"
)

type (
	LockRequest struct {
		Resource core.ResourceKey `json:"resource"`
	}

	LockStatusResponse struct {
		Locked bool             `json:"locked"`
		Holder *core.LockHolder `json:"holder"`
	}
)

// HandleAcquire claims the edit lock on a resource for the caller. A fresh
// lock held by someone else answers 409 with the holder so the client can
// show who is blocking.
func HandleAcquire(svc *collab.Service, policy core.AccessPolicy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, key, ok := decodeLockRequest(w, r, policy)
		if !ok {
			return
		}

		result, err := svc.Locks.Acquire(r.Context(), key, actor)
		if err != nil {
			logrus.WithField("error", err).Error("Failed to acquire lock")
			http.Error(w, "Failed to acquire lock", http.StatusInternalServerError)
			return
		}

		svc.RecordActivity(r.Context(), actor, "lock.acquire", key, string(result.Status))

		if result.Status == locksvc.StatusConflict {
			render.Status(r, http.StatusConflict)
		}
		render.JSON(w, r, result)
	}
}

// HandleRelease gives up the caller's lock.
func HandleRelease(svc *collab.Service, policy core.AccessPolicy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, key, ok := decodeLockRequest(w, r, policy)
		if !ok {
			return
		}

		status, err := svc.Locks.Release(r.Context(), key, actor)
		if err != nil {
			logrus.WithField("error", err).Error("Failed to release lock")
			http.Error(w, "Failed to release lock", http.StatusInternalServerError)
			return
		}

		svc.RecordActivity(r.Context(), actor, "lock.release", key, string(status))

		switch status {
		case locksvc.StatusNotLocked:
			render.Status(r, http.StatusNotFound)
		case locksvc.StatusNotHolder:
			render.Status(r, http.StatusForbidden)
		}
		render.JSON(w, r, map[string]string{"status": string(status)})
	}
}

// HandleForceRelease clears a lock regardless of the holder. Meant for
// workspace admins unblocking a resource after an agent went away.
func HandleForceRelease(svc *collab.Service, policy core.AccessPolicy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, key, ok := decodeLockRequest(w, r, policy)
		if !ok {
			return
		}

		if err := svc.Locks.ForceRelease(r.Context(), key); err != nil {
			logrus.WithField("error", err).Error("Failed to force-release lock")
			http.Error(w, "Failed to force-release lock", http.StatusInternalServerError)
			return
		}

		svc.RecordActivity(r.Context(), actor, "lock.force_release", key, "")
		render.JSON(w, r, map[string]string{"status": string(locksvc.StatusReleased)})
	}
}

// HandleHeartbeat extends the caller's lock without broadcasting.
func HandleHeartbeat(svc *collab.Service, policy core.AccessPolicy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, key, ok := decodeLockRequest(w, r, policy)
		if !ok {
			return
		}

		status := svc.Locks.Heartbeat(key, actor)
		svc.RecordActivity(r.Context(), actor, "lock.heartbeat", key, string(status))

		switch status {
		case locksvc.StatusNotLocked:
			render.Status(r, http.StatusNotFound)
		case locksvc.StatusNotHolder:
			render.Status(r, http.StatusForbidden)
		}
		render.JSON(w, r, map[string]string{"status": string(status)})
	}
}

// HandleGet reports who holds the lock on a resource, if anyone.
func HandleGet(svc *collab.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := core.ParseResourceKey(chi.URLParam(r, "kind") + ":" + chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, "Invalid resource", http.StatusBadRequest)
			return
		}

		lock, held := svc.Locks.Holder(key)
		resp := LockStatusResponse{Locked: held}
		if held {
			resp.Holder = &core.LockHolder{
				ActorID:     lock.Holder.ActorID,
				DisplayName: lock.Holder.DisplayName,
				AcquiredAt:  lock.AcquiredAt,
			}
		}
		render.JSON(w, r, resp)
	}
}

func decodeLockRequest(w http.ResponseWriter, r *http.Request, policy core.AccessPolicy) (core.Actor, core.ResourceKey, bool) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "Missing actor identity", http.StatusUnauthorized)
		return core.Actor{}, core.ResourceKey{}, false
	}

	var req LockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logrus.WithField("error", err).Error("Failed to decode request")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return core.Actor{}, core.ResourceKey{}, false
	}
	if !req.Resource.Kind.Valid() || req.Resource.ID == "" {
		http.Error(w, "Invalid resource", http.StatusBadRequest)
		return core.Actor{}, core.ResourceKey{}, false
	}

	if !policy.CanEdit(r.Context(), actor, req.Resource) {
		http.Error(w, "Not allowed to edit this resource", http.StatusForbidden)
		return core.Actor{}, core.ResourceKey{}, false
	}

	return actor, req.Resource, true
}
