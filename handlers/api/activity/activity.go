package activity

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"

	"collab-server/collab"
	"collab-server/core"
)

// HandleRecent lists the newest audit entries for a resource. The limit
// query parameter caps the page; the store default applies when absent.
func HandleRecent(svc *collab.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := core.ParseResourceKey(chi.URLParam(r, "kind") + ":" + chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, "Invalid resource", http.StatusBadRequest)
			return
		}

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, err = strconv.Atoi(raw)
			if err != nil {
				http.Error(w, "Invalid limit", http.StatusBadRequest)
				return
			}
		}

		entries, err := svc.RecentActivity(r.Context(), key, limit)
		if err != nil {
			logrus.WithField("error", err).Error("Failed to list activity")
			http.Error(w, "Failed to list activity", http.StatusInternalServerError)
			return
		}

		if entries == nil {
			entries = []core.ActivityEntry{}
		}
		render.JSON(w, r, entries)
	}
}
