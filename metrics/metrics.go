package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"collab-server/collab"
)

// Collector registers gauges and counters that read live collaboration
// state straight from the service, so scrapes never go stale.
type Collector struct {
	PresenceEntries  prometheus.GaugeFunc
	PresenceRooms    prometheus.GaugeFunc
	LocksHeld        prometheus.GaugeFunc
	StreamsActive    prometheus.GaugeFunc
	EventSubscribers prometheus.GaugeFunc
	EventsPublished  prometheus.CounterFunc
	EventsDropped    prometheus.CounterFunc
}

// NewCollector wires the collaboration service into reg.
func NewCollector(reg prometheus.Registerer, svc *collab.Service) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		PresenceEntries: factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "collab_presence_entries",
			Help: "Current number of presence entries across all rooms",
		}, func() float64 {
			return float64(svc.Presence.Count())
		}),
		PresenceRooms: factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "collab_presence_rooms",
			Help: "Current number of rooms with at least one occupant",
		}, func() float64 {
			return float64(svc.Presence.RoomCount())
		}),
		LocksHeld: factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "collab_locks_held",
			Help: "Current number of held advisory locks",
		}, func() float64 {
			return float64(svc.Locks.Count())
		}),
		StreamsActive: factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "collab_streams_active",
			Help: "Current number of active agent streaming sessions",
		}, func() float64 {
			return float64(svc.Streams.ActiveCount())
		}),
		EventSubscribers: factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "collab_event_subscribers",
			Help: "Current number of broadcast hub subscribers",
		}, func() float64 {
			return float64(svc.Hub.SubscriberCount())
		}),
		EventsPublished: factory.NewCounterFunc(prometheus.CounterOpts{
			Name: "collab_events_published_total",
			Help: "Total number of events published to the broadcast hub",
		}, func() float64 {
			return float64(svc.Hub.Published())
		}),
		EventsDropped: factory.NewCounterFunc(prometheus.CounterOpts{
			Name: "collab_events_dropped_total",
			Help: "Total number of events dropped on saturated subscriber buffers",
		}, func() float64 {
			return float64(svc.Hub.Dropped())
		}),
	}
}
