package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the simulation.
type Metrics struct {
	// Pipeline metrics
	PackagesCreated prometheus.Counter
	PackagesLoaded  prometheus.Counter
	TrucksDeparted  prometheus.Counter
	VIPRejected     prometheus.Counter

	// Anomaly and contention metrics
	DispatchRetries prometheus.Counter
	BeltAnomalies   prometheus.Counter

	// Belt metrics
	BeltItems  prometheus.Gauge
	BeltWeight prometheus.Gauge

	// Registry metrics
	ActiveWorkers  prometheus.Gauge
	SessionsActive prometheus.Gauge
	DockOccupied   prometheus.Gauge
}

// New creates a metrics collector registered against reg. Pass
// prometheus.DefaultRegisterer in a process main; tests use a fresh
// registry so repeated construction never collides.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PackagesCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "warehouse_packages_created_total",
			Help: "Total number of packages minted",
		}),
		PackagesLoaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "warehouse_packages_loaded_total",
			Help: "Total number of packages loaded into trucks",
		}),
		TrucksDeparted: factory.NewCounter(prometheus.CounterOpts{
			Name: "warehouse_trucks_departed_total",
			Help: "Total number of truck departures",
		}),
		VIPRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "warehouse_vip_rejected_total",
			Help: "Total number of VIP packages dropped or rejected",
		}),
		DispatchRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "warehouse_dispatch_retries_total",
			Help: "Total number of dispatcher load retries",
		}),
		BeltAnomalies: factory.NewCounter(prometheus.CounterOpts{
			Name: "warehouse_belt_anomalies_total",
			Help: "Total number of belt semaphore/counter mismatches",
		}),
		BeltItems: factory.NewGauge(prometheus.GaugeOpts{
			Name: "warehouse_belt_items",
			Help: "Packages currently on the belt",
		}),
		BeltWeight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "warehouse_belt_weight_kg",
			Help: "Total weight currently on the belt",
		}),
		ActiveWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "warehouse_active_workers",
			Help: "Registered producer processes",
		}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "warehouse_sessions_active",
			Help: "Active session table slots",
		}),
		DockOccupied: factory.NewGauge(prometheus.GaugeOpts{
			Name: "warehouse_dock_occupied",
			Help: "Whether a truck currently occupies the dock (0 or 1)",
		}),
	}
}

// RecordBelt updates the belt gauges from a snapshot taken under the belt
// mutex.
func (m *Metrics) RecordBelt(items int, weight float64) {
	m.BeltItems.Set(float64(items))
	m.BeltWeight.Set(weight)
}

// SetDockOccupied records dock occupancy.
func (m *Metrics) SetDockOccupied(occupied bool) {
	if occupied {
		m.DockOccupied.Set(1)
	} else {
		m.DockOccupied.Set(0)
	}
}
