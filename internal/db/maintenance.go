package db

import (
	"time"

	"github.com/mescon/repeatd/internal/clock"
	"github.com/mescon/repeatd/internal/repeater"
)

const (
	// MaintenanceInterval is how often the journal is pruned and compacted.
	MaintenanceInterval = 24 * time.Hour
	// maintenanceDelay lets startup settle before the first pass.
	maintenanceDelay = time.Minute
)

// StartMaintenance runs RunMaintenance shortly after startup and then every
// MaintenanceInterval. Abort the returned repeater to stop it. A failed pass
// is logged and retried on the next interval.
func (r *Repository) StartMaintenance(retention time.Duration, clk clock.Clock) (*repeater.Repeater, error) {
	if clk == nil {
		clk = clock.Default
	}
	return repeater.New(func(*repeater.Tick) error {
		return r.RunMaintenance(retention, clk.Now())
	}, repeater.Options{
		Interval: MaintenanceInterval,
		Delay:    maintenanceDelay,
		Name:     "journal-maintenance",
		Clock:    clk,
	})
}
