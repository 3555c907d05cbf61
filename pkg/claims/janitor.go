package claims

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Janitor sweeps expired claims out of a MemoryStore on a cron schedule.
// Redis-backed stores do not need one: key TTLs expire claims server-side.
type Janitor struct {
	store    *MemoryStore
	logger   *slog.Logger
	cron     *cron.Cron
	schedule string
}

// NewJanitor creates a janitor with the given cron schedule (e.g. "@every 1m").
func NewJanitor(store *MemoryStore, logger *slog.Logger, schedule string) *Janitor {
	return &Janitor{
		store:    store,
		logger:   logger,
		cron:     cron.New(),
		schedule: schedule,
	}
}

// Start begins the sweep schedule.
func (j *Janitor) Start() error {
	_, err := j.cron.AddFunc(j.schedule, func() {
		swept := j.store.Sweep()
		if swept > 0 {
			j.logger.Debug("Swept expired claims", "count", swept)
		}
	})
	if err != nil {
		return err
	}

	j.cron.Start()

	return nil
}

// Stop halts the sweep schedule, waiting for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}
