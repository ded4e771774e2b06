package scheduler

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// DefaultJobs is the pipeline cadence seeded into a fresh deployment:
// aggregate often, reconcile duplicates at a slower beat.
func DefaultJobs() []Job {
	return []Job{
		{Name: "aggregate", Cadence: "* * * * *", Target: "/internal/jobs/aggregate", Enabled: true},
		{Name: "dedup", Cadence: "*/10 * * * *", Target: "/internal/jobs/dedup", Enabled: true},
	}
}

// ValidateCadence rejects cron expressions the scheduler cannot parse.
func ValidateCadence(cadence string) error {
	if _, err := cron.ParseStandard(cadence); err != nil {
		return fmt.Errorf("invalid cadence %q: %w", cadence, err)
	}
	return nil
}
