package generate

import (
	"context"
	"time"

	"github.com/genloop-ai/genloop/internal/logger"
	"github.com/genloop-ai/genloop/internal/store"
)

// CancellationMonitor checks for an externally requested stop. It runs
// inside the consumption loop, not on its own timer, so a stop can never
// race a write within the same iteration.
type CancellationMonitor struct {
	st        store.Store
	jobID     string
	interval  time.Duration
	lastCheck time.Time
	now       func() time.Time
}

func NewCancellationMonitor(st store.Store, jobID string, interval time.Duration) *CancellationMonitor {
	return &CancellationMonitor{
		st:       st,
		jobID:    jobID,
		interval: interval,
		now:      time.Now,
	}
}

// ShouldStop reports whether the job status has been flipped to stopped by
// another actor. Between polls it returns false without touching the store.
func (m *CancellationMonitor) ShouldStop(ctx context.Context) bool {
	if m.now().Sub(m.lastCheck) < m.interval {
		return false
	}
	m.lastCheck = m.now()

	status, err := m.st.JobStatus(ctx, m.jobID)
	if err != nil {
		// A read failure must not kill the generation; try again next poll.
		logger.Warn("cancellation poll for job %s failed: %v", m.jobID, err)
		return false
	}
	return status == store.JobStopped
}
