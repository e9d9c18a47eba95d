package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/eyesee/license-server-go/internal/service"
)

const reconcileTimeout = 30 * time.Second

type Reconciler interface {
	Reconcile(ctx context.Context) (*service.ReconcileReport, error)
}

// ReconcileJob repairs key/license drift once at startup and, when interval
// is positive, on every tick afterwards.
type ReconcileJob struct {
	reconciler Reconciler
	interval   time.Duration
	done       chan struct{}
	stopped    chan struct{}
}

func NewReconcileJob(reconciler Reconciler, interval time.Duration) *ReconcileJob {
	return &ReconcileJob{
		reconciler: reconciler,
		interval:   interval,
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

func (j *ReconcileJob) Start() {
	go j.run()
	if j.interval > 0 {
		log.Info().Dur("interval", j.interval).Msg("reconcile job started")
	}
}

func (j *ReconcileJob) Stop() {
	close(j.done)
	<-j.stopped
	log.Info().Msg("reconcile job stopped")
}

func (j *ReconcileJob) run() {
	defer close(j.stopped)

	j.RunOnce()
	if j.interval <= 0 {
		return
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.RunOnce()
		}
	}
}

func (j *ReconcileJob) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()

	if _, err := j.reconciler.Reconcile(ctx); err != nil {
		log.Error().Err(err).Msg("failed to reconcile license store")
	}
}
