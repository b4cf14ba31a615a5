package reconciler

import (
	"sync"
	"time"

	"github.com/suncumby/drms/pkg/log"
	"github.com/suncumby/drms/pkg/manager"
	"github.com/suncumby/drms/pkg/metrics"
	"github.com/suncumby/drms/pkg/types"
	"github.com/rs/zerolog"
)

// MaxSessionAge bounds how long a session may stay open before the
// reconciler deletes it. A client that dies without closing (crash,
// kill -9, network partition) leaves its session row behind; the
// reconciler removes that row. The storage units the session allocated
// are not touched.
const MaxSessionAge = 24 * time.Hour

// Reconciler periodically expires abandoned sessions by deleting their
// session rows; it does not release or modify the storage units those
// sessions allocated.
type Reconciler struct {
	manager *manager.Manager
	logger  zerolog.Logger
	mu      sync.RWMutex
	stopCh  chan struct{}
}

// NewReconciler creates a new reconciler for mgr.
func NewReconciler(mgr *manager.Manager) *Reconciler {
	return &Reconciler{
		manager: mgr,
		logger:  log.WithComponent("reconciler"),
		stopCh:  make(chan struct{}),
	}
}

// Start begins the reconciliation loop.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the reconciler.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	r.logger.Info().Msg("reconciler started")
	for {
		select {
		case <-ticker.C:
			r.reconcile()
		case <-r.stopCh:
			r.logger.Info().Msg("reconciler stopped")
			return
		}
	}
}

func (r *Reconciler) reconcile() {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SessionReapDuration)

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.manager.IsLeader() {
		// Only the leader reaps sessions; a follower would just see its
		// own Apply calls rejected once it tries to propose the delete.
		return
	}

	expired := r.expiredSessions()
	for _, sess := range expired {
		r.logger.Warn().
			Str("session_id", sess.ID).
			Str("namespace", sess.Namespace).
			Time("opened_at", sess.OpenedAt).
			Msg("session exceeded max age, releasing")

		if err := r.manager.DeleteSession(sess.ID); err != nil {
			r.logger.Error().Err(err).Str("session_id", sess.ID).Msg("failed to expire session")
			continue
		}
		metrics.SessionsReapedTotal.Inc()
	}
}

func (r *Reconciler) expiredSessions() []*types.Session {
	sessions, err := r.manager.ListSessions()
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to list sessions")
		return nil
	}

	now := time.Now()
	var expired []*types.Session
	for _, sess := range sessions {
		if now.Sub(sess.OpenedAt) > MaxSessionAge {
			expired = append(expired, sess)
		}
	}
	return expired
}
