package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"loadout/internal/api"
	"loadout/internal/budget"
	"loadout/internal/config"
	"loadout/internal/connectivity"
	"loadout/internal/logging"
	"loadout/internal/notifications"
	"loadout/internal/offline"
	"loadout/internal/session"
)

// Deps bundles the collaborators the daemon coordinates.
type Deps struct {
	Config   *config.Config
	Sessions *session.Store
	Queue    *offline.Store
	Guard    *budget.Guard
	Syncer   *offline.Syncer
	Monitor  *connectivity.Monitor
	Notifier notifications.Service
	Logger   *slog.Logger
}

// Daemon coordinates the background services and enforces single-instance
// execution through a file lock in the log directory.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	sessions *session.Store
	queue    *offline.Store
	guard    *budget.Guard
	syncer   *offline.Syncer
	monitor  *connectivity.Monitor
	notifier notifications.Service
	hub      *api.Hub

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	apiServer *apiServer
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool
	PID           int
	Online        bool
	QueueDBPath   string
	LockFilePath  string
	QueuePending  int
	QueueDead     int
	QueueCapacity int
}

// New constructs a daemon with initialized dependencies.
func New(deps Deps) (*Daemon, error) {
	if deps.Config == nil || deps.Sessions == nil || deps.Queue == nil || deps.Logger == nil {
		return nil, errors.New("daemon requires config, session store, queue store, and logger")
	}

	lockPath := filepath.Join(deps.Config.Paths.LogDir, "loadoutd.lock")
	d := &Daemon{
		cfg:      deps.Config,
		logger:   logging.NewComponentLogger(deps.Logger, "daemon"),
		sessions: deps.Sessions,
		queue:    deps.Queue,
		guard:    deps.Guard,
		syncer:   deps.Syncer,
		monitor:  deps.Monitor,
		notifier: deps.Notifier,
		hub:      api.NewHub(deps.Logger),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}

	srv, err := newAPIServer(deps.Config, d, deps.Logger)
	if err != nil {
		return nil, err
	}
	d.apiServer = srv
	return d, nil
}

// Hub exposes the websocket event hub so the embedding process can publish
// frame results into it.
func (d *Daemon) Hub() *api.Hub {
	return d.hub
}

// APIAddr returns the bound API address. Empty until Start succeeds or when
// no bind address is configured.
func (d *Daemon) APIAddr() string {
	if d.apiServer == nil {
		return ""
	}
	return d.apiServer.addr()
}

// Start acquires the instance lock and launches the background services.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another loadout daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.hub.Run(runCtx)
	}()

	if d.syncer != nil {
		d.syncer.OnDeadLetter = d.handleDeadLetter
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.syncer.Run(runCtx)
		}()
	}

	if d.monitor != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.watchConnectivity(runCtx)
		}()
	}

	if d.apiServer != nil {
		if err := d.apiServer.start(runCtx); err != nil {
			cancel()
			d.wg.Wait()
			_ = d.lock.Unlock()
			return err
		}
	}

	d.running.Store(true)
	d.logger.Info("loadout daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop halts background services and releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.apiServer != nil {
		d.apiServer.stop()
	}
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("loadout daemon stopped")
}

// Close stops the daemon and closes its stores.
func (d *Daemon) Close() error {
	d.Stop()
	var errs []error
	if d.queue != nil {
		errs = append(errs, d.queue.Close())
	}
	if d.sessions != nil {
		errs = append(errs, d.sessions.Close())
	}
	return errors.Join(errs...)
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:       d.running.Load(),
		PID:           os.Getpid(),
		QueueDBPath:   filepath.Join(d.cfg.Paths.DataDir, "queue.db"),
		LockFilePath:  d.lockPath,
		QueueCapacity: d.queue.Capacity(),
	}
	if d.monitor != nil {
		status.Online = d.monitor.Online()
	}
	pending, dead, err := d.queue.Counts(ctx)
	if err != nil {
		d.logger.Warn("failed to count queue entries", logging.Error(err))
	} else {
		status.QueuePending = pending
		status.QueueDead = dead
	}
	return status
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// SyncNow runs one sync pass immediately instead of waiting for the next
// connectivity transition.
func (d *Daemon) SyncNow(ctx context.Context) ([]offline.Outcome, error) {
	if d.syncer == nil {
		return nil, errors.New("no backend endpoint configured, queue sync disabled")
	}
	return d.syncer.Sync(ctx)
}

// RetryDead revives dead-lettered queue entries for another round of sync
// attempts.
func (d *Daemon) RetryDead(ctx context.Context) (int64, error) {
	revived, err := d.queue.RetryDead(ctx)
	if err != nil {
		return 0, err
	}
	if revived > 0 {
		d.logger.Info("dead-lettered entries revived", logging.Int64("entries", revived))
	}
	return revived, nil
}

// ClearQueue drops every queued submission. Destructive; exposed for operator
// use only.
func (d *Daemon) ClearQueue(ctx context.Context) (int64, error) {
	removed, err := d.queue.Clear(ctx)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		d.logger.Warn("offline queue cleared", logging.Int64("entries", removed))
	}
	return removed, nil
}

// PublishFrameResult broadcasts one processed frame to websocket consumers.
// Safe to install as a workflow observer.
func (d *Daemon) PublishFrameResult(sessionID string, event api.FrameEvent) {
	event.SessionID = sessionID
	d.hub.Publish(api.EventFrame, event)
}

func (d *Daemon) watchConnectivity(ctx context.Context) {
	events, cancel := d.monitor.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case state, ok := <-events:
			if !ok {
				return
			}
			d.hub.Publish(api.EventConnectivity, api.ConnectivityEvent{
				Online:  state.Online,
				Network: string(state.Network),
			})
		}
	}
}

func (d *Daemon) handleDeadLetter(entry offline.Entry) {
	d.hub.Publish(api.EventSync, api.SyncEvent{
		EntryID: entry.ID,
		Status:  offline.OutcomeDeadLetter,
	})
	if d.notifier == nil {
		return
	}
	ctx, cancelNotify := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancelNotify()
	if err := d.notifier.NotifyDeadLetter(ctx, entry.JobID, entry.RetryCount); err != nil {
		d.logger.Warn("dead-letter notification failed", logging.Error(err))
	}
}
