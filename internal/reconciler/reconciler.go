// Package reconciler implements the Reconciler: the control loop that
// composes the Device Tracker, Hardware Probe, Profile Selector, Command
// Synthesizer, Settings Store, Stream Supervisor, and Registration Sync
// into a single serialized desired-to-observed convergence loop, per
// SPEC_FULL.md §4.8.
package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mrmees/ravens-perch/internal/apierrors"
	"github.com/mrmees/ravens-perch/internal/command"
	"github.com/mrmees/ravens-perch/internal/common"
	"github.com/mrmees/ravens-perch/internal/config"
	"github.com/mrmees/ravens-perch/internal/device"
	"github.com/mrmees/ravens-perch/internal/hardware"
	"github.com/mrmees/ravens-perch/internal/health"
	"github.com/mrmees/ravens-perch/internal/logging"
	"github.com/mrmees/ravens-perch/internal/profile"
	"github.com/mrmees/ravens-perch/internal/registration"
	"github.com/mrmees/ravens-perch/internal/store"
	"github.com/mrmees/ravens-perch/internal/streamserver"
)

var _ common.Stoppable = (*Reconciler)(nil)

const registrationService = "webrtc-mediamtx"

// Dependencies bundles every collaborator the Reconciler composes. All
// fields except Health are required; Dependencies exists so New's signature doesn't grow
// a parameter per collaborator as the spec's component list grew.
type Dependencies struct {
	Tracker      *device.Tracker
	Probe        *hardware.Probe
	Store        *store.Store
	StreamClient *streamserver.Client
	StreamSup    *streamserver.Supervisor
	RegClient    *registration.Client
	RegSync      *registration.Sync
	Logger       *logging.Logger
	// Health is optional: when set, each tick reports the streaming server
	// and orchestration API reachability into it for the HTTP health
	// endpoint's /health/detailed and /health/ready responses.
	Health *health.HealthMonitor
}

// Reconciler owns the single control loop. Per SPEC_FULL.md §4.8, it runs
// one logical task at a time: ticks never overlap. Within a tick, bounded
// parallel API fan-out is permitted (SPEC_FULL.md §5) and settles before
// observed state is committed.
type Reconciler struct {
	deps Dependencies

	tickInterval time.Duration
	tickBudget   time.Duration
	maxFanOut    int

	streamCfg config.StreamServerConfig
	orchCfg   config.OrchestrationConfig

	mu       sync.Mutex
	fatalErr error

	done chan struct{}
}

// New constructs a Reconciler. reconcilerCfg supplies tick cadence/budget/
// fan-out limits; streamCfg and orchCfg carry the fixed endpoint shape the
// Command Synthesizer and Registration Sync render URLs against.
func New(deps Dependencies, reconcilerCfg config.ReconcilerConfig, streamCfg config.StreamServerConfig, orchCfg config.OrchestrationConfig) *Reconciler {
	maxFanOut := reconcilerCfg.MaxFanOut
	if maxFanOut <= 0 {
		maxFanOut = 2
	}
	return &Reconciler{
		deps:         deps,
		tickInterval: durationFromSeconds(reconcilerCfg.TickInterval, 10*time.Second),
		tickBudget:   durationFromSeconds(reconcilerCfg.TickBudget, 30*time.Second),
		maxFanOut:    maxFanOut,
		streamCfg:    streamCfg,
		orchCfg:      orchCfg,
		done:         make(chan struct{}),
	}
}

func durationFromSeconds(s float64, def time.Duration) time.Duration {
	if s <= 0 {
		return def
	}
	return time.Duration(s * float64(time.Second))
}

// Run is the Reconciler's main loop. It never spawns a tick while another
// is in flight: the select below is single-threaded, and a device-event
// drain plus tick run to completion before the loop reselects, so a ticker
// tick arriving mid-tick is simply dropped by the channel's own single-slot
// buffer (time.Ticker never queues more than one pending tick) — exactly
// the "single-slot queue, additional triggers coalesce" discipline
// SPEC_FULL.md §4.8 asks for, with no extra machinery.
func (r *Reconciler) Run(ctx context.Context) error {
	defer close(r.done)

	ticker := time.NewTicker(r.tickInterval)
	defer ticker.Stop()

	r.runTick(ctx)
	if err := r.checkFatal(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-r.deps.Tracker.Events():
			r.applyEvent(ev)
			r.drainEvents()
			r.runTick(ctx)
		case <-ticker.C:
			r.runTick(ctx)
		}
		if err := r.checkFatal(); err != nil {
			return err
		}
	}
}

// Stop waits for Run's loop to exit after ctx (the one passed to Run) is
// cancelled, matching this codebase's common.Stoppable-style shutdown
// contract used by internal/ingress.
func (r *Reconciler) Stop(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reconciler) checkFatal() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fatalErr
}

func (r *Reconciler) setFatal(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fatalErr == nil {
		r.fatalErr = err
	}
}

// drainEvents empties any already-buffered tracker events without blocking,
// so a burst of hotplug events collapses into the single tick that follows.
func (r *Reconciler) drainEvents() {
	for {
		select {
		case ev := <-r.deps.Tracker.Events():
			r.applyEvent(ev)
		default:
			return
		}
	}
}

// applyEvent is tick step 1: update the Settings Store's connected and
// capabilities fields, creating a record on first observation of a UID.
func (r *Reconciler) applyEvent(ev device.Event) {
	switch ev.Kind {
	case device.Appeared, device.Changed:
		r.observeAttached(ev)
	case device.Disappeared:
		r.observeDetached(ev)
	}
}

func (r *Reconciler) observeAttached(ev device.Event) {
	existing, hadRecord := r.deps.Store.Get(ev.UID)

	caps := ev.Capabilities
	if caps.IsEmpty() && hadRecord && !existing.Capabilities.IsEmpty() {
		r.deps.Logger.WithField("uid", ev.UID).Warn("capability probe returned no formats, keeping last-known capabilities")
		caps = toCapabilityMap(existing.Capabilities)
	}

	overrides := overridesFromRecord(existing, hadRecord)
	effectiveScore := r.deps.Probe.EffectiveScore()
	prof := profile.Select(caps, effectiveScore, overrides, r.deps.Probe)
	if prof.Warning != "" {
		r.deps.Logger.WithField("uid", ev.UID).WithField("warning", prof.Warning).Warn("profile selector fell back from override")
	}

	rec := existing
	rec.UID = ev.UID
	rec.DevicePath = ev.DevicePath
	rec.VendorID = ev.Fingerprint.VendorID
	rec.ProductID = ev.Fingerprint.ProductID
	rec.Serial = ev.Fingerprint.Serial
	rec.BusPath = ev.Fingerprint.BusPath
	if !caps.IsEmpty() {
		rec.Capabilities = toCapabilitySnapshot(caps)
	}
	rec.Format = prof.Format
	rec.Resolution = prof.Resolution.String()
	rec.Framerate = prof.Framerate
	rec.BitrateKbp = prof.BitrateKbp
	rec.Encoder = string(prof.Encoder)
	rec.InputFormat = prof.Format
	rec.Connected = true
	if !hadRecord {
		rec.HardwareName = defaultFriendlyName(ev.UID)
		rec.FriendlyName = rec.HardwareName
		rec.Enabled = true
	}
	rec = store.Touch(rec, time.Now())

	if err := r.deps.Store.Upsert(rec); err != nil {
		r.handleStoreError("upsert", ev.UID, err)
		return
	}
	if !hadRecord {
		r.logEvent("info", ev.UID, "camera first observed")
	}
}

func (r *Reconciler) observeDetached(ev device.Event) {
	existing, hadRecord := r.deps.Store.Get(ev.UID)
	if !hadRecord {
		return
	}
	existing.Connected = false
	existing = store.Touch(existing, time.Now())
	if err := r.deps.Store.Upsert(existing); err != nil {
		r.handleStoreError("upsert", ev.UID, err)
		return
	}
	r.logEvent("info", ev.UID, "camera disconnected")
}

// logEvent appends a row to the Settings Store's append-only logs table
// (SPEC_FULL.md §6). Best-effort: a failure here is logged but never
// promoted to a fatal error, since the audit trail is secondary to the
// camera record write it follows.
func (r *Reconciler) logEvent(level, uid, message string) {
	err := r.deps.Store.AppendLog(store.LogEntry{
		TS:        time.Now(),
		Level:     level,
		CameraUID: uid,
		Message:   message,
	})
	if err != nil {
		r.deps.Logger.WithField("uid", uid).WithError(err).Warn("failed to append audit log entry")
	}
}

func (r *Reconciler) handleStoreError(op, uid string, err error) {
	r.deps.Logger.WithField("uid", uid).WithField("op", op).WithError(err).Error("settings store write failed")
	if apierrors.IsFatal(err) {
		r.setFatal(fmt.Errorf("settings store %s: %w", op, err))
	}
}

func defaultFriendlyName(uid string) string {
	prefix := uid
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return "Camera " + prefix
}

// runTick is tick steps 2-6: read desired state, probe liveness, converge
// both backends (in parallel, bounded by maxFanOut), and log per-UID
// convergence errors. Observed state (connected/capabilities) was already
// committed to the Store in step 1 by applyEvent/drainEvents, so there is
// no separate commit phase here beyond the convergence calls themselves.
//
// runTick attaches one generated correlation ID to the logger it threads
// through both convergence passes. The Logger writes that ID only from its
// *WithContext methods, so the Warn lines this tick emits do not carry it.
func (r *Reconciler) runTick(parentCtx context.Context) {
	ctx, cancel := context.WithTimeout(parentCtx, r.tickBudget)
	defer cancel()

	log := r.deps.Logger.WithCorrelationID(logging.GenerateCorrelationID())

	cams := r.deps.Store.List()
	streamDesired := r.desiredStreaming(cams)
	regDesired := r.desiredRegistration(cams)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxFanOut)

	var mu sync.Mutex
	var streamErrs []streamserver.SyncError
	var regErrs []registration.SyncError

	g.Go(func() error {
		errs := r.convergeStreamServer(gctx, log, streamDesired)
		mu.Lock()
		streamErrs = append(streamErrs, errs...)
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		errs := r.convergeRegistration(gctx, log, regDesired)
		mu.Lock()
		regErrs = append(regErrs, errs...)
		mu.Unlock()
		return nil
	})
	_ = g.Wait() // both goroutines always return nil; failures are per-UID and collected above, never aborting the tick

	for _, e := range streamErrs {
		log.WithField("uid", e.UID).WithField("op", e.Op).WithError(e.Err).Warn("stream supervisor convergence error")
	}
	for _, e := range regErrs {
		log.WithField("uid", e.UID).WithField("op", e.Op).WithError(e.Err).Warn("registration sync convergence error")
	}
}

func (r *Reconciler) convergeStreamServer(ctx context.Context, log *logging.Logger, desired []streamserver.Desired) []streamserver.SyncError {
	if err := r.deps.StreamClient.HealthCheck(ctx); err != nil {
		log.WithError(err).Warn("streaming server unreachable this tick, skipping stream convergence")
		r.reportComponent("stream_server", false, err.Error())
		return nil
	}
	r.reportComponent("stream_server", true, "")
	paths, err := r.deps.StreamClient.ListPaths(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to list streaming server paths")
		return nil
	}
	observed := streamserver.OwnedObserved(paths, func(p streamserver.Path) string {
		return command.ContentHash(p.RunOnDemand)
	})
	plan := streamserver.ComputePlan(desired, observed)
	return r.deps.StreamSup.Apply(ctx, plan, time.Now())
}

func (r *Reconciler) convergeRegistration(ctx context.Context, log *logging.Logger, desired []registration.Desired) []registration.SyncError {
	if err := r.deps.RegClient.HealthCheck(ctx); err != nil {
		log.WithError(err).Warn("orchestration API unreachable this tick, skipping registration convergence")
		r.reportComponent("orchestration_api", false, err.Error())
		return nil
	}
	r.reportComponent("orchestration_api", true, "")
	webcams, err := r.deps.RegClient.ListWebcams(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to list orchestration webcams")
		return nil
	}
	observed := registration.OwnedObserved(webcams)
	plan := registration.ComputePlan(desired, observed)
	return r.deps.RegSync.Apply(ctx, plan)
}

// reportComponent is a no-op when Dependencies.Health is unset (e.g. in
// tests), so the health-reporting wire-in never forces callers to stub it.
func (r *Reconciler) reportComponent(name string, healthy bool, message string) {
	if r.deps.Health == nil {
		return
	}
	status := health.HealthStatusHealthy
	if !healthy {
		status = health.HealthStatusDegraded
	}
	r.deps.Health.UpdateComponentStatus(name, status, message, nil)
}

func (r *Reconciler) desiredStreaming(cams []store.Camera) []streamserver.Desired {
	var desired []streamserver.Desired
	for _, c := range cams {
		if !c.Enabled || !c.Connected {
			continue
		}
		rec, ok := r.toCommandRecord(c)
		if !ok {
			continue
		}
		cmd := command.Synthesize(rec, command.Endpoint{Host: r.streamCfg.Host, RTSPPort: r.streamCfg.RTSPPort})
		desired = append(desired, streamserver.Desired{UID: c.UID, CommandHash: command.ContentHash(cmd), Command: cmd})
	}
	return desired
}

func (r *Reconciler) toCommandRecord(c store.Camera) (command.Record, bool) {
	res, ok := parseResolution(c.Resolution)
	if !ok {
		return command.Record{}, false
	}
	rec := command.Record{
		UID:         c.UID,
		DevicePath:  c.DevicePath,
		InputFormat: c.InputFormat,
		Width:       res.Width,
		Height:      res.Height,
		Framerate:   c.Framerate,
		BitrateKbp:  c.BitrateKbp,
		Rotation:    c.Rotation,
		Encoder:     hardware.Encoder(c.Encoder),
		OverlayPath: c.OverlayPath,
	}
	if rec.Encoder == "" {
		rec.Encoder = hardware.EncoderSoftware
	}
	if rec.Encoder == hardware.EncoderSoftware {
		rec = command.RecordFromCodec(rec, r.streamCfg.Codec)
	}
	return rec, true
}

func (r *Reconciler) desiredRegistration(cams []store.Camera) []registration.Desired {
	var desired []registration.Desired
	for _, c := range cams {
		if !c.Enabled || !c.Connected || !c.MoonrakerEnabled {
			continue
		}
		streamURL, snapshotURL := registration.RenderURLs(r.orchCfg.BaseHost, r.streamCfg.WebRTCPort, r.orchCfg.SnapshotPathTemplate, c.UID)
		desired = append(desired, registration.Desired{
			UID:          c.UID,
			FriendlyName: c.FriendlyName,
			StreamURL:    streamURL,
			SnapshotURL:  snapshotURL,
			Service:      registrationService,
		})
	}
	return desired
}
