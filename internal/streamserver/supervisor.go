package streamserver

import (
	"context"
	"regexp"
	"sync"
	"time"
)

// uidPathPattern recognizes the exact UID shape this engine creates paths
// under, so the Supervisor never touches paths it did not create
// (SPEC_FULL.md §4.6: "the core never deletes what it did not create").
var uidPathPattern = regexp.MustCompile(`^[0-9a-f]{16}$`)

func isOwnedName(name string) bool { return uidPathPattern.MatchString(name) }

// Desired is one entry of the Supervisor's desired set.
type Desired struct {
	UID         string
	CommandHash string
	Command     string
}

// Plan is the set of operations to converge the streaming server to the
// desired state, computed once per tick.
type Plan struct {
	Create  []Desired
	Replace []Desired
	Delete  []string
}

// ComputePlan diffs desired against observed per SPEC_FULL.md §4.6's
// three-way set-diff discipline. observedOwned maps UID -> the command hash
// currently configured on the streaming server for owned paths only.
func ComputePlan(desired []Desired, observedOwned map[string]string) Plan {
	var plan Plan

	desiredByUID := make(map[string]Desired, len(desired))
	for _, d := range desired {
		desiredByUID[d.UID] = d
		hash, exists := observedOwned[d.UID]
		switch {
		case !exists:
			plan.Create = append(plan.Create, d)
		case hash != d.CommandHash:
			plan.Replace = append(plan.Replace, d)
		}
	}

	for uid := range observedOwned {
		if _, stillDesired := desiredByUID[uid]; !stillDesired {
			plan.Delete = append(plan.Delete, uid)
		}
	}
	return plan
}

// Backoff tracks per-UID exponential retry delay, base 1s cap 60s, per
// SPEC_FULL.md §8 testable property 6. Not safe for concurrent calls on the
// same UID from multiple goroutines; the Reconciler's per-tick fan-out
// issues at most one operation per UID, so this is never contended on the
// same key.
type Backoff struct {
	mu       sync.Mutex
	base     time.Duration
	capDelay time.Duration
	attempts map[string]int
	nextTry  map[string]time.Time
}

// NewBackoff constructs a Backoff. base and capDelay come from
// config.ReconcilerConfig.BackoffBase/BackoffCap.
func NewBackoff(base, capDelay time.Duration) *Backoff {
	return &Backoff{
		base:     base,
		capDelay: capDelay,
		attempts: make(map[string]int),
		nextTry:  make(map[string]time.Time),
	}
}

// Allow reports whether uid may be retried now.
func (b *Backoff) Allow(uid string, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	next, scheduled := b.nextTry[uid]
	return !scheduled || !now.Before(next)
}

// RecordFailure schedules the next retry no sooner than
// min(cap, base*2^n) after now, and increments the attempt counter.
func (b *Backoff) RecordFailure(uid string, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.attempts[uid]
	delay := b.base
	for i := 0; i < n && delay < b.capDelay; i++ {
		delay *= 2
	}
	if delay > b.capDelay {
		delay = b.capDelay
	}
	b.nextTry[uid] = now.Add(delay)
	b.attempts[uid] = n + 1
}

// RecordSuccess clears backoff state for uid.
func (b *Backoff) RecordSuccess(uid string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.attempts, uid)
	delete(b.nextTry, uid)
}

// Supervisor applies a Plan against the streaming server, skipping UIDs
// still under backoff and recording new failures/successes.
type Supervisor struct {
	client  *Client
	backoff *Backoff
}

// NewSupervisor constructs a Supervisor.
func NewSupervisor(client *Client, backoff *Backoff) *Supervisor {
	return &Supervisor{client: client, backoff: backoff}
}

// SyncError records one UID's failed convergence operation within a tick,
// for the Reconciler to surface as `sync_errors` (SPEC_FULL.md §7).
type SyncError struct {
	UID string
	Op  string
	Err error
}

// Apply executes plan against the streaming server, skipping any UID
// currently under backoff. It never aborts on a single failure; every
// failure is recorded and returned for the Reconciler's sync_errors report.
func (s *Supervisor) Apply(ctx context.Context, plan Plan, now time.Time) []SyncError {
	var errs []SyncError

	for _, d := range plan.Create {
		if !s.backoff.Allow(d.UID, now) {
			continue
		}
		if err := s.client.CreatePath(ctx, d.UID, d.Command); err != nil {
			s.backoff.RecordFailure(d.UID, now)
			errs = append(errs, SyncError{UID: d.UID, Op: "create_path", Err: err})
			continue
		}
		s.backoff.RecordSuccess(d.UID)
	}

	for _, d := range plan.Replace {
		if !s.backoff.Allow(d.UID, now) {
			continue
		}
		if err := s.client.DeletePath(ctx, d.UID); err != nil {
			s.backoff.RecordFailure(d.UID, now)
			errs = append(errs, SyncError{UID: d.UID, Op: "replace_path.delete", Err: err})
			continue
		}
		if err := s.client.CreatePath(ctx, d.UID, d.Command); err != nil {
			s.backoff.RecordFailure(d.UID, now)
			errs = append(errs, SyncError{UID: d.UID, Op: "replace_path.create", Err: err})
			continue
		}
		s.backoff.RecordSuccess(d.UID)
	}

	for _, uid := range plan.Delete {
		if !s.backoff.Allow(uid, now) {
			continue
		}
		if err := s.client.DeletePath(ctx, uid); err != nil {
			s.backoff.RecordFailure(uid, now)
			errs = append(errs, SyncError{UID: uid, Op: "delete_path", Err: err})
			continue
		}
		s.backoff.RecordSuccess(uid)
	}

	return errs
}

// OwnedObserved filters a streaming server path listing down to
// UID-shaped, owned paths, mapped to a command hash the caller supplies
// (computed from the path's configured runOnDemand command).
func OwnedObserved(paths []Path, hashOf func(Path) string) map[string]string {
	owned := make(map[string]string)
	for _, p := range paths {
		if isOwnedName(p.Name) {
			owned[p.Name] = hashOf(p)
		}
	}
	return owned
}
