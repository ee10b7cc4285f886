package registration

import (
	"context"
	"regexp"
)

// uidShape matches this engine's own UID key format, same pattern as
// internal/streamserver's ownership check — the Registration Sync must
// never mutate or delete a registration whose key doesn't match it
// (SPEC_FULL.md §4.7 "Ownership").
var uidShape = regexp.MustCompile(`^[0-9a-f]{16}$`)

func isOwnedUID(uid string) bool { return uidShape.MatchString(uid) }

// Desired is one entry of the Registration Sync's desired set.
type Desired struct {
	UID          string
	FriendlyName string
	StreamURL    string
	SnapshotURL  string
	Service      string
}

// Plan is the convergence operations to apply this tick.
type Plan struct {
	Create      []Desired
	Replace     []Desired // URL differs: delete then create
	RenameOnly  []Desired // only friendly_name differs: in-place update
	Delete      []string
}

// ComputePlan diffs desired against observed owned webcams, applying
// SPEC_FULL.md §4.7's discipline: URL drift forces replace, a friendly-name-
// only difference mutates in place.
func ComputePlan(desired []Desired, observed map[string]Webcam) Plan {
	var plan Plan

	byUID := make(map[string]Desired, len(desired))
	for _, d := range desired {
		byUID[d.UID] = d
		existing, ok := observed[d.UID]
		switch {
		case !ok:
			plan.Create = append(plan.Create, d)
		case existing.StreamURL != d.StreamURL || existing.SnapshotURL != d.SnapshotURL:
			plan.Replace = append(plan.Replace, d)
		case existing.Name != d.FriendlyName:
			plan.RenameOnly = append(plan.RenameOnly, d)
		}
	}

	for uid := range observed {
		if _, stillDesired := byUID[uid]; !stillDesired {
			plan.Delete = append(plan.Delete, uid)
		}
	}
	return plan
}

// OwnedObserved filters a webcam listing down to UID-shaped, owned
// registrations.
func OwnedObserved(webcams []Webcam) map[string]Webcam {
	owned := make(map[string]Webcam)
	for _, w := range webcams {
		if isOwnedUID(w.UID) {
			owned[w.UID] = w
		}
	}
	return owned
}

// Sync applies a Plan against the orchestration API.
type Sync struct {
	client *Client
}

// NewSync constructs a Sync.
func NewSync(client *Client) *Sync { return &Sync{client: client} }

// SyncError records one UID's failed convergence operation.
type SyncError struct {
	UID string
	Op  string
	Err error
}

func (s *Sync) Apply(ctx context.Context, plan Plan) []SyncError {
	var errs []SyncError

	for _, d := range plan.Create {
		if err := s.client.Upsert(ctx, toWebcam(d)); err != nil {
			errs = append(errs, SyncError{UID: d.UID, Op: "create_webcam", Err: err})
		}
	}
	for _, d := range plan.Replace {
		if err := s.client.Delete(ctx, d.UID); err != nil {
			errs = append(errs, SyncError{UID: d.UID, Op: "replace_webcam.delete", Err: err})
			continue
		}
		if err := s.client.Upsert(ctx, toWebcam(d)); err != nil {
			errs = append(errs, SyncError{UID: d.UID, Op: "replace_webcam.create", Err: err})
		}
	}
	for _, d := range plan.RenameOnly {
		if err := s.client.Upsert(ctx, toWebcam(d)); err != nil {
			errs = append(errs, SyncError{UID: d.UID, Op: "rename_webcam", Err: err})
		}
	}
	for _, uid := range plan.Delete {
		if err := s.client.Delete(ctx, uid); err != nil {
			errs = append(errs, SyncError{UID: uid, Op: "delete_webcam", Err: err})
		}
	}
	return errs
}

func toWebcam(d Desired) Webcam {
	return Webcam{
		UID:         d.UID,
		Name:        d.FriendlyName,
		StreamURL:   d.StreamURL,
		SnapshotURL: d.SnapshotURL,
		Service:     d.Service,
	}
}
