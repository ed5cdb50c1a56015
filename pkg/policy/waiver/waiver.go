package waiver

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"mercator-hq/tollgate/pkg/evidence"
)

// Waiver is an exception register entry read as a time-bounded permission
// for a rule, policy, risk, or record identifier to fail without blocking.
type Waiver struct {
	ID          string                   `json:"id"`
	Target      string                   `json:"target"`
	Status      evidence.ExceptionStatus `json:"status"`
	Owner       string                   `json:"owner,omitempty"`
	Description string                   `json:"description,omitempty"`

	// Expiry is the end of the waiver's validity. It is the zero time when
	// ExpiryRaw could not be parsed.
	Expiry    time.Time `json:"expiry"`
	ExpiryRaw string    `json:"expiry_raw"`

	Source     string              `json:"source"`
	Provenance evidence.Provenance `json:"provenance"`
}

// Approved reports whether the waiver carries approved status.
func (w Waiver) Approved() bool {
	return w.Status == evidence.ExceptionApproved
}

// Expired reports whether the waiver has lapsed at now, either because it
// is marked expired or because its expiry date is not after now.
func (w Waiver) Expired(now time.Time) bool {
	if w.Status == evidence.ExceptionExpired {
		return true
	}
	return !w.Expiry.IsZero() && !w.Expiry.After(now)
}

// Valid reports whether the waiver is approved and unexpired at now. A
// waiver whose expiry cannot be read is never valid.
func (w Waiver) Valid(now time.Time) bool {
	return w.Approved() && !w.Expiry.IsZero() && w.Expiry.After(now)
}

// FromSet builds waivers from the exception records of the named sources.
// Unknown sources and unavailable sources contribute nothing. Expiry dates
// are read in loc; a date that fails to parse yields a warning and a waiver
// that can never be valid.
func FromSet(set *evidence.Set, sources []string, loc *time.Location) ([]Waiver, []evidence.Warning) {
	var waivers []Waiver
	var warnings []evidence.Warning

	for _, id := range sources {
		src := set.Get(id)
		if src == nil || !src.Status.Available() {
			continue
		}
		for _, rec := range src.Records {
			exc := rec.Exception
			if exc == nil {
				continue
			}

			w := Waiver{
				ID:          exc.ID,
				Target:      exc.PolicyOrRiskID,
				Status:      exc.Status,
				Owner:       exc.RiskOwner,
				Description: exc.Description,
				ExpiryRaw:   exc.ExpiryDate,
				Source:      id,
				Provenance:  rec.Provenance,
			}
			if t, err := evidence.ParseDate(exc.ExpiryDate, loc); err == nil {
				w.Expiry = t
			} else {
				warnings = append(warnings, evidence.Warning{
					Kind:    evidence.WarnDateParse,
					Source:  id,
					Path:    rec.Provenance.Path,
					Line:    rec.Provenance.StartLine,
					Message: fmt.Sprintf("waiver %s: %v; the waiver is not honored", exc.ID, err),
				})
			}
			waivers = append(waivers, w)
		}
	}

	return waivers, warnings
}

// Resolution is the outcome of resolving waivers for a set of keys.
type Resolution struct {
	// Waiver is the selected valid waiver, or nil.
	Waiver *Waiver

	// Candidates is the number of valid waivers that matched.
	Candidates int

	// Ambiguous is set when more than one valid waiver matched.
	Ambiguous bool

	// Expired lists matching waivers that have lapsed.
	Expired []Waiver

	// Unapproved lists matching waivers that are pending or rejected.
	Unapproved []Waiver

	// Unreadable lists matching approved waivers whose expiry date could
	// not be parsed.
	Unreadable []Waiver
}

// Waived reports whether a valid waiver was selected.
func (r Resolution) Waived() bool {
	return r.Waiver != nil
}

// Resolver matches identifiers against waivers at a fixed evaluation time.
// Matching ignores case and separators.
type Resolver struct {
	waivers  []Waiver
	byTarget map[string][]int
	now      time.Time
	logger   *slog.Logger
}

// NewResolver creates a resolver over waivers, evaluated at now.
func NewResolver(waivers []Waiver, now time.Time, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{
		waivers:  waivers,
		byTarget: make(map[string][]int),
		now:      now,
		logger:   logger.With("component", "waiver.resolver"),
	}
	for i, w := range waivers {
		key := evidence.NormalizeID(w.Target)
		if key == "" {
			continue
		}
		r.byTarget[key] = append(r.byTarget[key], i)
	}
	return r
}

// Resolve returns the waiver covering any of keys. When several valid
// waivers match, the one with the latest expiry wins and ties go to the
// lowest waiver ID; the ambiguity is logged and reported.
func (r *Resolver) Resolve(keys ...string) Resolution {
	var res Resolution
	var valid []Waiver

	seen := make(map[int]bool)
	for _, key := range keys {
		for _, idx := range r.byTarget[evidence.NormalizeID(key)] {
			if seen[idx] {
				continue
			}
			seen[idx] = true

			w := r.waivers[idx]
			switch {
			case w.Valid(r.now):
				valid = append(valid, w)
			case w.Expired(r.now):
				res.Expired = append(res.Expired, w)
			case !w.Approved():
				res.Unapproved = append(res.Unapproved, w)
			default:
				res.Unreadable = append(res.Unreadable, w)
			}
		}
	}

	sortByID(res.Expired)
	sortByID(res.Unapproved)
	sortByID(res.Unreadable)

	if len(valid) == 0 {
		return res
	}

	sort.Slice(valid, func(i, j int) bool {
		if !valid[i].Expiry.Equal(valid[j].Expiry) {
			return valid[i].Expiry.After(valid[j].Expiry)
		}
		return valid[i].ID < valid[j].ID
	})

	res.Waiver = &valid[0]
	res.Candidates = len(valid)
	res.Ambiguous = len(valid) > 1

	if res.Ambiguous {
		ids := make([]string, len(valid))
		for i, w := range valid {
			ids[i] = w.ID
		}
		r.logger.Warn("multiple valid waivers match; latest expiry wins",
			"keys", strings.Join(keys, ","),
			"candidates", ids,
			"selected", res.Waiver.ID,
		)
	}

	return res
}

// ExpiringWithin returns valid waivers that expire within window of the
// evaluation time, ordered by expiry.
func (r *Resolver) ExpiringWithin(window time.Duration) []Waiver {
	if window <= 0 {
		return nil
	}
	limit := r.now.Add(window)

	var out []Waiver
	for _, w := range r.waivers {
		if w.Valid(r.now) && !w.Expiry.After(limit) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Expiry.Equal(out[j].Expiry) {
			return out[i].Expiry.Before(out[j].Expiry)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Stats summarizes the exception register at the evaluation time.
type Stats struct {
	Total        int `json:"total"`
	Approved     int `json:"approved"`
	Pending      int `json:"pending"`
	Rejected     int `json:"rejected"`
	Expired      int `json:"expired"`
	ExpiringSoon int `json:"expiring_soon"`
}

// Stats counts waivers by effective state. An approved waiver past its
// expiry counts as expired, not approved.
func (r *Resolver) Stats(window time.Duration) Stats {
	s := Stats{Total: len(r.waivers)}
	for _, w := range r.waivers {
		switch {
		case w.Expired(r.now):
			s.Expired++
		case w.Status == evidence.ExceptionApproved:
			s.Approved++
		case w.Status == evidence.ExceptionPending:
			s.Pending++
		case w.Status == evidence.ExceptionRejected:
			s.Rejected++
		}
	}
	s.ExpiringSoon = len(r.ExpiringWithin(window))
	return s
}

// Waivers returns every waiver known to the resolver.
func (r *Resolver) Waivers() []Waiver {
	return r.waivers
}

func sortByID(ws []Waiver) {
	sort.Slice(ws, func(i, j int) bool { return ws[i].ID < ws[j].ID })
}
