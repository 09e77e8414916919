// Package reconcile merges the primary and supplementary emissions tables
// into one canonical per-country series.
package reconcile

import (
	"cmp"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"co2trend/internal/config"
	"co2trend/internal/dataset"
	"co2trend/internal/logging"
)

// ErrEmpty is returned when no observation survives cleaning.
var ErrEmpty = eris.New("reconcile: no observations left after cleaning")

// DropReason names why a row was removed from the canonical table.
type DropReason string

const (
	DropInvalidYear  DropReason = "invalid_year"
	DropZeroValue    DropReason = "zero_value"
	DropMissingValue DropReason = "missing_value"
	DropMissingCode  DropReason = "missing_code"
	DropDuplicate    DropReason = "duplicate"
	DropOutlier      DropReason = "outlier"
)

// DropReasons lists every reason in the order the checks run.
var DropReasons = []DropReason{
	DropInvalidYear,
	DropZeroValue,
	DropMissingValue,
	DropMissingCode,
	DropDuplicate,
	DropOutlier,
}

// Audit records what happened to the input rows.
type Audit struct {
	Read    map[dataset.Source]int // rows loaded per source
	Outside map[dataset.Source]int // rows on the wrong side of the cutover
	Dropped map[DropReason]int
	Kept    int
	Bounds  Bounds
}

// DroppedTotal sums every drop reason.
func (a Audit) DroppedTotal() int {
	n := 0
	for _, c := range a.Dropped {
		n += c
	}
	return n
}

// Result is the canonical table and its audit.
type Result struct {
	Observations []dataset.Observation
	Audit        Audit
}

// LastYear returns the latest year in the table, or 0 when empty.
func (r *Result) LastYear() int {
	last := 0
	for _, o := range r.Observations {
		last = max(last, o.Year)
	}
	return last
}

// IsZeroMeasurement is the rule that a recorded value of exactly zero means
// the measurement is missing, not that emissions were zero.
func IsZeroMeasurement(rec dataset.Record) bool {
	return rec.HasValue && rec.Value == 0
}

// Reconciler merges the two sources around a cutover year.
type Reconciler struct {
	cutover int
	filter  OutlierFilter
	log     *zap.Logger
}

// New returns a Reconciler configured from cfg.
func New(cfg config.ReconcileConfig, log *zap.Logger) *Reconciler {
	return &Reconciler{
		cutover: cfg.CutoverYear,
		filter:  OutlierFilter{K: cfg.OutlierK},
		log:     logging.OrNop(log),
	}
}

// Reconcile takes supplementary rows before the cutover and primary rows from
// the cutover on, cleans them and returns the canonical table.
func (r *Reconciler) Reconcile(primary, supplementary *dataset.Table) (*Result, error) {
	if primary == nil || supplementary == nil {
		return nil, eris.New("reconcile: both source tables are required")
	}

	audit := Audit{
		Read:    map[dataset.Source]int{},
		Outside: map[dataset.Source]int{},
		Dropped: map[DropReason]int{},
	}
	audit.Dropped[DropInvalidYear] = primary.InvalidYears + supplementary.InvalidYears

	combined := make([]dataset.Record, 0, len(primary.Records)+len(supplementary.Records))
	take := func(t *dataset.Table, keep func(year int) bool) {
		audit.Read[t.Source] += len(t.Records) + t.InvalidYears
		for _, rec := range t.Records {
			if !keep(rec.Year) {
				audit.Outside[t.Source]++
				continue
			}
			combined = append(combined, rec)
		}
	}
	take(supplementary, func(y int) bool { return y < r.cutover })
	take(primary, func(y int) bool { return y >= r.cutover })

	slices.SortStableFunc(combined, func(a, b dataset.Record) int {
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.Year, b.Year)
	})

	type key struct {
		code string
		year int
	}
	seen := make(map[key]struct{}, len(combined))
	obs := make([]dataset.Observation, 0, len(combined))
	for _, rec := range combined {
		switch {
		case IsZeroMeasurement(rec):
			audit.Dropped[DropZeroValue]++
			continue
		case !rec.HasValue:
			audit.Dropped[DropMissingValue]++
			continue
		case rec.Code == "":
			audit.Dropped[DropMissingCode]++
			continue
		}

		k := key{rec.Code, rec.Year}
		if _, dup := seen[k]; dup {
			audit.Dropped[DropDuplicate]++
			continue
		}
		seen[k] = struct{}{}

		obs = append(obs, dataset.Observation{
			Name:   rec.Name,
			Code:   rec.Code,
			Year:   rec.Year,
			DS:     dataset.YearStart(rec.Year),
			Y:      rec.Value,
			Source: rec.Source,
		})
	}

	obs, bounds, outliers := r.filter.Filter(obs)
	audit.Dropped[DropOutlier] = outliers
	audit.Bounds = bounds
	audit.Kept = len(obs)

	r.logAudit(audit)

	if len(obs) == 0 {
		return nil, ErrEmpty
	}
	return &Result{Observations: obs, Audit: audit}, nil
}

func (r *Reconciler) logAudit(a Audit) {
	for _, reason := range DropReasons {
		if n := a.Dropped[reason]; n > 0 {
			r.log.Info("reconcile: dropped rows", zap.String("reason", string(reason)), zap.Int("count", n))
		}
	}
	r.log.Info("reconcile: canonical table ready",
		zap.Int("primary_rows", a.Read[dataset.SourcePrimary]),
		zap.Int("supplementary_rows", a.Read[dataset.SourceSupplementary]),
		zap.Int("kept", a.Kept),
		zap.Float64("outlier_lower", a.Bounds.Lower),
		zap.Float64("outlier_upper", a.Bounds.Upper),
	)
}
