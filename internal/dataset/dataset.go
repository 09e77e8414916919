// Package dataset loads the raw emissions tables and defines the records
// that flow through the reconciler.
package dataset

import (
	"time"
)

// Source identifies which input a row came from.
type Source string

const (
	SourcePrimary       Source = "primary"
	SourceSupplementary Source = "supplementary"
)

// Record is one raw row projected onto the shared schema. Missing values are
// kept so the reconciler can count why rows are dropped.
type Record struct {
	Name     string
	Code     string // empty when the source cell is missing
	Year     int
	Value    float64
	HasValue bool
	Source   Source
	Line     int // 1-based row in the source file, header included
}

// Table is a loaded source after column projection.
type Table struct {
	Source       Source
	Path         string
	Records      []Record
	InvalidYears int // rows skipped because the year cell did not parse
}

// Observation is one canonical (entity, year, value) point.
type Observation struct {
	Name   string
	Code   string
	Year   int
	DS     time.Time
	Y      float64
	Source Source
}

// YearStart returns January 1 of year in UTC.
func YearStart(year int) time.Time {
	return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
}
