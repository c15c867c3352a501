// Package cleanupplan holds the Cleanup Plan data model: a product-scoped,
// named set of report hashes grouped for later triage.
package cleanupplan

import "time"

// Record is the Cleanup Plan entity of spec §3.
type Record struct {
	ID          string
	Product     string
	Name        string
	Description string
	DueDate     *time.Time
	ClosedAt    *time.Time
	ReportHashes map[string]bool
}

// Closed reports whether the plan has been closed.
func (r Record) Closed() bool { return r.ClosedAt != nil }

// Patch carries optional field updates for update(); nil fields are unchanged.
type Patch struct {
	Name        *string
	Description *string
	DueDate     *time.Time
}
