package audit

// Policy controls which fields of a type are audited and how much history is
// kept. The zero value tracks every field except timestamps and keeps the
// engine-wide retention.
type Policy struct {
	// Only, when non-empty, is the allow-list of audited fields.
	Only []string

	// Except removes fields whether or not Only is set.
	Except []string

	// TrackTimestamps includes created/updated/deleted timestamp fields.
	// Timestamps are ignored by default.
	TrackTimestamps bool

	// MaxRecords keeps only the N most recent changes per record.
	// Zero falls back to the engine default; negative means unlimited.
	MaxRecords int
}

// DefaultPolicy returns the policy used when none is given.
func DefaultPolicy() Policy {
	return Policy{}
}

// IgnoresTimestamps reports whether timestamp fields are excluded.
func (p Policy) IgnoresTimestamps() bool {
	return !p.TrackTimestamps
}

// retention resolves the effective cap against the engine default.
// A result <= 0 means unlimited.
func (p Policy) retention(engineDefault int) int {
	if p.MaxRecords != 0 {
		return p.MaxRecords
	}
	return engineDefault
}
