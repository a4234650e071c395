package harness

import "github.com/roach88/revlog/internal/audit"

// TraceEvent records one executed step.
type TraceEvent struct {
	Seq      int    `json:"seq"`
	Op       string `json:"op"`
	Ref      string `json:"ref"`
	ItemType string `json:"item_type"`
	ItemID   string `json:"item_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success: every step behaved as expected
	// and every assertion held.
	Pass bool `json:"pass"`

	// Trace contains the executed steps in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Transcript is the final recorded history, compared against golden
	// files.
	Transcript *Transcript `json:"transcript,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Transcript is the history of every record a scenario touched, in the
// order the records were created.
type Transcript struct {
	ScenarioName string          `json:"scenario_name"`
	Records      []RecordHistory `json:"records"`
}

// RecordHistory is the change history of one record.
type RecordHistory struct {
	Ref      string       `json:"ref"`
	ItemType string       `json:"item_type"`
	ItemID   string       `json:"item_id"`
	Changes  []ChangeView `json:"changes"`
}

// ChangeView is the timestamp-free view of a change used in transcripts.
type ChangeView struct {
	ID        int64           `json:"id"`
	Version   int             `json:"version"`
	Action    audit.Action    `json:"action"`
	ActorID   *string         `json:"actor_id"`
	ChangeSet audit.ChangeSet `json:"change_set"`
	Snapshot  map[string]any  `json:"snapshot"`
}
