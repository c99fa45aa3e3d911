package pipeline

import "time"

// VariableOutcome records how one cataloged variable fared during a date's
// conversion. A non-empty Error means the variable was dropped.
type VariableOutcome struct {
	Name  string `json:"name"`
	Steps int    `json:"steps,omitempty"`
	Error string `json:"error,omitempty"`
}

// Dropped reports whether the variable was left out of the store.
func (o VariableOutcome) Dropped() bool { return o.Error != "" }

// Report is the outcome of one date's conversion. A failed date has a
// non-empty Error and no Store.
type Report struct {
	Date         string            `json:"date"`
	Store        string            `json:"store,omitempty"`
	Files        int               `json:"files"`
	Records      int               `json:"records"`
	Skipped      int               `json:"skipped,omitempty"`
	Steps        []int             `json:"steps,omitempty"`
	MissingSteps []int             `json:"missing_steps,omitempty"`
	Variables    []VariableOutcome `json:"variables,omitempty"`
	Chunks       int               `json:"chunks,omitempty"`
	Bytes        int64             `json:"bytes,omitempty"`
	Problems     []string          `json:"problems,omitempty"`
	Error        string            `json:"error,omitempty"`
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at"`
}

// Failed reports whether the date published nothing.
func (r *Report) Failed() bool { return r.Error != "" }

// Duration is the wall time the conversion took.
func (r *Report) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// WrittenVariables lists the names of variables that made it into the store.
func (r *Report) WrittenVariables() []string {
	var names []string
	for _, v := range r.Variables {
		if !v.Dropped() {
			names = append(names, v.Name)
		}
	}
	return names
}
