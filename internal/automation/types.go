package automation

// Goal is a classifier-produced automation payload: an intent, a
// confidence estimate and the steps that should realise it.
type Goal struct {
	Text        string  `json:"goal"`
	DeviceID    string  `json:"device_id,omitempty"`
	UserID      string  `json:"user_id,omitempty"`
	Confidence  float64 `json:"confidence"`
	SafetyLevel string  `json:"safety_level,omitempty"`
	Steps       []Step  `json:"steps"`
	Fallback    string  `json:"fallback,omitempty"`
}

// Step is one action within a goal.
type Step struct {
	Action string         `json:"action"`
	Target string         `json:"target,omitempty"`
	Params map[string]any `json:"parameters,omitempty"`
}

// Run statuses. A timed-out step is reported distinctly from a failed
// one: its outcome is unknown and the run cannot safely continue.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusTimeout   = "timeout"
)

// RecoveryOptions are the choices offered to the caller after a halted
// run. Always exactly these three; the router never retries on its own.
var RecoveryOptions = []string{"retry", "manual", "cancel"}

// confidencePenalty is subtracted from a goal's confidence when a run
// fails, floored at zero.
const confidencePenalty = 0.1

// RunReport describes how far a goal got and what the caller can do next.
type RunReport struct {
	GoalText       string   `json:"goal"`
	DeviceID       string   `json:"device_id"`
	TotalSteps     int      `json:"total_steps"`
	CompletedSteps int      `json:"completed_steps"`
	FailedStep     int      `json:"failed_step"` // -1 when the run completed
	FailedCommand  string   `json:"failed_command,omitempty"`
	Status         string   `json:"status"`
	Confidence     float64  `json:"confidence"`
	Recovery       []string `json:"recovery,omitempty"`
	Fallback       string   `json:"fallback,omitempty"`
	Detail         string   `json:"detail,omitempty"`
}
