package domain

// Trigger type strings carried on the wire. The renderer publishes these
// on the billing topic; the scheduler publishes the sweep trigger.
const (
	TriggerJobSucceeded = "video.rendered"
	TriggerJobFailed    = "video.failed"
	TriggerSweep        = "sweep.scheduled"
)

// Envelope is the decoded shape of an inbound trigger. Fields beyond Type
// are populated only for the event kinds that carry them; validation of
// required fields happens in the processor, not at decode time.
type Envelope struct {
	Type         string `json:"type"`
	JobID        string `json:"jobId,omitempty"`
	UserID       string `json:"userId,omitempty"`
	Seconds      uint   `json:"seconds,omitempty"`
	Model        string `json:"model,omitempty"`
	ResultMarker string `json:"resultMarker,omitempty"`
}

// SuccessEvent is the validated payload of a video.rendered trigger.
type SuccessEvent struct {
	JobID        string
	UserID       string
	Seconds      uint
	Model        string
	ResultMarker string
}

// FailureEvent is the validated payload of a video.failed trigger.
type FailureEvent struct {
	JobID  string
	UserID string
}
