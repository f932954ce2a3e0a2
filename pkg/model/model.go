package model

// DispatchJob is the queue payload for one message send attempt.
type DispatchJob struct {
	MessageID int64  `json:"message_id"`
	TenantID  int64  `json:"tenant_id"`
	RunID     *int64 `json:"run_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}
