package rpc

// DelegateRunRequest is the top-level request for delegating a coding task.
type DelegateRunRequest struct {
	SessionID        string `json:"session_id"`
	CorrelationID    string `json:"correlation_id,omitempty"`
	Task             string `json:"task"`
	WorkingDirectory string `json:"working_directory,omitempty"`
}

// DelegateRunEvent streams back progress from the daemon.
type DelegateRunEvent struct {
	Type          string `json:"type"` // token|message|approval_request|error|done
	SessionID     string `json:"session_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Token         string `json:"token,omitempty"`
	Message       string `json:"message,omitempty"`
	Error         string `json:"error,omitempty"`
	Done          bool   `json:"done,omitempty"`
	FinishReason  string `json:"finish_reason,omitempty"`

	// approval_request events only.
	ApprovalID uint64 `json:"approval_id,omitempty"`
	Tool       string `json:"tool,omitempty"`
	InputJSON  string `json:"input_json,omitempty"`
}

// ApprovalAnswer is the client's verdict on a pending approval request.
type ApprovalAnswer struct {
	ID       uint64 `json:"id"`
	Approved bool   `json:"approved"`
}

// DelegateStreamRequest is the bidirectional stream payload for Connect RPC.
// The first message must contain the Run payload; subsequent messages carry
// control signals (cancellation, approval answers).
type DelegateStreamRequest struct {
	Run           *DelegateRunRequest `json:"run,omitempty"`
	Cancel        bool                `json:"cancel,omitempty"`
	Approval      *ApprovalAnswer     `json:"approval,omitempty"`
	SessionID     string              `json:"session_id,omitempty"`
	CorrelationID string              `json:"correlation_id,omitempty"`
}
