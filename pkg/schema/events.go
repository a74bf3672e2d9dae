package schema

// Lifecycle event types emitted during execution. Consumed by the chat UI
// and logging collaborators through the streaming hub, and appended to the
// store event log.
const (
	EventWorkflowStart = "workflow:start"
	EventWorkflowEnd   = "workflow:end"
	EventWorkflowError = "workflow:error"

	EventNodeStart = "workflow:node_start"
	EventNodeEnd   = "workflow:node_end"
	EventNodeRetry = "workflow:node_retry"

	EventDefinitionRegistered = "definition:registered"
	EventDefinitionUpdated    = "definition:updated"
)

// WorkflowStartPayload is the payload of EventWorkflowStart.
type WorkflowStartPayload struct {
	WorkflowID string `json:"workflow_id"`
	Name       string `json:"name,omitempty"`
}

// NodeStartPayload is the payload of EventNodeStart.
type NodeStartPayload struct {
	WorkflowID string   `json:"workflow_id"`
	NodeID     string   `json:"node_id"`
	NodeType   NodeType `json:"node_type"`
}

// NodeEndPayload is the payload of EventNodeEnd.
type NodeEndPayload struct {
	WorkflowID string      `json:"workflow_id"`
	NodeID     string      `json:"node_id"`
	NodeType   NodeType    `json:"node_type"`
	DurationMs int64       `json:"duration_ms"`
	Result     *NodeResult `json:"result,omitempty"`
}

// WorkflowEndPayload is the payload of EventWorkflowEnd.
type WorkflowEndPayload struct {
	WorkflowID string          `json:"workflow_id"`
	Status     ExecutionStatus `json:"status"`
	DurationMs int64           `json:"duration_ms"`
	Result     map[string]any  `json:"result,omitempty"`
}

// WorkflowErrorPayload is the payload of EventWorkflowError.
type WorkflowErrorPayload struct {
	WorkflowID string `json:"workflow_id"`
	NodeID     string `json:"node_id,omitempty"`
	Error      string `json:"error"`
}
