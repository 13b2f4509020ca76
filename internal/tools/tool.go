// Package tools defines the closed set of agent capabilities the
// orchestrator can dispatch to: conversation summary, intent classification,
// human escalation, and content safety checking. The registry rejects any
// name outside that set at registration time.
package tools

import "context"

// Tool names. These are the only names the registry accepts and the values
// that appear in a response's toolsUsed list.
const (
	NameSummary     = "conversation_summary"
	NameIntent      = "intent_classification"
	NameEscalation  = "human_escalation"
	NameSafetyCheck = "content_safety_check"
)

// Well-known Result.Meta keys.
const (
	MetaSafe         = "is_safe"       // "true" / "false"
	MetaFlags        = "flags"         // comma-joined safety flags
	MetaIntent       = "intent"        // classified intent category
	MetaEntities     = "entities"      // comma-joined extracted entities
	MetaEscalationID = "escalation_id" // escalation ticket
	MetaCreated      = "created"       // "true" when this call opened the ticket
)

// Input carries the invocation arguments. Tools read the fields they need.
type Input struct {
	ConversationID string
	Message        string
	Reason         string // escalation reason, optional
}

// Result is a tool's outcome. Output is user-presentable text; structured
// values go in Meta.
type Result struct {
	Output     string
	Confidence float64
	Meta       map[string]string
}

// Tool is one registered capability.
type Tool interface {
	Name() string
	Description() string
	Invoke(ctx context.Context, in Input) (Result, error)
}
