package tools

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/storihq/stori-rag/internal/log"
	"github.com/storihq/stori-rag/internal/provider"
)

// Summarizer produces a summary for a conversation.
type Summarizer interface {
	Summarize(ctx context.Context, conversationID string) (string, error)
}

// Classifier categorizes a user message.
type Classifier interface {
	ClassifyIntent(ctx context.Context, message string) provider.Intent
}

// SafetyChecker evaluates text against the content policy.
type SafetyChecker interface {
	CheckSafety(ctx context.Context, text string) provider.Safety
}

// EscalationLedger tracks the open escalation ticket per conversation.
type EscalationLedger interface {
	Escalate(conversationID, ticketID string) (ticket string, created bool)
}

// NewDefaultRegistry builds a registry with the full tool set wired.
func NewDefaultRegistry(sum Summarizer, cls Classifier, safety SafetyChecker, ledger EscalationLedger, logger log.Logger) (*Registry, error) {
	if logger == nil {
		logger = log.NewNop()
	}
	logger = logger.With("component", "tools")

	r := NewRegistry()
	for _, t := range []Tool{
		&summaryTool{sum: sum},
		&intentTool{cls: cls},
		&escalationTool{ledger: ledger, logger: logger},
		&safetyTool{checker: safety},
	} {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// summaryTool generates a summary of the conversation so far.
type summaryTool struct {
	sum Summarizer
}

func (*summaryTool) Name() string { return NameSummary }
func (*summaryTool) Description() string {
	return "Generate a summary of the conversation so far"
}

func (t *summaryTool) Invoke(ctx context.Context, in Input) (Result, error) {
	if in.ConversationID == "" {
		return Result{}, errors.New("conversation id is required")
	}
	summary, err := t.sum.Summarize(ctx, in.ConversationID)
	if err != nil {
		return Result{}, err
	}
	return Result{Output: summary, Confidence: 1.0}, nil
}

// intentTool classifies a user message into one of the routing categories.
type intentTool struct {
	cls Classifier
}

func (*intentTool) Name() string { return NameIntent }
func (*intentTool) Description() string {
	return "Classify the intent of a user message"
}

func (t *intentTool) Invoke(ctx context.Context, in Input) (Result, error) {
	if in.Message == "" {
		return Result{}, errors.New("message is required")
	}
	intent := t.cls.ClassifyIntent(ctx, in.Message)
	return Result{
		Output:     intent.Intent,
		Confidence: intent.Confidence,
		Meta: map[string]string{
			MetaIntent:   intent.Intent,
			MetaEntities: strings.Join(intent.Entities, ","),
		},
	}, nil
}

// escalationTool opens an escalation ticket, reusing the existing one when
// the conversation was already escalated.
type escalationTool struct {
	ledger EscalationLedger
	logger log.Logger
}

func (*escalationTool) Name() string { return NameEscalation }
func (*escalationTool) Description() string {
	return "Escalate the conversation to a human agent"
}

func (t *escalationTool) Invoke(ctx context.Context, in Input) (Result, error) {
	if in.ConversationID == "" {
		return Result{}, errors.New("conversation id is required")
	}
	reason := in.Reason
	if reason == "" {
		reason = "User requested escalation"
	}

	ticket, created := t.ledger.Escalate(in.ConversationID, uuid.NewString())
	if created {
		t.logger.Info("conversation escalated",
			"conversation_id", in.ConversationID,
			"escalation_id", ticket,
			"reason", reason,
		)
	}

	output := fmt.Sprintf("Conversation escalated successfully. Escalation ID: %s", ticket)
	if !created {
		output = fmt.Sprintf("Escalation already open. Escalation ID: %s", ticket)
	}
	return Result{
		Output:     output,
		Confidence: 1.0,
		Meta: map[string]string{
			MetaEscalationID: ticket,
			MetaCreated:      strconv.FormatBool(created),
		},
	}, nil
}

// safetyTool checks a message against the content policy.
type safetyTool struct {
	checker SafetyChecker
}

func (*safetyTool) Name() string { return NameSafetyCheck }
func (*safetyTool) Description() string {
	return "Check a message for inappropriate content"
}

func (t *safetyTool) Invoke(ctx context.Context, in Input) (Result, error) {
	if in.Message == "" {
		return Result{}, errors.New("message is required")
	}
	verdict := t.checker.CheckSafety(ctx, in.Message)

	output := "safe"
	if !verdict.Safe {
		output = "unsafe"
	}
	return Result{
		Output:     output,
		Confidence: verdict.Confidence,
		Meta: map[string]string{
			MetaSafe:  strconv.FormatBool(verdict.Safe),
			MetaFlags: strings.Join(verdict.Flags, ","),
		},
	}, nil
}
