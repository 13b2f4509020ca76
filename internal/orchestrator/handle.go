package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/storihq/stori-rag/internal/index"
	"github.com/storihq/stori-rag/internal/memory"
	"github.com/storihq/stori-rag/internal/metrics"
	"github.com/storihq/stori-rag/internal/provider"
	"github.com/storihq/stori-rag/internal/tools"
)

// toolDocumentSearch marks retrieval in a response's toolsUsed list. It is
// pipeline bookkeeping, not a registry tool.
const toolDocumentSearch = "document_search"

// Request is one incoming user message.
type Request struct {
	Message        string
	ConversationID string // empty starts a new conversation
	UseTools       bool   // enables intent routing to the tool set
}

// Response is the orchestrated answer.
type Response struct {
	Response       string   `json:"response"`
	ConversationID string   `json:"conversation_id"`
	ResponseID     string   `json:"response_id"`
	Sources        []string `json:"sources"`
	ToolsUsed      []string `json:"tools_used"`
	Confidence     float64  `json:"confidence_score"`
	ErrorOccurred  bool     `json:"error_occurred"`
}

// outcome is the internal result of one routed turn.
type outcome struct {
	response    string
	sources     []string
	toolsUsed   []string
	confidence  float64
	errOccurred bool
	errMessage  string
}

// HandleMessage runs one conversational turn. Turns of the same conversation
// are serialized on a per-conversation lock; the whole turn runs under the
// configured timeout.
//
// Only malformed input surfaces as an error. A failed generation is reported
// in the Response with errorOccurred set, after the failure was recorded.
func (o *Orchestrator) HandleMessage(ctx context.Context, req Request) (*Response, error) {
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return nil, fmt.Errorf("%w: message is empty", ErrInvalidInput)
	}
	if len(msg) > maxMessageLen {
		return nil, fmt.Errorf("%w: message exceeds %d characters", ErrInvalidInput, maxMessageLen)
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	unlock := o.locks.lock(conversationID)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	start := o.now()

	if !o.messageIsSafe(ctx, msg) {
		out := outcome{
			response:  safetyRefusal,
			toolsUsed: []string{tools.NameSafetyCheck},
		}
		return o.finishTurn(conversationID, msg, out, start), nil
	}

	intent := provider.IntentQuestion
	confidence := 0.5
	if req.UseTools {
		if res, err := o.tools.Invoke(ctx, tools.NameIntent, tools.Input{Message: msg}); err == nil {
			intent = res.Meta[tools.MetaIntent]
			confidence = res.Confidence
		} else {
			o.logger.Warn("intent classification unavailable, treating as question",
				"conversation_id", conversationID, "error", err)
		}
	}

	var out outcome
	switch intent {
	case provider.IntentEscalation:
		out = o.escalationTurn(ctx, conversationID)
	case provider.IntentSummaryRequest:
		out = o.summaryTurn(ctx, conversationID)
	case provider.IntentOffTopic:
		out = outcome{response: scopeRefusal}
	default:
		out = o.ragTurn(ctx, conversationID, msg)
	}
	if !out.errOccurred {
		out.confidence = confidence
	}

	return o.finishTurn(conversationID, msg, out, start), nil
}

// messageIsSafe runs the safety gate. The gate fails open: an unavailable
// checker must not block the conversation.
func (o *Orchestrator) messageIsSafe(ctx context.Context, msg string) bool {
	res, err := o.tools.Invoke(ctx, tools.NameSafetyCheck, tools.Input{Message: msg})
	if err != nil {
		o.logger.Warn("safety check unavailable, assuming safe", "error", err)
		return true
	}
	return res.Meta[tools.MetaSafe] != "false"
}

// escalationTurn opens or reuses the conversation's escalation ticket.
func (o *Orchestrator) escalationTurn(ctx context.Context, conversationID string) outcome {
	out := outcome{toolsUsed: []string{tools.NameEscalation}}

	res, err := o.tools.Invoke(ctx, tools.NameEscalation, tools.Input{
		ConversationID: conversationID,
		Reason:         "User requested escalation",
	})
	if err != nil {
		o.logger.Error("escalation failed", "conversation_id", conversationID, "error", err)
		out.response = escalationIntro
		return out
	}

	if res.Meta[tools.MetaCreated] == "true" {
		out.response = escalationIntro + " " + res.Output
	} else {
		out.response = fmt.Sprintf(escalationExistsFmt, res.Meta[tools.MetaEscalationID])
	}
	return out
}

// summaryTurn answers with the conversation summary.
func (o *Orchestrator) summaryTurn(ctx context.Context, conversationID string) outcome {
	out := outcome{toolsUsed: []string{tools.NameSummary}}

	res, err := o.tools.Invoke(ctx, tools.NameSummary, tools.Input{ConversationID: conversationID})
	if err != nil || res.Output == "" {
		if err != nil {
			o.logger.Error("summary failed", "conversation_id", conversationID, "error", err)
		}
		out.response = summaryFallback
		return out
	}
	out.response = res.Output
	return out
}

// ragTurn retrieves context and generates the grounded answer. An empty
// retrieval after threshold filtering yields the scope refusal; a generation
// failure yields an error outcome without any turns appended.
func (o *Orchestrator) ragTurn(ctx context.Context, conversationID, msg string) outcome {
	results, err := o.searcher.Search(ctx, msg,
		index.WithTopK(o.cfg.TopK),
		index.WithMinScore(o.cfg.MinRelevance),
	)
	if err != nil {
		o.logger.Error("retrieval failed", "conversation_id", conversationID, "error", err)
		results = nil
	}
	if len(results) == 0 {
		return outcome{response: scopeRefusal}
	}

	history := o.memory.Recent(conversationID, o.cfg.HistoryWindow)
	system := composePrompt(results, history, msg)

	completion, err := o.gen.Complete(ctx, system, []provider.Message{
		{Role: provider.RoleUser, Text: msg},
	})
	if err != nil {
		o.logger.Error("generation failed",
			"conversation_id", conversationID, "error", err)
		return outcome{
			response:    errorResponse,
			errOccurred: true,
			errMessage:  err.Error(),
		}
	}

	return outcome{
		response:  completion.Text,
		sources:   sourceIDs(results),
		toolsUsed: []string{toolDocumentSearch},
	}
}

// finishTurn persists the turn pair (skipped on generation failure, so no
// partial pairs exist), records the response, and builds the reply.
func (o *Orchestrator) finishTurn(conversationID, msg string, out outcome, start time.Time) *Response {
	if !out.errOccurred {
		o.memory.AppendPair(conversationID,
			memory.Turn{Content: msg},
			memory.Turn{
				Content:    out.response,
				Sources:    out.sources,
				ToolsUsed:  out.toolsUsed,
				Confidence: out.confidence,
			},
		)
	}

	responseID := o.recorder.Record(metrics.ResponseRecord{
		ConversationID: conversationID,
		Query:          msg,
		Response:       out.response,
		ResponseTime:   o.now().Sub(start).Seconds(),
		Confidence:     out.confidence,
		ToolsUsed:      out.toolsUsed,
		SourcesCount:   len(out.sources),
		ErrorOccurred:  out.errOccurred,
		ErrorMessage:   out.errMessage,
	})

	return &Response{
		Response:       out.response,
		ConversationID: conversationID,
		ResponseID:     responseID,
		Sources:        out.sources,
		ToolsUsed:      out.toolsUsed,
		Confidence:     out.confidence,
		ErrorOccurred:  out.errOccurred,
	}
}

// sourceIDs returns the distinct document IDs behind the results, in rank
// order.
func sourceIDs(results []index.Result) []string {
	seen := make(map[string]struct{}, len(results))
	var ids []string
	for _, r := range results {
		if _, ok := seen[r.DocumentID]; ok {
			continue
		}
		seen[r.DocumentID] = struct{}{}
		ids = append(ids, r.DocumentID)
	}
	return ids
}

// composePrompt builds the grounded system instruction: retrieved chunks,
// the recent conversation window, and the answering rules.
func composePrompt(results []index.Result, history []memory.Turn, question string) string {
	var contextDocs strings.Builder
	for i, r := range results {
		if i > 0 {
			contextDocs.WriteString("\n\n")
		}
		contextDocs.WriteString(r.Content)
	}

	var conv strings.Builder
	for _, turn := range history {
		role := "Usuario"
		if turn.Role == memory.RoleAssistant {
			role = "Asistente"
		}
		conv.WriteString(role)
		conv.WriteString(": ")
		conv.WriteString(turn.Content)
		conv.WriteByte('\n')
	}

	return fmt.Sprintf(`You are an expert assistant on the Mexican Revolution with conversation memory.

<context_documents>
%s
</context_documents>

<conversation_history>
%s</conversation_history>

<instructions>
- MAXIMUM 2-3 sentences per answer
- NO more than 50 words
- Go STRAIGHT to the main point
- DO NOT use lists or bullet points
- DO NOT use phrases like "According to the provided context"
- Only say "I don't have enough information" if you can't answer
- ALWAYS consider the conversation history for contextual answers
- If the question refers to something mentioned earlier, answer based on the history
</instructions>

<current_question>
%s
</current_question>

ALWAYS answer in English if the question is in English, and in Spanish if the question is in Spanish.
Be EXTREMELY BRIEF considering the conversation context:`, contextDocs.String(), conv.String(), question)
}
