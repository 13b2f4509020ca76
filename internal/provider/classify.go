package provider

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
)

// Intent categories returned by ClassifyIntent. The orchestrator routes on
// these: summary requests and escalations go to tools, off-topic messages
// get the refusal path, everything else goes through retrieval.
const (
	IntentQuestion       = "question"
	IntentClarification  = "clarification"
	IntentFollowUp       = "follow_up"
	IntentSummaryRequest = "summary_request"
	IntentEscalation     = "escalation"
	IntentOffTopic       = "off_topic"
)

// Intent is the result of classifying a user message.
type Intent struct {
	Intent     string   `json:"intent"`
	Confidence float64  `json:"confidence"`
	Entities   []string `json:"entities"`
}

// Safety is the result of a content safety check.
type Safety struct {
	Safe       bool     `json:"is_safe"`
	Confidence float64  `json:"confidence"`
	Flags      []string `json:"flags"`
}

const classifyPrompt = `You are an intent classification system for an assistant
that answers questions about the Mexican Revolution. Classify the user message
into exactly one category:
- question: a question about the Mexican Revolution
- clarification: the user asks to clarify a previous answer
- follow_up: a follow-up question referring to earlier turns
- summary_request: the user wants a summary of the conversation
- escalation: the user needs human assistance
- off_topic: the message is not related to the Mexican Revolution

Return ONLY a valid JSON object with this exact shape:
{"intent": "category", "confidence": 0.95, "entities": ["entity1", "entity2"]}

No additional text, explanations, or formatting outside the JSON.`

const safetyPrompt = `You are a content safety checker. Evaluate whether the text
is appropriate and safe: no harmful content, no offensive material, no abusive
language.

Return ONLY a valid JSON object with this exact shape:
{"is_safe": true, "confidence": 0.95, "flags": ["flag1"]}

No additional text, explanations, or formatting outside the JSON.`

const summaryPrompt = `You are a conversation summarizer. Produce a concise
summary of the conversation about the Mexican Revolution: key topics discussed
and main questions asked. Keep it under 200 words.`

// jsonObjectRE extracts the first JSON object from a model response that may
// be wrapped in prose or code fences.
var jsonObjectRE = regexp.MustCompile(`(?s)\{.*\}`)

// extractJSON unmarshals the first JSON object found in text into v.
// Returns false when no object is present or it does not parse.
func extractJSON(text string, v any) bool {
	match := jsonObjectRE.FindString(text)
	if match == "" {
		return false
	}
	return json.Unmarshal([]byte(match), v) == nil
}

// ClassifyIntent classifies a user message. On provider failure or
// unparseable output it falls back to a neutral "question" intent so the
// conversation keeps flowing instead of erroring out.
func (c *Client) ClassifyIntent(ctx context.Context, message string) Intent {
	fallback := Intent{Intent: IntentQuestion, Confidence: 0.5}

	resp, err := c.Complete(ctx, classifyPrompt, []Message{{Role: RoleUser, Text: message}})
	if err != nil {
		c.logger.Warn("intent classification failed, using fallback", "error", err)
		return fallback
	}

	var result Intent
	if !extractJSON(resp.Text, &result) || result.Intent == "" {
		c.logger.Warn("unparseable intent response, using fallback", "response", resp.Text)
		return fallback
	}

	c.logger.Debug("intent classified", "intent", result.Intent, "confidence", result.Confidence)
	return result
}

// CheckSafety evaluates a message against the safety policy. Failures fall
// back to "safe": the safety gate is an enhancement and must not block the
// conversation when the classifier is unavailable.
func (c *Client) CheckSafety(ctx context.Context, text string) Safety {
	fallback := Safety{Safe: true, Confidence: 0.5}

	resp, err := c.Complete(ctx, safetyPrompt,
		[]Message{{Role: RoleUser, Text: "Check this text for safety:\n" + text}})
	if err != nil {
		c.logger.Warn("safety check failed, assuming safe", "error", err)
		return fallback
	}

	var result Safety
	if !extractJSON(resp.Text, &result) {
		c.logger.Warn("unparseable safety response, assuming safe", "response", resp.Text)
		return fallback
	}

	c.logger.Debug("safety checked", "safe", result.Safe, "flags", result.Flags)
	return result
}

// Summarize compresses a conversation transcript. Each line of transcript is
// expected to be "role: text".
func (c *Client) Summarize(ctx context.Context, transcript string) (string, error) {
	resp, err := c.Complete(ctx, summaryPrompt,
		[]Message{{Role: RoleUser, Text: "Summarize this conversation:\n" + transcript}})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}
