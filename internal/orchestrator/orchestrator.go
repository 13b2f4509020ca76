// Package orchestrator runs the conversational pipeline: safety gate, intent
// routing, retrieval, generation, turn persistence, and metrics recording.
// Turns within one conversation are strictly serialized; different
// conversations proceed in parallel.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/storihq/stori-rag/internal/index"
	"github.com/storihq/stori-rag/internal/log"
	"github.com/storihq/stori-rag/internal/memory"
	"github.com/storihq/stori-rag/internal/metrics"
	"github.com/storihq/stori-rag/internal/provider"
	"github.com/storihq/stori-rag/internal/tools"
)

var (
	// ErrInvalidInput indicates a malformed request (empty or oversized
	// message).
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound indicates an unknown conversation or response ID.
	ErrNotFound = errors.New("not found")
)

// User-facing texts. The assistant serves a Spanish-speaking audience, so
// the fixed refusal and escalation phrases stay in Spanish; generated answers
// follow the language of the question.
const (
	safetyRefusal = "No puedo procesar este mensaje ya que puede contener contenido inapropiado."

	scopeRefusal = "Solo puedo responder preguntas sobre la Revolución Mexicana basándome en los documentos proporcionados. Por favor, hazme una pregunta relacionada con este período histórico."

	escalationIntro = "Entiendo que podrías necesitar asistencia humana. Permíteme escalar esta conversación por ti."

	escalationExistsFmt = "Ya existe un caso de escalamiento para esta conversación. Escalation ID: %s"

	summaryFallback = "Voy a generar un resumen de nuestra conversación."

	errorResponse = "Ocurrió un error al procesar tu mensaje."
)

// maxMessageLen caps a single user message.
const maxMessageLen = 4000

// Generator produces completions from a system instruction and messages.
type Generator interface {
	Complete(ctx context.Context, system string, msgs []provider.Message) (*provider.Completion, error)
}

// Searcher retrieves corpus chunks by similarity.
type Searcher interface {
	Search(ctx context.Context, query string, opts ...index.SearchOption) ([]index.Result, error)
}

// Memory is the conversation state the orchestrator reads and writes.
type Memory interface {
	AppendPair(id string, user, assistant memory.Turn)
	Recent(id string, limit int) []memory.Turn
	History(id string) ([]memory.Turn, error)
	List() []memory.Info
	Delete(id string) error
	Summarize(ctx context.Context, id string) (string, error)
}

// ToolRunner dispatches to the registered tool set.
type ToolRunner interface {
	Invoke(ctx context.Context, name string, in tools.Input) (tools.Result, error)
}

// Recorder stores one record per orchestrated response.
type Recorder interface {
	Record(rec metrics.ResponseRecord) string
}

// Config tunes the pipeline.
type Config struct {
	TopK          int           // retrieval depth, default 5
	MinRelevance  float32       // similarity threshold, results below are dropped
	HistoryWindow int           // recent turns included in the prompt, default 6
	Timeout       time.Duration // per-message budget, default 30s
}

func (c *Config) applyDefaults() {
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = 6
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

// Orchestrator coordinates one conversational turn end to end. Safe for
// concurrent use.
type Orchestrator struct {
	gen      Generator
	searcher Searcher
	memory   Memory
	tools    ToolRunner
	recorder Recorder

	cfg    Config
	locks  *keyedMutex
	logger log.Logger
	now    func() time.Time
}

// New wires the orchestrator. All dependencies are required except logger.
func New(gen Generator, searcher Searcher, mem Memory, runner ToolRunner, rec Recorder, cfg Config, logger log.Logger) (*Orchestrator, error) {
	switch {
	case gen == nil:
		return nil, errors.New("generator is required")
	case searcher == nil:
		return nil, errors.New("searcher is required")
	case mem == nil:
		return nil, errors.New("memory is required")
	case runner == nil:
		return nil, errors.New("tool runner is required")
	case rec == nil:
		return nil, errors.New("recorder is required")
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = log.NewNop()
	}

	return &Orchestrator{
		gen:      gen,
		searcher: searcher,
		memory:   mem,
		tools:    runner,
		recorder: rec,
		cfg:      cfg,
		locks:    newKeyedMutex(),
		logger:   logger.With("component", "orchestrator"),
		now:      time.Now,
	}, nil
}

// History returns the full turn log of a conversation.
func (o *Orchestrator) History(conversationID string) ([]memory.Turn, error) {
	turns, err := o.memory.History(conversationID)
	if err != nil {
		return nil, o.translate(err)
	}
	return turns, nil
}

// List returns metadata for all conversations.
func (o *Orchestrator) List() []memory.Info {
	return o.memory.List()
}

// Delete removes a conversation.
func (o *Orchestrator) Delete(conversationID string) error {
	return o.translate(o.memory.Delete(conversationID))
}

// Summarize returns the (possibly cached) summary of a conversation.
func (o *Orchestrator) Summarize(ctx context.Context, conversationID string) (string, error) {
	summary, err := o.memory.Summarize(ctx, conversationID)
	if err != nil {
		return "", o.translate(err)
	}
	return summary, nil
}

// Classify runs intent classification without touching conversation state.
func (o *Orchestrator) Classify(ctx context.Context, message string) (tools.Result, error) {
	if message == "" {
		return tools.Result{}, fmt.Errorf("%w: message is empty", ErrInvalidInput)
	}
	return o.tools.Invoke(ctx, tools.NameIntent, tools.Input{Message: message})
}

// Escalate opens (or reuses) the escalation ticket of a conversation.
func (o *Orchestrator) Escalate(ctx context.Context, conversationID, reason string) (tools.Result, error) {
	if conversationID == "" {
		return tools.Result{}, fmt.Errorf("%w: conversation id is empty", ErrInvalidInput)
	}
	return o.tools.Invoke(ctx, tools.NameEscalation, tools.Input{
		ConversationID: conversationID,
		Reason:         reason,
	})
}

// translate maps dependency sentinels onto the orchestrator's taxonomy.
func (o *Orchestrator) translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, memory.ErrConversationNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
