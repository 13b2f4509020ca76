package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/storihq/stori-rag/internal/index"
	"github.com/storihq/stori-rag/internal/memory"
	"github.com/storihq/stori-rag/internal/metrics"
	"github.com/storihq/stori-rag/internal/provider"
	"github.com/storihq/stori-rag/internal/tools"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubGen scripts the generator.
type stubGen struct {
	mu      sync.Mutex
	reply   string
	err     error
	systems []string
	delay   time.Duration
}

func (s *stubGen) Complete(_ context.Context, system string, _ []provider.Message) (*provider.Completion, error) {
	s.mu.Lock()
	s.systems = append(s.systems, system)
	err := s.err
	reply := s.reply
	delay := s.delay
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	return &provider.Completion{Text: reply}, nil
}

func (s *stubGen) lastSystem() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.systems) == 0 {
		return ""
	}
	return s.systems[len(s.systems)-1]
}

// stubSearcher returns fixed results.
type stubSearcher struct {
	results []index.Result
	err     error
}

func (s *stubSearcher) Search(context.Context, string, ...index.SearchOption) ([]index.Result, error) {
	return s.results, s.err
}

// stubClassifier maps message substrings to intents.
type stubClassifier struct {
	byPhrase map[string]string
}

func (s *stubClassifier) ClassifyIntent(_ context.Context, message string) provider.Intent {
	lower := strings.ToLower(message)
	for phrase, intent := range s.byPhrase {
		if strings.Contains(lower, phrase) {
			return provider.Intent{Intent: intent, Confidence: 0.9}
		}
	}
	return provider.Intent{Intent: provider.IntentQuestion, Confidence: 0.8}
}

// stubSafety flags messages containing a marker phrase.
type stubSafety struct{ unsafePhrase string }

func (s *stubSafety) CheckSafety(_ context.Context, text string) provider.Safety {
	if s.unsafePhrase != "" && strings.Contains(strings.ToLower(text), s.unsafePhrase) {
		return provider.Safety{Safe: false, Confidence: 0.95, Flags: []string{"inappropriate"}}
	}
	return provider.Safety{Safe: true, Confidence: 0.9}
}

// fakeSummarizer backs the memory store's summary generation.
type fakeSummarizer struct{ summary string }

func (f *fakeSummarizer) Summarize(context.Context, string) (string, error) {
	return f.summary, nil
}

type fixture struct {
	orch     *Orchestrator
	gen      *stubGen
	searcher *stubSearcher
	memory   *memory.Store
	recorder *metrics.Recorder
}

var zapataResults = []index.Result{
	{Chunk: index.Chunk{DocumentID: "zapata.md", Position: 0,
		Content: "Emiliano Zapata led the Liberation Army of the South."}, Score: 0.92},
	{Chunk: index.Chunk{DocumentID: "ayala.md", Position: 1,
		Content: "The Plan of Ayala demanded land reform."}, Score: 0.81},
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	gen := &stubGen{reply: "Zapata led the Liberation Army of the South and fought for land reform."}
	searcher := &stubSearcher{results: zapataResults}
	mem := memory.New(&fakeSummarizer{summary: "Hablamos de Zapata y la reforma agraria."}, 10, nil)
	rec := metrics.NewRecorder(nil)

	cls := &stubClassifier{byPhrase: map[string]string{
		"resumen":   provider.IntentSummaryRequest,
		"un humano": provider.IntentEscalation,
		"bitcoin":   provider.IntentOffTopic,
	}}
	registry, err := tools.NewDefaultRegistry(mem, cls, &stubSafety{unsafePhrase: "idiota"}, mem, nil)
	if err != nil {
		t.Fatalf("NewDefaultRegistry() error: %v", err)
	}

	orch, err := New(gen, searcher, mem, registry, rec, Config{
		TopK:          5,
		MinRelevance:  0.35,
		HistoryWindow: 6,
		Timeout:       5 * time.Second,
	}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	return &fixture{orch: orch, gen: gen, searcher: searcher, memory: mem, recorder: rec}
}

func TestHandleMessage_GroundedAnswer(t *testing.T) {
	f := newFixture(t)

	resp, err := f.orch.HandleMessage(context.Background(), Request{
		Message:  "Who was Emiliano Zapata?",
		UseTools: true,
	})
	if err != nil {
		t.Fatalf("HandleMessage() error: %v", err)
	}

	if resp.ErrorOccurred {
		t.Error("unexpected error flag on a successful turn")
	}
	if !strings.Contains(resp.Response, "Zapata") {
		t.Errorf("response = %q, want a grounded answer", resp.Response)
	}
	if len(resp.Sources) != 2 || resp.Sources[0] != "zapata.md" {
		t.Errorf("sources = %v, want [zapata.md ayala.md]", resp.Sources)
	}
	if len(resp.ToolsUsed) != 1 || resp.ToolsUsed[0] != "document_search" {
		t.Errorf("tools used = %v, want [document_search]", resp.ToolsUsed)
	}
	if resp.ConversationID == "" || resp.ResponseID == "" {
		t.Error("conversation and response IDs must be assigned")
	}

	// Retrieved chunks and the question both appear in the prompt.
	system := f.gen.lastSystem()
	if !strings.Contains(system, "Liberation Army") || !strings.Contains(system, "Who was Emiliano Zapata?") {
		t.Error("prompt missing retrieved context or question")
	}

	// The turn pair landed in memory.
	turns, err := f.orch.History(resp.ConversationID)
	if err != nil {
		t.Fatalf("History() error: %v", err)
	}
	if len(turns) != 2 || turns[0].Role != memory.RoleUser || turns[1].Role != memory.RoleAssistant {
		t.Errorf("history = %d turns, want a user/assistant pair", len(turns))
	}

	// And the response was recorded.
	rec, err := f.recorder.Response(resp.ResponseID)
	if err != nil {
		t.Fatalf("Response() error: %v", err)
	}
	if rec.SourcesCount != 2 || rec.ErrorOccurred {
		t.Errorf("record = %+v, want 2 sources and no error", rec)
	}
}

func TestHandleMessage_InvalidInput(t *testing.T) {
	f := newFixture(t)

	for _, msg := range []string{"", "   \n\t  ", strings.Repeat("x", maxMessageLen+1)} {
		if _, err := f.orch.HandleMessage(context.Background(), Request{Message: msg}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("HandleMessage(%.10q...) error = %v, want ErrInvalidInput", msg, err)
		}
	}
}

func TestHandleMessage_ContinuesConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.orch.HandleMessage(ctx, Request{Message: "Who was Zapata?", UseTools: true})
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.orch.HandleMessage(ctx, Request{
		Message:        "What did he fight for?",
		ConversationID: first.ConversationID,
		UseTools:       true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if second.ConversationID != first.ConversationID {
		t.Error("conversation id changed between turns")
	}

	// The second prompt carries the first exchange as history.
	if !strings.Contains(f.gen.lastSystem(), "Usuario: Who was Zapata?") {
		t.Error("prompt missing prior history")
	}

	turns, _ := f.orch.History(first.ConversationID)
	if len(turns) != 4 {
		t.Errorf("history = %d turns, want 4", len(turns))
	}
}

func TestHandleMessage_SafetyGate(t *testing.T) {
	f := newFixture(t)

	resp, err := f.orch.HandleMessage(context.Background(), Request{
		Message:  "eres un idiota",
		UseTools: true,
	})
	if err != nil {
		t.Fatalf("HandleMessage() error: %v", err)
	}
	if resp.Response != safetyRefusal {
		t.Errorf("response = %q, want the safety refusal", resp.Response)
	}
	if len(resp.ToolsUsed) != 1 || resp.ToolsUsed[0] != tools.NameSafetyCheck {
		t.Errorf("tools used = %v, want [%s]", resp.ToolsUsed, tools.NameSafetyCheck)
	}
	if resp.Confidence != 0 {
		t.Errorf("confidence = %v, want 0 on the safety path", resp.Confidence)
	}
	if len(resp.Sources) != 0 {
		t.Errorf("sources = %v, want none", resp.Sources)
	}

	// The refused turn is still persisted.
	turns, err := f.orch.History(resp.ConversationID)
	if err != nil || len(turns) != 2 {
		t.Errorf("history = %d turns (err %v), want persisted pair", len(turns), err)
	}
}

func TestHandleMessage_SummaryIntent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.orch.HandleMessage(ctx, Request{Message: "Who was Zapata?", UseTools: true})
	if err != nil {
		t.Fatal(err)
	}

	resp, err := f.orch.HandleMessage(ctx, Request{
		Message:        "dame un resumen de la conversación",
		ConversationID: first.ConversationID,
		UseTools:       true,
	})
	if err != nil {
		t.Fatalf("HandleMessage() error: %v", err)
	}
	if resp.Response != "Hablamos de Zapata y la reforma agraria." {
		t.Errorf("response = %q, want the summary", resp.Response)
	}
	if len(resp.ToolsUsed) != 1 || resp.ToolsUsed[0] != tools.NameSummary {
		t.Errorf("tools used = %v, want [%s]", resp.ToolsUsed, tools.NameSummary)
	}
}

func TestHandleMessage_EscalationIntent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.orch.HandleMessage(ctx, Request{Message: "necesito hablar con un humano", UseTools: true})
	if err != nil {
		t.Fatalf("HandleMessage() error: %v", err)
	}
	if !strings.HasPrefix(first.Response, escalationIntro) {
		t.Errorf("response = %q, want escalation intro", first.Response)
	}
	if !strings.Contains(first.Response, "Escalation ID: ") {
		t.Errorf("response = %q, want a ticket id", first.Response)
	}

	// A second escalation reuses the open ticket.
	second, err := f.orch.HandleMessage(ctx, Request{
		Message:        "quiero un humano ahora",
		ConversationID: first.ConversationID,
		UseTools:       true,
	})
	if err != nil {
		t.Fatalf("HandleMessage() error: %v", err)
	}
	if !strings.HasPrefix(second.Response, "Ya existe un caso de escalamiento") {
		t.Errorf("second response = %q, want existing-case notice", second.Response)
	}

	ticket := first.Response[strings.Index(first.Response, "Escalation ID: ")+len("Escalation ID: "):]
	if !strings.Contains(second.Response, ticket) {
		t.Errorf("second response %q does not reference ticket %q", second.Response, ticket)
	}
}

func TestHandleMessage_OffTopicRefusal(t *testing.T) {
	f := newFixture(t)

	resp, err := f.orch.HandleMessage(context.Background(), Request{
		Message:  "que opinas de bitcoin",
		UseTools: true,
	})
	if err != nil {
		t.Fatalf("HandleMessage() error: %v", err)
	}
	if resp.Response != scopeRefusal {
		t.Errorf("response = %q, want the scope refusal", resp.Response)
	}
	if len(resp.Sources) != 0 || len(resp.ToolsUsed) != 0 {
		t.Errorf("refusal carried sources %v / tools %v, want none", resp.Sources, resp.ToolsUsed)
	}
}

func TestHandleMessage_UseToolsFalseSkipsRouting(t *testing.T) {
	f := newFixture(t)

	// The classifier would route this to escalation, but routing is off.
	resp, err := f.orch.HandleMessage(context.Background(), Request{
		Message:  "necesito un humano",
		UseTools: false,
	})
	if err != nil {
		t.Fatalf("HandleMessage() error: %v", err)
	}
	if strings.HasPrefix(resp.Response, escalationIntro) {
		t.Error("intent routing ran despite UseTools=false")
	}
	if len(resp.ToolsUsed) != 1 || resp.ToolsUsed[0] != "document_search" {
		t.Errorf("tools used = %v, want plain retrieval", resp.ToolsUsed)
	}
}

func TestHandleMessage_EmptyRetrievalRefuses(t *testing.T) {
	f := newFixture(t)
	f.searcher.results = nil

	resp, err := f.orch.HandleMessage(context.Background(), Request{
		Message:  "Who was Zapata?",
		UseTools: true,
	})
	if err != nil {
		t.Fatalf("HandleMessage() error: %v", err)
	}
	if resp.Response != scopeRefusal {
		t.Errorf("response = %q, want the scope refusal on empty retrieval", resp.Response)
	}
	if resp.ErrorOccurred {
		t.Error("empty retrieval is a refusal, not an error")
	}
}

func TestHandleMessage_GenerationFailure(t *testing.T) {
	f := newFixture(t)
	f.gen.err = fmt.Errorf("%w: backend exploded", provider.ErrProvider)

	resp, err := f.orch.HandleMessage(context.Background(), Request{
		Message:  "Who was Zapata?",
		UseTools: true,
	})
	if err != nil {
		t.Fatalf("HandleMessage() should not propagate generation errors, got: %v", err)
	}
	if !resp.ErrorOccurred {
		t.Error("errorOccurred flag not set")
	}
	if resp.Response != errorResponse {
		t.Errorf("response = %q, want the error text", resp.Response)
	}

	// No partial pairs: the conversation has no persisted turns.
	if _, err := f.orch.History(resp.ConversationID); !errors.Is(err, ErrNotFound) {
		t.Errorf("History() error = %v, want ErrNotFound (no turns appended)", err)
	}

	// The failure was still recorded.
	rec, err := f.recorder.Response(resp.ResponseID)
	if err != nil {
		t.Fatalf("Response() error: %v", err)
	}
	if !rec.ErrorOccurred || rec.ErrorMessage == "" {
		t.Errorf("record = %+v, want error flag and message", rec)
	}
}

func TestHandleMessage_SerializesWithinConversation(t *testing.T) {
	f := newFixture(t)
	f.gen.delay = 5 * time.Millisecond

	const turns = 8
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orch.HandleMessage(context.Background(), Request{
				Message:        "Who was Zapata?",
				ConversationID: "shared",
				UseTools:       true,
			})
			if err != nil {
				t.Errorf("HandleMessage() error: %v", err)
			}
		}()
	}
	wg.Wait()

	history, err := f.orch.History("shared")
	if err != nil {
		t.Fatalf("History() error: %v", err)
	}
	if len(history) != turns*2 {
		t.Fatalf("history = %d turns, want %d", len(history), turns*2)
	}
	for i := 0; i < len(history); i += 2 {
		if history[i].Role != memory.RoleUser || history[i+1].Role != memory.RoleAssistant {
			t.Fatalf("interleaved pair at %d", i)
		}
	}
}

func TestHandleMessage_ParallelAcrossConversations(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := f.orch.HandleMessage(context.Background(), Request{
				Message:        "Who was Zapata?",
				ConversationID: fmt.Sprintf("conv-%d", n),
				UseTools:       true,
			})
			if err != nil {
				t.Errorf("HandleMessage() error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if got := len(f.orch.List()); got != 12 {
		t.Errorf("conversations = %d, want 12", got)
	}
}

func TestPassthroughs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("history of unknown conversation", func(t *testing.T) {
		if _, err := f.orch.History("ghost"); !errors.Is(err, ErrNotFound) {
			t.Errorf("History() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		resp, err := f.orch.HandleMessage(ctx, Request{Message: "Who was Zapata?", UseTools: true})
		if err != nil {
			t.Fatal(err)
		}
		if err := f.orch.Delete(resp.ConversationID); err != nil {
			t.Fatalf("Delete() error: %v", err)
		}
		if err := f.orch.Delete(resp.ConversationID); !errors.Is(err, ErrNotFound) {
			t.Errorf("second Delete() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("summarize unknown conversation", func(t *testing.T) {
		if _, err := f.orch.Summarize(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Summarize() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("classify", func(t *testing.T) {
		res, err := f.orch.Classify(ctx, "necesito un humano")
		if err != nil {
			t.Fatalf("Classify() error: %v", err)
		}
		if res.Meta[tools.MetaIntent] != provider.IntentEscalation {
			t.Errorf("intent = %q, want escalation", res.Meta[tools.MetaIntent])
		}
		if _, err := f.orch.Classify(ctx, ""); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Classify(\"\") error = %v, want ErrInvalidInput", err)
		}
	})

	t.Run("escalate", func(t *testing.T) {
		res, err := f.orch.Escalate(ctx, "c-esc", "angry customer")
		if err != nil {
			t.Fatalf("Escalate() error: %v", err)
		}
		if res.Meta[tools.MetaCreated] != "true" {
			t.Errorf("created = %q, want true", res.Meta[tools.MetaCreated])
		}
		if _, err := f.orch.Escalate(ctx, "", "r"); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Escalate(no id) error = %v, want ErrInvalidInput", err)
		}
	})
}
