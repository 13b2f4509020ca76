// Package metrics records one ResponseRecord per orchestrated response and
// derives conversation and system aggregates from that log. Aggregates are
// computed on read, so re-rating a response never skews message counts.
package metrics

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/storihq/stori-rag/internal/log"
)

var (
	// ErrResponseNotFound indicates the response ID was never recorded.
	ErrResponseNotFound = errors.New("response not found")

	// ErrInvalidRating indicates a rating outside {like, dislike}.
	ErrInvalidRating = errors.New("invalid rating")
)

// Rating is user feedback on one response.
type Rating string

const (
	RatingLike    Rating = "like"
	RatingDislike Rating = "dislike"
)

// ResponseRecord captures one orchestrated response.
type ResponseRecord struct {
	ResponseID     string    `json:"response_id"`
	ConversationID string    `json:"conversation_id"`
	Query          string    `json:"query"`
	Response       string    `json:"response"`
	ResponseTime   float64   `json:"response_time"` // seconds
	Confidence     float64   `json:"confidence_score"`
	ToolsUsed      []string  `json:"tools_used"`
	SourcesCount   int       `json:"sources_count"`
	Timestamp      time.Time `json:"timestamp"`
	Rating         Rating    `json:"user_rating,omitempty"`
	ErrorOccurred  bool      `json:"error_occurred"`
	ErrorMessage   string    `json:"error_message,omitempty"`
}

// ConversationMetrics aggregates the responses of one conversation.
type ConversationMetrics struct {
	ConversationID      string         `json:"conversation_id"`
	TotalMessages       int            `json:"total_messages"`
	FollowUpQuestions   int            `json:"follow_up_questions"`
	AverageResponseTime float64        `json:"average_response_time"`
	TotalLikes          int            `json:"total_likes"`
	TotalDislikes       int            `json:"total_dislikes"`
	ToolUsage           map[string]int `json:"tools_usage_count"`
	CreatedAt           time.Time      `json:"created_at"`
	LastActivity        time.Time      `json:"last_activity"`
}

// Snapshot is the system-wide KPI view. Percentages are in [0, 100]; an
// empty window yields zeros, never NaN.
type Snapshot struct {
	TotalQueries              int                `json:"total_queries"`
	TotalErrors               int                `json:"total_errors"`
	AverageResponseTime       float64            `json:"average_response_time"`
	LikePercentage            float64            `json:"like_percentage"`
	ToolEffectiveness         map[string]float64 `json:"tool_effectiveness"`
	ErrorRate                 float64            `json:"error_rate"`
	ConversationRetentionRate float64            `json:"conversation_retention_rate"`
	Timestamp                 time.Time          `json:"timestamp"`
}

// Export is the full metrics dump.
type Export struct {
	System        Snapshot              `json:"system_metrics"`
	Conversations []ConversationMetrics `json:"conversation_metrics"`
	Responses     []ResponseRecord      `json:"response_metrics"`
	ExportedAt    time.Time             `json:"export_timestamp"`
}

// Recorder is the in-process metrics store. Safe for concurrent use.
type Recorder struct {
	mu      sync.RWMutex
	records []*ResponseRecord
	byID    map[string]*ResponseRecord

	logger log.Logger
	now    func() time.Time
}

// NewRecorder creates an empty recorder. logger may be nil.
func NewRecorder(logger log.Logger) *Recorder {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Recorder{
		byID:   make(map[string]*ResponseRecord),
		logger: logger.With("component", "metrics"),
		now:    time.Now,
	}
}

// Record stores a response record, assigning the ID and timestamp, and
// returns the response ID.
func (r *Recorder) Record(rec ResponseRecord) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec.ResponseID = uuid.NewString()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = r.now()
	}

	stored := &rec
	r.records = append(r.records, stored)
	r.byID[rec.ResponseID] = stored

	r.logger.Info("response recorded",
		"response_id", rec.ResponseID,
		"conversation_id", rec.ConversationID,
		"response_time", rec.ResponseTime,
		"error", rec.ErrorOccurred,
	)
	return rec.ResponseID
}

// Rate attaches a user rating to a response. Repeated ratings overwrite the
// previous value; the latest one wins.
func (r *Recorder) Rate(responseID string, rating Rating) error {
	if rating != RatingLike && rating != RatingDislike {
		return fmt.Errorf("%w: %q", ErrInvalidRating, rating)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[responseID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrResponseNotFound, responseID)
	}
	rec.Rating = rating
	return nil
}

// Response returns a copy of one response record.
func (r *Recorder) Response(responseID string) (ResponseRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.byID[responseID]
	if !ok {
		return ResponseRecord{}, fmt.Errorf("%w: %q", ErrResponseNotFound, responseID)
	}
	return *rec, nil
}

// Snapshot computes system KPIs over records within the last windowHours.
// windowHours <= 0 covers everything.
func (r *Recorder) Snapshot(windowHours int) Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{
		ToolEffectiveness: make(map[string]float64),
		Timestamp:         r.now(),
	}

	var cutoff time.Time
	if windowHours > 0 {
		cutoff = r.now().Add(-time.Duration(windowHours) * time.Hour)
	}

	var (
		totalTime  float64
		rated      int
		likes      int
		toolRated  = make(map[string]int)
		toolLikes  = make(map[string]int)
		convTotals = make(map[string]int)
	)

	for _, rec := range r.records {
		if !cutoff.IsZero() && rec.Timestamp.Before(cutoff) {
			continue
		}
		snap.TotalQueries++
		totalTime += rec.ResponseTime
		if rec.ErrorOccurred {
			snap.TotalErrors++
		}
		if rec.Rating != "" {
			rated++
			if rec.Rating == RatingLike {
				likes++
			}
		}
		for _, tool := range rec.ToolsUsed {
			if rec.Rating != "" {
				toolRated[tool]++
				if rec.Rating == RatingLike {
					toolLikes[tool]++
				}
			}
		}
		convTotals[rec.ConversationID]++
	}

	if snap.TotalQueries == 0 {
		return snap
	}

	snap.AverageResponseTime = totalTime / float64(snap.TotalQueries)
	snap.ErrorRate = float64(snap.TotalErrors) / float64(snap.TotalQueries) * 100
	if rated > 0 {
		snap.LikePercentage = float64(likes) / float64(rated) * 100
	}
	for tool, n := range toolRated {
		snap.ToolEffectiveness[tool] = float64(toolLikes[tool]) / float64(n) * 100
	}

	// Retention = share of conversations that came back with a follow-up.
	var withFollowUps int
	for _, n := range convTotals {
		if n > 1 {
			withFollowUps++
		}
	}
	if len(convTotals) > 0 {
		snap.ConversationRetentionRate = float64(withFollowUps) / float64(len(convTotals)) * 100
	}

	return snap
}

// Conversation aggregates the responses of one conversation. Conversations
// with no recorded responses return ErrResponseNotFound.
func (r *Recorder) Conversation(conversationID string) (ConversationMetrics, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cm, ok := r.conversationLocked(conversationID)
	if !ok {
		return ConversationMetrics{}, fmt.Errorf("%w: no responses for conversation %q",
			ErrResponseNotFound, conversationID)
	}
	return cm, nil
}

// conversationLocked computes aggregates; callers hold at least a read lock.
func (r *Recorder) conversationLocked(conversationID string) (ConversationMetrics, bool) {
	cm := ConversationMetrics{
		ConversationID: conversationID,
		ToolUsage:      make(map[string]int),
	}

	var totalTime float64
	for _, rec := range r.records {
		if rec.ConversationID != conversationID {
			continue
		}
		if cm.TotalMessages == 0 {
			cm.CreatedAt = rec.Timestamp
		}
		cm.TotalMessages++
		cm.LastActivity = rec.Timestamp
		totalTime += rec.ResponseTime

		switch rec.Rating {
		case RatingLike:
			cm.TotalLikes++
		case RatingDislike:
			cm.TotalDislikes++
		}
		for _, tool := range rec.ToolsUsed {
			cm.ToolUsage[tool]++
		}
	}
	if cm.TotalMessages == 0 {
		return ConversationMetrics{}, false
	}

	cm.FollowUpQuestions = cm.TotalMessages - 1
	cm.AverageResponseTime = totalTime / float64(cm.TotalMessages)
	return cm, true
}

// Export returns the full metrics dump: system snapshot, all conversation
// aggregates, and every response record.
func (r *Recorder) Export() Export {
	snap := r.Snapshot(0)

	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var conversations []ConversationMetrics
	for _, rec := range r.records {
		if _, ok := seen[rec.ConversationID]; ok {
			continue
		}
		seen[rec.ConversationID] = struct{}{}
		if cm, ok := r.conversationLocked(rec.ConversationID); ok {
			conversations = append(conversations, cm)
		}
	}
	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].ConversationID < conversations[j].ConversationID
	})

	responses := make([]ResponseRecord, len(r.records))
	for i, rec := range r.records {
		responses[i] = *rec
	}

	return Export{
		System:        snap,
		Conversations: conversations,
		Responses:     responses,
		ExportedAt:    r.now(),
	}
}

// PurgeOlderThan drops records older than the given number of days and
// returns how many were removed. days == 0 clears everything.
func (r *Recorder) PurgeOlderThan(days int) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	before := len(r.records)
	if days == 0 {
		r.records = nil
		r.byID = make(map[string]*ResponseRecord)
		r.logger.Info("cleared all metrics", "removed", before)
		return before
	}

	cutoff := r.now().AddDate(0, 0, -days)
	kept := r.records[:0]
	for _, rec := range r.records {
		if rec.Timestamp.Before(cutoff) {
			delete(r.byID, rec.ResponseID)
			continue
		}
		kept = append(kept, rec)
	}
	r.records = kept

	removed := before - len(r.records)
	if removed > 0 {
		r.logger.Info("purged old metrics", "removed", removed, "days", days)
	}
	return removed
}
