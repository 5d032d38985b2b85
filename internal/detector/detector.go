// Package detector turns raw note, task and chat text into interest rows,
// then drives the similarity and hierarchy maintenance that follows.
package detector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/newnotes/insight/internal/interest"
	"github.com/newnotes/insight/internal/llm"
	"github.com/newnotes/insight/internal/similarity"
)

const (
	// maxSourceChars bounds the text sent to the extraction prompt.
	maxSourceChars = 8000

	// UpsertThreshold is the combined confidence below which a detected
	// topic is discarded instead of saved.
	UpsertThreshold = 0.6

	// Source weighting. Notes carry full weight. Tasks and chat messages
	// are weaker signals on their own but get a boost when the topic is
	// already a known active interest.
	weightNote      = 1.0
	weightTaskBase  = 0.4
	weightTaskKnown = 0.2
	weightChatBase  = 0.7
	weightChatKnown = 0.3
)

const extractionPrompt = `Extract the main topics of interest from the following text.

Return ONLY a JSON array, no other text. Each element must have the shape:
  {"name": "topic name", "score": 0.0-1.0, "count": 1}

"name" is a short topic label (1-4 words), "score" is how central the topic
is to the text, "count" is how many times it comes up.
Return [] if the text contains no meaningful topics.

Text:
%s`

// Document is one piece of source text to scan for topics.
type Document struct {
	ID   string
	Text string
}

// Activity is one batch of user activity to run detection over.
type Activity struct {
	Notes []Document
	Tasks []Document
	Chats []Document
}

// Report summarizes one detection pass.
type Report struct {
	TopicsDetected  int `json:"topics_detected"`
	InterestsSaved  int `json:"interests_saved"`
	InterestsMerged int `json:"interests_merged"`
	EdgesDetected   int `json:"edges_detected"`
}

// Store is the subset of the interest store the detector needs.
type Store interface {
	GetByTopic(ctx context.Context, topic string) (*interest.Interest, error)
	UpsertDetected(ctx context.Context, topic string, source interest.SourceType, confidence float64) (*interest.Interest, error)
	AddEvidence(ctx context.Context, interestID uuid.UUID, source interest.SourceType, sourceID string, relevance float64) error
}

// Merger is the similarity engine surface the detector drives after saving.
type Merger interface {
	GenerateEmbedding(ctx context.Context, in *interest.Interest) (*interest.Embedding, error)
	AutoMergeSimilarInterests(ctx context.Context, threshold float64) (int, error)
}

// EdgeDetector is the hierarchy graph surface the detector drives last.
type EdgeDetector interface {
	DetectHierarchies(ctx context.Context) (int, error)
}

// extracted is one topic parsed from a completion response.
type extracted struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
	Count int     `json:"count"`
}

// accumulated folds repeated detections of one topic across sources.
type accumulated struct {
	name       string // first-seen casing
	confidence float64
	count      int
	source     interest.SourceType // source type of first detection
	evidence   []evidenceRef
}

type evidenceRef struct {
	source    interest.SourceType
	sourceID  string
	relevance float64
}

// Detector extracts interests from activity text and keeps the graph tidy.
type Detector struct {
	store     Store
	completer llm.Completer
	merger    Merger
	edges     EdgeDetector
	logger    *slog.Logger

	// MergeThreshold overrides the similarity threshold for auto-merging.
	// Zero means similarity.DefaultAutoMergeThreshold.
	MergeThreshold float64
}

// New creates a detector.
func New(store Store, completer llm.Completer, merger Merger, edges EdgeDetector, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		store:     store,
		completer: completer,
		merger:    merger,
		edges:     edges,
		logger:    logger,
	}
}

// Run executes one full detection pass: extract topics per source, fold them
// into combined confidences, save those above UpsertThreshold, then generate
// embeddings, auto-merge duplicates and detect hierarchy edges.
//
// A failure in any single source or stage is logged and does not abort the
// rest of the pass.
func (d *Detector) Run(ctx context.Context, act Activity) (*Report, error) {
	acc := make(map[string]*accumulated)

	d.extractSource(ctx, interest.SourceNote, act.Notes, weightNote, 0, acc)
	d.extractSource(ctx, interest.SourceTask, act.Tasks, weightTaskBase, weightTaskKnown, acc)
	d.extractSource(ctx, interest.SourceChat, act.Chats, weightChatBase, weightChatKnown, acc)

	report := &Report{TopicsDetected: len(acc)}

	saved := make([]*interest.Interest, 0, len(acc))
	for _, a := range acc {
		if a.confidence < UpsertThreshold {
			continue
		}
		in, err := d.store.UpsertDetected(ctx, a.name, a.source, a.confidence)
		if err != nil {
			d.logger.Warn("saving detected interest failed", "topic", a.name, "error", err)
			continue
		}
		for _, ev := range a.evidence {
			if err := d.store.AddEvidence(ctx, in.ID, ev.source, ev.sourceID, ev.relevance); err != nil {
				d.logger.Warn("recording evidence failed",
					"topic", a.name, "source_id", ev.sourceID, "error", err)
			}
		}
		saved = append(saved, in)
	}
	report.InterestsSaved = len(saved)

	for _, in := range saved {
		if _, err := d.merger.GenerateEmbedding(ctx, in); err != nil {
			d.logger.Warn("embedding generation failed", "topic", in.Topic, "error", err)
		}
	}

	threshold := d.MergeThreshold
	if threshold == 0 {
		threshold = similarity.DefaultAutoMergeThreshold
	}
	merged, err := d.merger.AutoMergeSimilarInterests(ctx, threshold)
	if err != nil {
		d.logger.Warn("auto-merge failed", "error", err)
	}
	report.InterestsMerged = merged

	edges, err := d.edges.DetectHierarchies(ctx)
	if err != nil {
		d.logger.Warn("hierarchy detection failed", "error", err)
	}
	report.EdgesDetected = edges

	d.logger.Info("detection pass complete",
		"topics", report.TopicsDetected,
		"saved", report.InterestsSaved,
		"merged", report.InterestsMerged,
		"edges", report.EdgesDetected)
	return report, nil
}

// extractSource extracts topics from every document of one source type and
// folds the weighted results into acc. Per-document failures are logged and
// skipped.
func (d *Detector) extractSource(ctx context.Context, source interest.SourceType, docs []Document, base, knownBonus float64, acc map[string]*accumulated) {
	for _, doc := range docs {
		topics, err := d.extract(ctx, doc.Text)
		if err != nil {
			d.logger.Warn("topic extraction failed",
				"source", source, "source_id", doc.ID, "error", err)
			continue
		}
		for _, t := range topics {
			name := strings.TrimSpace(t.Name)
			if name == "" {
				continue
			}
			score := clamp01(t.Score)
			count := t.Count
			if count < 1 {
				count = 1
			}

			weight := base
			if knownBonus > 0 && d.isKnown(ctx, name) {
				weight += knownBonus
			}
			weighted := clamp01(score * weight)

			key := strings.ToLower(name)
			a, ok := acc[key]
			if !ok {
				a = &accumulated{name: name, source: source}
				acc[key] = a
			}
			a.confidence = clamp01(a.confidence + weighted)
			a.count += count
			a.evidence = append(a.evidence, evidenceRef{
				source:    source,
				sourceID:  doc.ID,
				relevance: weighted,
			})
		}
	}
}

// extract runs the extraction prompt over one text and parses the response.
// Malformed output degrades to zero topics, not an error; only a completion
// failure is surfaced.
func (d *Detector) extract(ctx context.Context, text string) ([]extracted, error) {
	text = llm.Truncate(text, maxSourceChars)
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	resp, err := d.completer.Complete(ctx, fmt.Sprintf(extractionPrompt, text), llm.CompleteOptions{
		Temperature: 0.2,
	})
	if err != nil {
		return nil, fmt.Errorf("completion: %w", err)
	}

	raw, ok := llm.LocateJSONArray(resp.Text)
	if !ok {
		d.logger.Debug("no topic array in completion response")
		return nil, nil
	}
	var topics []extracted
	if err := json.Unmarshal([]byte(raw), &topics); err != nil {
		d.logger.Debug("discarding malformed topic array", "error", err)
		return nil, nil
	}
	return topics, nil
}

// isKnown reports whether the topic already exists as an active interest.
// Lookup failures count as unknown.
func (d *Detector) isKnown(ctx context.Context, topic string) bool {
	_, err := d.store.GetByTopic(ctx, topic)
	if err == nil {
		return true
	}
	if !errors.Is(err, interest.ErrNotFound) {
		d.logger.Warn("known-topic lookup failed", "topic", topic, "error", err)
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
