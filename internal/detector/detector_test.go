package detector_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/newnotes/insight/internal/detector"
	"github.com/newnotes/insight/internal/interest"
	"github.com/newnotes/insight/internal/llm"
	"github.com/newnotes/insight/internal/log"
	"github.com/newnotes/insight/internal/testutil"
)

// fakeMerger records the post-save similarity maintenance calls.
type fakeMerger struct {
	embedded  []string
	threshold float64
	merged    int
	calls     int
}

func (f *fakeMerger) GenerateEmbedding(_ context.Context, in *interest.Interest) (*interest.Embedding, error) {
	f.embedded = append(f.embedded, in.Topic)
	return &interest.Embedding{InterestID: in.ID, Vector: []float32{1}, Model: "fake"}, nil
}

func (f *fakeMerger) AutoMergeSimilarInterests(_ context.Context, threshold float64) (int, error) {
	f.calls++
	f.threshold = threshold
	return f.merged, nil
}

// fakeEdges records hierarchy detection invocations.
type fakeEdges struct {
	calls int
	edges int
	err   error
}

func (f *fakeEdges) DetectHierarchies(_ context.Context) (int, error) {
	f.calls++
	return f.edges, f.err
}

func newDetector(store detector.Store, completer llm.Completer) (*detector.Detector, *fakeMerger, *fakeEdges) {
	merger := &fakeMerger{}
	edges := &fakeEdges{}
	return detector.New(store, completer, merger, edges, log.NewNop()), merger, edges
}

func TestRunSavesDetectedInterests(t *testing.T) {
	store := testutil.NewFakeStore()
	completer := testutil.NewMockCompleter(`[{"name": "Rust", "score": 0.8, "count": 2}]`)
	d, merger, edges := newDetector(store, completer)
	edges.edges = 1
	merger.merged = 0

	report, err := d.Run(context.Background(), detector.Activity{
		Notes: []detector.Document{{ID: "note-1", Text: "Been learning Rust lately, the borrow checker finally clicks."}},
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if report.TopicsDetected != 1 || report.InterestsSaved != 1 {
		t.Errorf("report = %+v, want 1 topic detected and saved", report)
	}
	if report.EdgesDetected != 1 {
		t.Errorf("EdgesDetected = %d, want 1", report.EdgesDetected)
	}

	in, err := store.GetByTopic(context.Background(), "Rust")
	if err != nil {
		t.Fatalf("GetByTopic(Rust) error: %v", err)
	}
	if in.Confidence != 0.8 {
		t.Errorf("confidence = %v, want 0.8 (note weight 1.0)", in.Confidence)
	}
	if in.SourceType != interest.SourceNote {
		t.Errorf("source type = %q, want note", in.SourceType)
	}
	if in.EvidenceCount != 1 {
		t.Errorf("evidence count = %d, want 1", in.EvidenceCount)
	}

	if len(merger.embedded) != 1 || merger.embedded[0] != "Rust" {
		t.Errorf("embedded topics = %v, want [Rust]", merger.embedded)
	}
	if merger.calls != 1 || merger.threshold != 0.85 {
		t.Errorf("auto-merge calls = %d threshold = %v, want 1 call at 0.85", merger.calls, merger.threshold)
	}
	if edges.calls != 1 {
		t.Errorf("hierarchy detection calls = %d, want 1", edges.calls)
	}
}

func TestRunFoldsAcrossSources(t *testing.T) {
	store := testutil.NewFakeStore()
	// Same topic from a note and a chat message: 0.5*1.0 + 0.5*0.7 = 0.85.
	completer := testutil.NewMockCompleter(
		`[{"name": "Gardening", "score": 0.5, "count": 1}]`,
		`[{"name": "gardening", "score": 0.5, "count": 1}]`,
	)
	d, _, _ := newDetector(store, completer)

	_, err := d.Run(context.Background(), detector.Activity{
		Notes: []detector.Document{{ID: "note-1", Text: "tomatoes again"}},
		Chats: []detector.Document{{ID: "chat-1", Text: "asked about composting"}},
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	in, err := store.GetByTopic(context.Background(), "Gardening")
	if err != nil {
		t.Fatalf("GetByTopic(Gardening) error: %v", err)
	}
	if in.Confidence < 0.84 || in.Confidence > 0.86 {
		t.Errorf("folded confidence = %v, want 0.85", in.Confidence)
	}
	// Casing of the first detection wins.
	if in.Topic != "Gardening" {
		t.Errorf("topic = %q, want first-seen casing %q", in.Topic, "Gardening")
	}
	if in.EvidenceCount != 2 {
		t.Errorf("evidence count = %d, want one row per contributing document", in.EvidenceCount)
	}
}

func TestRunFoldCapsAtOne(t *testing.T) {
	store := testutil.NewFakeStore()
	completer := testutil.NewMockCompleter(
		`[{"name": "Chess", "score": 0.9, "count": 1}]`,
		`[{"name": "Chess", "score": 0.8, "count": 3}]`,
	)
	d, _, _ := newDetector(store, completer)

	_, err := d.Run(context.Background(), detector.Activity{
		Notes: []detector.Document{
			{ID: "note-1", Text: "queen's gambit notes"},
			{ID: "note-2", Text: "endgame studies"},
		},
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	in, err := store.GetByTopic(context.Background(), "Chess")
	if err != nil {
		t.Fatalf("GetByTopic(Chess) error: %v", err)
	}
	if in.Confidence != 1.0 {
		t.Errorf("confidence = %v, want capped at 1.0", in.Confidence)
	}
}

func TestRunClampsScoreAndCount(t *testing.T) {
	store := testutil.NewFakeStore()
	completer := testutil.NewMockCompleter(`[{"name": "Hiking", "score": 3.5, "count": -2}]`)
	d, _, _ := newDetector(store, completer)

	report, err := d.Run(context.Background(), detector.Activity{
		Notes: []detector.Document{{ID: "note-1", Text: "trail log"}},
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if report.InterestsSaved != 1 {
		t.Fatalf("InterestsSaved = %d, want 1", report.InterestsSaved)
	}

	in, err := store.GetByTopic(context.Background(), "Hiking")
	if err != nil {
		t.Fatalf("GetByTopic(Hiking) error: %v", err)
	}
	if in.Confidence != 1.0 {
		t.Errorf("confidence = %v, want clamped to 1.0", in.Confidence)
	}
}

func TestRunDiscardsWeakTopics(t *testing.T) {
	store := testutil.NewFakeStore()
	// Unknown topic from a task: 0.9 * 0.4 = 0.36, below the save threshold.
	completer := testutil.NewMockCompleter(`[{"name": "Taxes", "score": 0.9, "count": 1}]`)
	d, _, _ := newDetector(store, completer)

	report, err := d.Run(context.Background(), detector.Activity{
		Tasks: []detector.Document{{ID: "task-1", Text: "file quarterly taxes"}},
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if report.TopicsDetected != 1 {
		t.Errorf("TopicsDetected = %d, want 1", report.TopicsDetected)
	}
	if report.InterestsSaved != 0 {
		t.Errorf("InterestsSaved = %d, want 0", report.InterestsSaved)
	}
}

func TestRunBoostsKnownTopics(t *testing.T) {
	store := testutil.NewFakeStore()
	store.Seed(&interest.Interest{Topic: "Go", Confidence: 0.7})
	// Known topic from a task: 1.0 * (0.4 + 0.2) = 0.6, exactly at threshold.
	completer := testutil.NewMockCompleter(`[{"name": "Go", "score": 1.0, "count": 1}]`)
	d, _, _ := newDetector(store, completer)

	report, err := d.Run(context.Background(), detector.Activity{
		Tasks: []detector.Document{{ID: "task-1", Text: "refactor the Go service"}},
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if report.InterestsSaved != 1 {
		t.Errorf("InterestsSaved = %d, want 1 (known-topic boost reaches threshold)", report.InterestsSaved)
	}

	in, err := store.GetByTopic(context.Background(), "Go")
	if err != nil {
		t.Fatalf("GetByTopic(Go) error: %v", err)
	}
	// Existing confidence 0.7 beats the redetection's 0.6.
	if in.Confidence != 0.7 {
		t.Errorf("confidence = %v, want 0.7 kept", in.Confidence)
	}
}

// failFirstCompleter fails its first call and delegates the rest.
type failFirstCompleter struct {
	inner  llm.Completer
	failed bool
}

func (f *failFirstCompleter) Complete(ctx context.Context, prompt string, opts llm.CompleteOptions) (*llm.Completion, error) {
	if !f.failed {
		f.failed = true
		return nil, errors.New("completion service down")
	}
	return f.inner.Complete(ctx, prompt, opts)
}

func TestRunIsolatesSourceFailures(t *testing.T) {
	store := testutil.NewFakeStore()
	completer := &failFirstCompleter{
		inner: testutil.NewMockCompleter(`[{"name": "Photography", "score": 0.9, "count": 1}]`),
	}
	d, _, _ := newDetector(store, completer)

	report, err := d.Run(context.Background(), detector.Activity{
		Notes: []detector.Document{
			{ID: "note-1", Text: "this extraction fails"},
			{ID: "note-2", Text: "this one succeeds"},
		},
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if report.InterestsSaved != 1 {
		t.Errorf("InterestsSaved = %d, want 1 despite a failed extraction", report.InterestsSaved)
	}
}

func TestRunMalformedExtraction(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"no array", "these notes cover no particular topic"},
		{"broken json", `[{"name": "x"`},
		{"blank names dropped", `[{"name": "   ", "score": 0.9, "count": 1}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testutil.NewFakeStore()
			d, _, _ := newDetector(store, testutil.NewMockCompleter(tt.response))

			report, err := d.Run(context.Background(), detector.Activity{
				Notes: []detector.Document{{ID: "note-1", Text: "some text"}},
			})
			if err != nil {
				t.Fatalf("Run() error: %v", err)
			}
			if report.TopicsDetected != 0 || report.InterestsSaved != 0 {
				t.Errorf("report = %+v, want nothing detected", report)
			}
		})
	}
}

func TestRunSkipsEmptyDocuments(t *testing.T) {
	store := testutil.NewFakeStore()
	completer := testutil.NewMockCompleter(`[{"name": "Never", "score": 1.0, "count": 1}]`)
	d, _, _ := newDetector(store, completer)

	report, err := d.Run(context.Background(), detector.Activity{
		Notes: []detector.Document{{ID: "note-1", Text: "   "}},
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if report.TopicsDetected != 0 {
		t.Errorf("TopicsDetected = %d, want 0 for blank input", report.TopicsDetected)
	}
}

func TestTriggerRequiresMinEvents(t *testing.T) {
	tr := detector.NewTrigger(time.Hour, 3)

	if tr.Record(1) {
		t.Error("Record(1) fired below the event threshold")
	}
	if tr.Record(1) {
		t.Error("Record(2 total) fired below the event threshold")
	}
	if !tr.Record(1) {
		t.Error("Record(3 total) did not fire")
	}
	if tr.Pending() != 0 {
		t.Errorf("pending = %d after firing, want 0", tr.Pending())
	}
}

func TestTriggerCooldown(t *testing.T) {
	tr := detector.NewTrigger(time.Hour, 1)

	if !tr.Record(1) {
		t.Fatal("first Record did not fire")
	}
	if tr.Record(5) {
		t.Error("Record fired again inside the cooldown window")
	}
	if tr.Pending() != 5 {
		t.Errorf("pending = %d, want 5 retained for the next window", tr.Pending())
	}
}

func TestRunLongTextTruncated(t *testing.T) {
	store := testutil.NewFakeStore()
	completer := testutil.NewMockCompleter(`[]`)
	d, _, _ := newDetector(store, completer)

	_, err := d.Run(context.Background(), detector.Activity{
		Notes: []detector.Document{{ID: "note-1", Text: strings.Repeat("x", 50000)}},
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
}
