// Package memory persists long-lived personal facts across sessions, with
// deduplication, natural-language store/forget/recall commands, and a compact
// "Personal Context" summary for prompt assembly.
package memory

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/porterhq/porter/ai/core/llm"
)

// Category partitions facts for deduplication and summarisation.
type Category string

const (
	CategoryIdentity      Category = "identity"
	CategoryPreferences   Category = "preferences"
	CategoryRelationships Category = "relationships"
	CategoryFacts         Category = "facts"
	CategorySkills        Category = "skills"
	CategoryGoals         Category = "goals"
	CategoryStyle         Category = "style"
)

// knownCategories guards against LLM-invented categories.
var knownCategories = map[Category]bool{
	CategoryIdentity: true, CategoryPreferences: true, CategoryRelationships: true,
	CategoryFacts: true, CategorySkills: true, CategoryGoals: true, CategoryStyle: true,
}

// Fact is one remembered statement about the user. Content is stored
// lowercase; two facts in the same category with >=70% token overlap merge.
type Fact struct {
	ID              string         `json:"id"`
	Content         string         `json:"content"`
	Category        Category       `json:"category"`
	Confidence      float64        `json:"confidence"`
	SourceUtterance string         `json:"source_utterance"`
	SessionID       string         `json:"session_id"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Action is the decision Process made for an utterance.
type Action string

const (
	ActionStore  Action = "store"
	ActionForget Action = "forget"
	ActionRecall Action = "recall"
	ActionNone   Action = "none"
)

// ProcessResult is the outcome of Process.
type ProcessResult struct {
	Action Action
	Reply  string
	Facts  []*Fact // stored, removed, or recalled facts depending on Action
}

// Stats summarises the store for the stats endpoint.
type Stats struct {
	TotalFacts  int              `json:"total_facts"`
	ByCategory  map[Category]int `json:"by_category"`
	LastUpdated time.Time        `json:"last_updated"`
	FileBytes   int64            `json:"file_bytes"`
}

const (
	mergeOverlapThreshold  = 0.7
	forgetOverlapThreshold = 0.5
	recallLimit            = 5
)

// Config configures the memory service.
type Config struct {
	Path            string // semantic_memory.json location
	LLM             llm.Service
	ExtractImplicit bool // implicit fact extraction on non-command turns (default off)
}

// Service is the semantic memory layer. The JSON file is single-writer:
// mutations hold the service lock and rewrite the document atomically.
type Service struct {
	mu              sync.Mutex
	store           *fileStore
	facts           []*Fact
	llm             llm.Service
	extractImplicit bool
	lastUpdated     time.Time
}

// NewService loads the memory document and returns the service.
func NewService(cfg Config) (*Service, error) {
	store := newFileStore(cfg.Path)
	facts, updated, err := store.load()
	if err != nil {
		return nil, errors.Wrap(err, "memory: load")
	}
	return &Service{
		store:           store,
		facts:           facts,
		llm:             cfg.LLM,
		extractImplicit: cfg.ExtractImplicit,
		lastUpdated:     updated,
	}, nil
}

// Process classifies the utterance as a memory command and executes it.
// Non-command utterances return ActionNone (with optional implicit
// extraction when enabled).
func (s *Service) Process(ctx context.Context, utterance, sessionID string) (*ProcessResult, error) {
	text := strings.TrimSpace(utterance)
	if text == "" {
		return &ProcessResult{Action: ActionNone}, nil
	}

	switch {
	case isRecallCommand(text):
		return s.recall(text), nil
	case isForgetCommand(text):
		return s.forget(text)
	case isStoreCommand(text):
		return s.storeFacts(ctx, text, sessionID)
	default:
		if s.extractImplicit {
			// Best-effort: never fail the turn over implicit extraction.
			if _, err := s.storeFacts(ctx, text, sessionID); err != nil {
				slog.Debug("memory: implicit extraction failed", "error", err)
			}
		}
		return &ProcessResult{Action: ActionNone}, nil
	}
}

// storeFacts extracts facts from the utterance and persists them, merging
// duplicates per category.
func (s *Service) storeFacts(ctx context.Context, utterance, sessionID string) (*ProcessResult, error) {
	extracted := s.extract(ctx, utterance, sessionID)
	if len(extracted) == 0 {
		return &ProcessResult{
			Action: ActionStore,
			Reply:  "I couldn't find anything to remember in that — could you rephrase?",
		}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]*Fact, 0, len(extracted))
	for _, f := range extracted {
		stored = append(stored, s.upsertLocked(f))
	}
	if err := s.saveLocked(); err != nil {
		return nil, err
	}

	return &ProcessResult{Action: ActionStore, Reply: "Got it 👍", Facts: stored}, nil
}

// upsertLocked merges the candidate into an existing fact when the category
// and content overlap enough, otherwise appends it.
func (s *Service) upsertLocked(candidate *Fact) *Fact {
	for _, existing := range s.facts {
		if existing.Category != candidate.Category {
			continue
		}
		if tokenOverlap(existing.Content, candidate.Content) < mergeOverlapThreshold {
			continue
		}
		mergeFact(existing, candidate)
		return existing
	}
	s.facts = append(s.facts, candidate)
	return candidate
}

// mergeFact folds the newer candidate into the kept fact.
// Policy: preferences take the newest text; identity keeps the more specific
// (longer) text; everything else concatenates.
func mergeFact(kept, candidate *Fact) {
	switch kept.Category {
	case CategoryPreferences:
		kept.Content = candidate.Content
	case CategoryIdentity:
		if len(candidate.Content) > len(kept.Content) {
			kept.Content = candidate.Content
		}
	default:
		if kept.Content != candidate.Content && !strings.Contains(kept.Content, candidate.Content) {
			kept.Content = kept.Content + "; " + candidate.Content
		}
	}
	if candidate.Confidence > kept.Confidence {
		kept.Confidence = candidate.Confidence
	}
	kept.UpdatedAt = time.Now().UTC()
	appendSourceMessage(kept, candidate.SourceUtterance)
}

func appendSourceMessage(f *Fact, source string) {
	if source == "" {
		return
	}
	if f.Metadata == nil {
		f.Metadata = map[string]any{}
	}
	sources, _ := f.Metadata["source_messages"].([]any)
	for _, s := range sources {
		if s == source {
			return
		}
	}
	f.Metadata["source_messages"] = append(sources, source)
}

// forget removes facts matching the command remainder by substring or token
// overlap.
func (s *Service) forget(text string) (*ProcessResult, error) {
	target := normalizeContent(stripForgetPrefix(text))
	if target == "" {
		return &ProcessResult{Action: ActionForget, Reply: "What should I forget?"}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var kept, removed []*Fact
	for _, f := range s.facts {
		match := strings.Contains(f.Content, target) ||
			strings.Contains(target, f.Content) ||
			tokenOverlap(f.Content, target) >= forgetOverlapThreshold
		if match {
			removed = append(removed, f)
		} else {
			kept = append(kept, f)
		}
	}

	if len(removed) == 0 {
		return &ProcessResult{Action: ActionForget, Reply: "I don't have anything like that remembered."}, nil
	}

	s.facts = kept
	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	return &ProcessResult{Action: ActionForget, Reply: "Done — forgotten.", Facts: removed}, nil
}

// recall scores all facts against the query and phrases the top matches as a
// conversational sentence.
func (s *Service) recall(query string) *ProcessResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.facts) == 0 {
		return &ProcessResult{Action: ActionRecall, Reply: "I don't know anything about you yet — tell me something to remember!"}
	}

	normalized := normalizeContent(query)
	type scored struct {
		fact  *Fact
		score float64
	}
	candidates := make([]scored, 0, len(s.facts))
	for _, f := range s.facts {
		score := tokenOverlap(f.Content, normalized)
		if strings.Contains(normalized, f.Content) || strings.Contains(f.Content, normalized) {
			score += 0.5
		}
		// A broad "about me" query matches everything equally.
		if isBroadRecall(normalized) {
			score += f.Confidence
		}
		candidates = append(candidates, scored{f, score})
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	var top []*Fact
	for _, c := range candidates {
		if c.score <= 0 {
			break
		}
		top = append(top, c.fact)
		if len(top) == recallLimit {
			break
		}
	}
	if len(top) == 0 {
		return &ProcessResult{Action: ActionRecall, Reply: "Nothing comes to mind for that."}
	}

	phrases := make([]string, len(top))
	for i, f := range top {
		phrases[i] = f.Content
	}
	reply := "Here's what I remember: " + strings.Join(phrases, "; ") + "."
	return &ProcessResult{Action: ActionRecall, Reply: reply, Facts: top}
}

// ContextForAI summarises the most salient facts per category into a single
// "Personal Context" preamble. Empty string when nothing is stored.
func (s *Service) ContextForAI(_ string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.facts) == 0 {
		return ""
	}

	byCategory := map[Category][]*Fact{}
	for _, f := range s.facts {
		byCategory[f.Category] = append(byCategory[f.Category], f)
	}

	var b strings.Builder
	b.WriteString("Personal Context:\n")
	for _, cat := range []Category{
		CategoryIdentity, CategoryPreferences, CategoryRelationships,
		CategoryFacts, CategorySkills, CategoryGoals, CategoryStyle,
	} {
		facts := byCategory[cat]
		if len(facts) == 0 {
			continue
		}
		sort.SliceStable(facts, func(i, j int) bool {
			if facts[i].Confidence != facts[j].Confidence {
				return facts[i].Confidence > facts[j].Confidence
			}
			return facts[i].UpdatedAt.After(facts[j].UpdatedAt)
		})
		limit := 3
		if len(facts) < limit {
			limit = len(facts)
		}
		phrases := make([]string, limit)
		for i := 0; i < limit; i++ {
			phrases[i] = facts[i].Content
		}
		b.WriteString("- " + string(cat) + ": " + strings.Join(phrases, "; ") + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Stats reports store totals for the stats endpoint.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		TotalFacts:  len(s.facts),
		ByCategory:  map[Category]int{},
		LastUpdated: s.lastUpdated,
		FileBytes:   s.store.size(),
	}
	for _, f := range s.facts {
		stats.ByCategory[f.Category]++
	}
	return stats
}

func (s *Service) saveLocked() error {
	now := time.Now().UTC()
	if err := s.store.save(s.facts, now); err != nil {
		return errors.Wrap(err, "memory: save")
	}
	s.lastUpdated = now
	return nil
}

func newFact(content string, category Category, confidence float64, source, sessionID string) *Fact {
	now := time.Now().UTC()
	f := &Fact{
		ID:              uuid.NewString(),
		Content:         normalizeContent(content),
		Category:        category,
		Confidence:      confidence,
		SourceUtterance: source,
		SessionID:       sessionID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	appendSourceMessage(f, source)
	return f
}

// normalizeContent lowercases and collapses whitespace; stored content is
// always in this form.
func normalizeContent(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// tokenOverlap is the share of the smaller token set found in the larger.
func tokenOverlap(a, b string) float64 {
	ta := tokenSet(a)
	tb := tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	small, large := ta, tb
	if len(tb) < len(ta) {
		small, large = tb, ta
	}
	matched := 0
	for tok := range small {
		if large[tok] {
			matched++
		}
	}
	return float64(matched) / float64(len(small))
}

func tokenSet(s string) map[string]bool {
	set := map[string]bool{}
	for _, tok := range strings.Fields(normalizeContent(s)) {
		tok = strings.Trim(tok, ".,!?;:'\"")
		if tok != "" {
			set[tok] = true
		}
	}
	return set
}
