package memory

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/porterhq/porter/ai/core/llm"
)

const (
	llmExtractConfidence  = 0.8
	ruleExtractConfidence = 0.6
)

const extractSystemPrompt = `Extract personal facts about the user from the message.
Reply with a single JSON object: {"facts":[{"content":"<short lowercase phrase>","category":"<one of: identity, preferences, relationships, facts, skills, goals, style>"}]}
Each fact must stand alone without the message as context. Return {"facts":[]} when there is nothing personal.`

// extract derives facts from the utterance: the fast provider first, rule
// fallback when it fails or returns nothing usable.
func (s *Service) extract(ctx context.Context, utterance, sessionID string) []*Fact {
	if s.llm != nil {
		if facts := s.extractLLM(ctx, utterance, sessionID); len(facts) > 0 {
			return facts
		}
	}
	return s.extractRules(utterance, sessionID)
}

func (s *Service) extractLLM(ctx context.Context, utterance, sessionID string) []*Fact {
	raw, err := s.llm.Complete(ctx, extractSystemPrompt, utterance,
		llm.Options{JSONMode: true, Temperature: 0.1, MaxTokens: 512})
	if err != nil {
		slog.Debug("memory: llm extraction failed, using rules", "error", err)
		return nil
	}

	var parsed struct {
		Facts []struct {
			Content  string `json:"content"`
			Category string `json:"category"`
		} `json:"facts"`
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
		slog.Debug("memory: malformed extraction JSON, using rules", "error", err)
		return nil
	}

	facts := make([]*Fact, 0, len(parsed.Facts))
	for _, pf := range parsed.Facts {
		content := normalizeContent(pf.Content)
		if content == "" {
			continue
		}
		category := Category(strings.ToLower(pf.Category))
		if !knownCategories[category] {
			category = CategoryFacts
		}
		facts = append(facts, newFact(content, category, llmExtractConfidence, utterance, sessionID))
	}
	return facts
}

// extractRules is the fallback: strip the command prefix and keep the
// remainder as one fact, with a keyword-based category guess.
func (s *Service) extractRules(utterance, sessionID string) []*Fact {
	content := stripStorePrefix(utterance)
	if content == "" {
		return nil
	}
	return []*Fact{
		newFact(content, guessCategory(content), ruleExtractConfidence, utterance, sessionID),
	}
}

func guessCategory(content string) Category {
	switch {
	case containsAny(content, "my name is", "i am called", "i'm called", "call me", "i live in", "i'm from", "i am from"):
		return CategoryIdentity
	case containsAny(content, "i like", "i love", "i prefer", "i enjoy", "i hate", "i dislike", "my favorite", "my favourite"):
		return CategoryPreferences
	case containsAny(content, "my wife", "my husband", "my partner", "my brother", "my sister", "my mother", "my father", "my friend", "my son", "my daughter"):
		return CategoryRelationships
	case containsAny(content, "i can ", "i know how", "i'm good at", "i am good at", "i work as", "i work with"):
		return CategorySkills
	case containsAny(content, "i want to", "i plan to", "my goal", "i'm trying to", "i am trying to"):
		return CategoryGoals
	case containsAny(content, "talk to me", "answer me", "reply to me", "keep your answers", "be more"):
		return CategoryStyle
	default:
		return CategoryFacts
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
