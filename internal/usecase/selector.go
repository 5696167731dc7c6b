package usecase

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"sparkie/internal/domain"
	"sparkie/internal/infra/config"
)

// Classifier category names.
const (
	CategoryTaskIntent     = "task_intent"
	CategoryConversational = "conversational"
	CategoryDeepWork       = "deep_work"
	CategoryFrontier       = "frontier"
	CategoryCodeSpecialist = "code_specialist"
	// SignalShortMessage is derived from word count, not from patterns.
	SignalShortMessage = "short_message"
)

// Pattern is one weighted classifier rule.
type Pattern struct {
	Re     *regexp.Regexp
	Weight int
}

// Category scores a message as the sum of weights of matching patterns.
type Category struct {
	Name     string
	Patterns []Pattern
}

// Scores maps category names to accumulated weights.
type Scores map[string]int

// TierRule selects Tier when every Min and Max bound holds and, if AnyOf is
// set, at least one AnyOf threshold is met.
type TierRule struct {
	Tier  domain.Tier
	Min   map[string]int
	Max   map[string]int
	AnyOf map[string]int
}

// Match reports whether s satisfies the rule.
func (r TierRule) Match(s Scores) bool {
	for k, v := range r.Min {
		if s[k] < v {
			return false
		}
	}
	for k, v := range r.Max {
		if s[k] > v {
			return false
		}
	}
	if len(r.AnyOf) == 0 {
		return true
	}
	for k, v := range r.AnyOf {
		if s[k] >= v {
			return true
		}
	}
	return false
}

func weighted(expr string) Pattern {
	return Pattern{Re: regexp.MustCompile(`(?i)` + expr), Weight: 1}
}

// DefaultCategories is the built-in pattern table.
func DefaultCategories() []Category {
	return []Category{
		{Name: CategoryTaskIntent, Patterns: []Pattern{
			weighted(`\b(search|look up|find|google|research)\b`),
			weighted(`\b(send|email|e-mail|reply to|forward)\b`),
			weighted(`\b(schedule|calendar|meeting|remind me|reminder|book)\b`),
			weighted(`\b(create|generate|make|build|write|draw|design|compose)\b`),
			weighted(`\b(image|picture|photo|video|song|music|track)\b`),
			weighted(`\b(post|tweet|publish|share)\b`),
			weighted(`\b(file|repo|repository|code|script|deploy)\b`),
			weighted(`\b(remember|save|note that)\b`),
			weighted(`\b(what|when|where|who|how much|how many)\b.*\?`),
		}},
		{Name: CategoryConversational, Patterns: []Pattern{
			weighted(`^\s*(hi|hey|hello|yo|sup|hiya|howdy|gm|good (morning|afternoon|evening|night))\b`),
			weighted(`\b(thanks|thank you|thx|ty|appreciate it)\b`),
			weighted(`\b(how are you|how's it going|what's up|wyd)\b`),
			weighted(`\b(lol|lmao|haha|hehe|omg)\b`),
			weighted(`\b(i feel|i'm feeling|feeling|sad|happy|lonely|tired|bored|stressed|excited|love you|miss you)\b`),
			weighted(`\b(ok|okay|cool|nice|awesome|great|sure|yep|nope)\s*[.!]*\s*$`),
		}},
		{Name: CategoryDeepWork, Patterns: []Pattern{
			weighted(`\brefactor(ing)?\b`),
			weighted(`\barchitect(ure|ural)?\b`),
			weighted(`\b(whole|entire|full) (codebase|code base|repo|repository|project|app)\b`),
			weighted(`\b(migrate|migration|rewrite|overhaul|redesign)\b`),
			weighted(`\b(across|throughout) (all|every|the) (files|modules|services|packages)\b`),
			weighted(`\b(end[- ]to[- ]end|production[- ]ready|scalab(le|ility)|full[- ]stack)\b`),
			weighted(`\b(step[- ]by[- ]step plan|in[- ]depth|comprehensive|thorough)\b`),
		}},
		{Name: CategoryFrontier, Patterns: []Pattern{
			weighted(`\bcross[- ](domain|disciplinary|functional)\b`),
			weighted(`\b(design|architect) (a|an|the) (platform|system|company|business|protocol|framework|economy)\b`),
			weighted(`\b(business plan|go[- ]to[- ]market|research (paper|proposal)|white ?paper|thesis)\b`),
			weighted(`\b(novel|original|first[- ]principles|groundbreaking)\b`),
			weighted(`\b(trade[- ]?offs?|implications|second[- ]order)\b`),
			weighted(`\b(combine|synthesi[sz]e|integrate) .+ (with|and) .+`),
		}},
		{Name: CategoryCodeSpecialist, Patterns: []Pattern{
			weighted(`\b(bug|bugs|debug|fix (this|the|my|a))\b`),
			weighted(`\b(stack ?trace|traceback|exception|segfault|panic|error:)`),
			weighted(`\b(script|function|method|class|regex|sql|query|unit tests?)\b`),
			weighted(`\b(python|javascript|typescript|go(lang)?|rust|java|bash|c\+\+|html|css)\b`),
			weighted("```"),
			weighted(`\b(compile|compiler|lint|type error|null pointer|undefined is not)\b`),
		}},
	}
}

// DefaultTierRules is the built-in priority order, most capable first.
func DefaultTierRules() []TierRule {
	return []TierRule{
		{Tier: domain.TierFrontier, Min: map[string]int{CategoryFrontier: 2}},
		{Tier: domain.TierDeep, Min: map[string]int{CategoryDeepWork: 2}},
		{Tier: domain.TierCodeSpecialist, Min: map[string]int{CategoryCodeSpecialist: 2}},
		{
			Tier:  domain.TierConversational,
			Max:   map[string]int{CategoryTaskIntent: 0},
			AnyOf: map[string]int{CategoryConversational: 1, SignalShortMessage: 1},
		},
	}
}

// Selector classifies the latest user turn into a tier and builds the
// ordered candidate model list for it.
type Selector struct {
	categories []Category
	rules      []TierRule
	tiers      map[domain.Tier]config.TierConfig
	resolver   domain.ProviderResolver
	shortWords int
	logger     *slog.Logger
}

// NewSelector builds a selector from config. Extra patterns extend the
// built-in categories.
func NewSelector(cfg config.SelectorConfig, tiers map[string]config.TierConfig, resolver domain.ProviderResolver, logger *slog.Logger) (*Selector, error) {
	cats := DefaultCategories()
	for name, extra := range cfg.ExtraPatterns {
		idx := -1
		for i, c := range cats {
			if c.Name == name {
				idx = i
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("selector: unknown category %q", name)
		}
		for _, pc := range extra {
			re, err := regexp.Compile(`(?i)` + pc.Pattern)
			if err != nil {
				return nil, fmt.Errorf("selector: category %q: %w", name, err)
			}
			cats[idx].Patterns = append(cats[idx].Patterns, Pattern{Re: re, Weight: pc.Weight})
		}
	}

	tt := make(map[domain.Tier]config.TierConfig, len(tiers))
	for name, tc := range tiers {
		tt[domain.Tier(name)] = tc
	}
	shortWords := cfg.ShortMessageWords
	if shortWords <= 0 {
		shortWords = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{
		categories: cats,
		rules:      DefaultTierRules(),
		tiers:      tt,
		resolver:   resolver,
		shortWords: shortWords,
		logger:     logger,
	}, nil
}

// Score computes category scores for text.
func (s *Selector) Score(text string) Scores {
	scores := make(Scores, len(s.categories)+1)
	for _, c := range s.categories {
		for _, pat := range c.Patterns {
			if pat.Re.MatchString(text) {
				scores[c.Name] += pat.Weight
			}
		}
	}
	if n := len(strings.Fields(text)); n > 0 && n <= s.shortWords {
		scores[SignalShortMessage] = 1
	}
	return scores
}

// Classify returns the first tier whose rule matches text, or Capable.
func (s *Selector) Classify(text string) (domain.Tier, Scores) {
	scores := s.Score(text)
	for _, r := range s.rules {
		if r.Match(scores) {
			return r.Tier, scores
		}
	}
	return domain.TierCapable, scores
}

// Select classifies the latest user message in history. A non-empty,
// available preferred model goes first. Candidates whose provider has no
// credential are dropped unless that would leave none. Select never fails.
func (s *Selector) Select(history []domain.Message, preferred string) domain.ModelSelection {
	tier, scores := s.Classify(domain.LatestUserMessage(history))
	tc := s.tiers[tier]

	chain := domain.ModelSelection{Primary: tc.Primary, Fallbacks: tc.Fallbacks}.Candidates()
	if preferred != "" && s.available(preferred) {
		chain = domain.ModelSelection{Primary: preferred, Fallbacks: chain}.Candidates()
	}

	filtered := make([]string, 0, len(chain))
	for _, m := range chain {
		if s.available(m) {
			filtered = append(filtered, m)
		}
	}
	if len(filtered) == 0 {
		filtered = chain
	}

	sel := domain.ModelSelection{Tier: tier}
	if len(filtered) > 0 {
		sel.Primary = filtered[0]
		sel.Fallbacks = append([]string(nil), filtered[1:]...)
	}
	s.logger.Debug("model selected", "tier", tier, "primary", sel.Primary, "fallbacks", len(sel.Fallbacks), "scores", scores)
	return sel
}

func (s *Selector) available(model string) bool {
	return s.resolver == nil || s.resolver.Available(model)
}

// MaxRounds returns the round budget for tier, at least 1.
func (s *Selector) MaxRounds(tier domain.Tier) int {
	if n := s.tiers[tier].MaxRounds; n > 0 {
		return n
	}
	return 1
}
