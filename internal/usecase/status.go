package usecase

import (
	"math/rand/v2"
	"sync"
	"time"

	"sparkie/internal/domain"
)

// Phase names a point in request processing that gets a status line.
type Phase string

const (
	PhaseThinking  Phase = "thinking"
	PhasePlanning  Phase = "planning"
	PhaseTool      Phase = "tool"
	PhaseSynthesis Phase = "synthesis"
	PhaseApproval  Phase = "approval"
)

// StatusPool picks short progress lines for a phase. Lookups try
// "<phase>/<tier>" first, then "<phase>". Tool lines are keyed
// "tool:<name>" with PhaseTool as the fallback.
type StatusPool struct {
	pool map[string][]string

	mu  sync.Mutex
	rng *rand.Rand
}

// DefaultStatusLines returns the built-in pool.
func DefaultStatusLines() map[string][]string {
	return map[string][]string{
		string(PhaseThinking):                      {"Thinking...", "Reading your message...", "Working on it..."},
		string(PhaseThinking) + "/conversational":  {"Typing..."},
		string(PhaseThinking) + "/deep":            {"Digging in...", "Thinking this through carefully..."},
		string(PhaseThinking) + "/frontier":        {"Taking this one step by step...", "Thinking this through carefully..."},
		string(PhaseThinking) + "/code_specialist": {"Reading the code...", "Looking at the code..."},
		string(PhasePlanning):                      {"Sketching a plan...", "Breaking this into steps..."},
		string(PhaseTool):                          {"Using a tool...", "Working on it..."},
		"tool:web_search":                          {"Searching the web...", "Looking that up..."},
		"tool:email":                               {"Checking your email..."},
		"tool:calendar":                            {"Checking your calendar..."},
		"tool:repo":                                {"Looking through the files..."},
		"tool:memory":                              {"Checking what I remember..."},
		"tool:schedule":                            {"Setting up the schedule..."},
		"tool:generate_image":                      {"Creating an image..."},
		"tool:generate_video":                      {"Creating a video, this can take a minute..."},
		"tool:generate_audio":                      {"Creating audio..."},
		"tool:finance":                             {"Checking the numbers..."},
		"tool:social":                              {"Checking social..."},
		string(PhaseSynthesis):                     {"Pulling it all together...", "Writing up the answer..."},
		string(PhaseApproval):                      {"Waiting for your approval..."},
	}
}

// NewStatusPool creates a pool. A nil pool uses DefaultStatusLines; seed 0
// seeds from the clock.
func NewStatusPool(pool map[string][]string, seed int64) *StatusPool {
	if pool == nil {
		pool = DefaultStatusLines()
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &StatusPool{
		pool: pool,
		rng:  rand.New(rand.NewPCG(uint64(seed), uint64(seed)>>1|1)),
	}
}

// Pick returns a line for phase, preferring a tier-specific one. It returns
// "" when the pool has nothing for the phase.
func (s *StatusPool) Pick(phase Phase, tier domain.Tier) string {
	return s.pick(string(phase)+"/"+string(tier), string(phase))
}

// PickTool returns a line announcing a call to tool.
func (s *StatusPool) PickTool(tool string) string {
	return s.pick("tool:"+tool, string(PhaseTool))
}

func (s *StatusPool) pick(keys ...string) string {
	if s == nil {
		return ""
	}
	for _, k := range keys {
		lines := s.pool[k]
		if len(lines) == 0 {
			continue
		}
		s.mu.Lock()
		i := s.rng.IntN(len(lines))
		s.mu.Unlock()
		return lines[i]
	}
	return ""
}
