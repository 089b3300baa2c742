package quality

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Iron-Ham/quorum/internal/agent"
	"github.com/Iron-Ham/quorum/internal/stage"
)

// Confidence grades agreement among the checkpoint agents on an issue.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Magnitude grades how serious an issue is.
type Magnitude string

const (
	MagnitudeCritical  Magnitude = "critical"
	MagnitudeImportant Magnitude = "important"
	MagnitudeMinor     Magnitude = "minor"
)

// Resolvability grades how an issue can be fixed.
type Resolvability string

const (
	ResolvabilityAutoFix    Resolvability = "auto-fix"
	ResolvabilitySuggestFix Resolvability = "suggest-fix"
	ResolvabilityNeedsHuman Resolvability = "needs-human"
)

// Resolution is the terminal disposition of an issue. Every classified
// issue ends in exactly one of these; there is no discard path.
type Resolution string

const (
	ResolutionApplied   Resolution = "applied"
	ResolutionDeferred  Resolution = "deferred"
	ResolutionEscalated Resolution = "escalated"
)

// Issue is one classified quality finding, merged across the checkpoint
// agents that reported it. Classification is immutable once computed; only
// Resolution and Flagged change as the gate processes it.
type Issue struct {
	ID            string            `json:"id"`
	Checkpoint    string            `json:"checkpoint"`
	Description   string            `json:"description"`
	Confidence    Confidence        `json:"confidence"`
	Magnitude     Magnitude         `json:"magnitude"`
	Resolvability Resolvability     `json:"resolvability"`
	AgentAnswers  map[string]string `json:"agent_answers"`
	Majority      string            `json:"majority,omitempty"`
	SuggestedFix  string            `json:"suggested_fix,omitempty"`

	Resolution Resolution `json:"resolution,omitempty"`
	Flagged    bool       `json:"flagged,omitempty"`
	Reason     string     `json:"reason,omitempty"`
}

// rawIssue is the per-agent wire form inside {"issues": [...]}.
type rawIssue struct {
	ID            string `json:"id"`
	Question      string `json:"question"`
	Answer        string `json:"answer"`
	Confidence    string `json:"confidence"`
	Magnitude     string `json:"magnitude"`
	Severity      string `json:"severity"`
	Resolvability string `json:"resolvability"`
	SuggestedFix  string `json:"suggested_fix"`
}

type issueDoc struct {
	Issues []rawIssue `json:"issues"`
}

// parseIssues merges the per-agent issue reports for a checkpoint. Issues
// are grouped by question; agreement across agents determines confidence
// (all agree = high, strict majority = medium, otherwise low), and the most
// conservative magnitude and resolvability reported win.
func parseIssues(cp stage.Checkpoint, results []agent.Result) ([]Issue, error) {
	type group struct {
		issue   Issue
		answers map[string]string
	}
	groups := make(map[string]*group)
	var order []string
	responders := 0

	for _, r := range results {
		if r.Status != agent.StatusSucceeded {
			continue
		}
		var doc issueDoc
		if err := json.Unmarshal([]byte(r.Output), &doc); err != nil {
			return nil, fmt.Errorf("agent %s produced an unparseable issue report: %w", r.Agent, err)
		}
		responders++

		for _, raw := range doc.Issues {
			key := normalizeQuestion(raw.Question)
			g, ok := groups[key]
			if !ok {
				g = &group{
					issue: Issue{
						ID:            raw.ID,
						Checkpoint:    cp.String(),
						Description:   raw.Question,
						Magnitude:     parseMagnitude(raw),
						Resolvability: parseResolvability(raw.Resolvability),
						SuggestedFix:  raw.SuggestedFix,
					},
					answers: make(map[string]string),
				}
				groups[key] = g
				order = append(order, key)
			}
			g.answers[r.Agent] = raw.Answer
			// Keep the most conservative classification reported.
			g.issue.Magnitude = maxMagnitude(g.issue.Magnitude, parseMagnitude(raw))
			g.issue.Resolvability = minResolvability(g.issue.Resolvability, parseResolvability(raw.Resolvability))
			if g.issue.SuggestedFix == "" {
				g.issue.SuggestedFix = raw.SuggestedFix
			}
		}
	}

	var out []Issue
	for _, key := range order {
		g := groups[key]
		g.issue.AgentAnswers = g.answers
		g.issue.Confidence, g.issue.Majority = agreement(g.answers, responders)
		if g.issue.ID == "" {
			g.issue.ID = key
		}
		out = append(out, g.issue)
	}
	return out, nil
}

// agreement computes the agreement confidence over the reporting agents.
// responders is the total number of agents that produced a report, so an
// agent that omitted this issue counts against agreement.
func agreement(answers map[string]string, responders int) (Confidence, string) {
	counts := make(map[string]int)
	for _, a := range answers {
		counts[normalizeQuestion(a)]++
	}

	best, bestCount := "", 0
	for a, n := range counts {
		if n > bestCount {
			best, bestCount = a, n
		}
	}
	if responders == 0 || best == "" {
		return ConfidenceLow, ""
	}

	// Recover a representative original-form answer for the majority.
	var majority string
	for _, a := range answers {
		if normalizeQuestion(a) == best {
			majority = a
			break
		}
	}

	switch {
	case bestCount == responders:
		return ConfidenceHigh, majority
	case bestCount*2 > responders:
		return ConfidenceMedium, majority
	default:
		return ConfidenceLow, ""
	}
}

func normalizeQuestion(q string) string {
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}

func parseMagnitude(raw rawIssue) Magnitude {
	s := raw.Magnitude
	if s == "" {
		s = raw.Severity
	}
	switch strings.ToLower(s) {
	case "critical":
		return MagnitudeCritical
	case "important":
		return MagnitudeImportant
	default:
		return MagnitudeMinor
	}
}

func parseResolvability(s string) Resolvability {
	switch strings.ToLower(s) {
	case "auto-fix", "autofix":
		return ResolvabilityAutoFix
	case "suggest-fix", "suggestfix":
		return ResolvabilitySuggestFix
	default:
		return ResolvabilityNeedsHuman
	}
}

var magnitudeRank = map[Magnitude]int{
	MagnitudeMinor:     0,
	MagnitudeImportant: 1,
	MagnitudeCritical:  2,
}

func maxMagnitude(a, b Magnitude) Magnitude {
	if magnitudeRank[b] > magnitudeRank[a] {
		return b
	}
	return a
}

var resolvabilityRank = map[Resolvability]int{
	ResolvabilityNeedsHuman: 0,
	ResolvabilitySuggestFix: 1,
	ResolvabilityAutoFix:    2,
}

// minResolvability picks the harder-to-resolve of the two.
func minResolvability(a, b Resolvability) Resolvability {
	if resolvabilityRank[b] < resolvabilityRank[a] {
		return b
	}
	return a
}

// sortIssues orders escalations first so reports surface the worst findings.
func sortIssues(issues []Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		return magnitudeRank[issues[i].Magnitude] > magnitudeRank[issues[j].Magnitude]
	})
}
