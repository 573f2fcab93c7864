// Package pipeline resolves a natural-language question into an answer by
// walking an explicit state machine: match a stored answer, or analyze
// intent, generate SQL, validate it, run it remotely and summarize the rows.
package pipeline

import (
	"time"

	"github.com/renjiajia-patsnap/llmdemo/internal/matcher"
	"github.com/renjiajia-patsnap/llmdemo/internal/nl2sql"
)

type State string

const (
	StateStart         State = "START"
	StateMatchSimilar  State = "MATCH_SIMILAR"
	StateAnalyzeIntent State = "ANALYZE_INTENT"
	StateGenerateSQL   State = "GENERATE_SQL"
	StateValidate      State = "VALIDATE"
	StateExecute       State = "EXECUTE"
	StateSummarize     State = "SUMMARIZE"
	StateEnd           State = "END"
)

type Validation struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason"`
}

type StageTiming struct {
	Stage    State         `json:"stage"`
	Duration time.Duration `json:"duration"`
	Outcome  string        `json:"outcome"`
}

// ResolutionContext carries one run through the states. Each stage writes
// only its own fields.
type ResolutionContext struct {
	RunID         string
	Question      string
	Match         matcher.MatchResult
	Intent        nl2sql.IntentResult
	GeneratedSQL  nl2sql.GeneratedSQL
	Validation    Validation
	Columns       []string
	Rows          [][]any
	ExecutionTime time.Duration
	Answer        string
	FastPath      bool
	Err           error
	Trace         []StageTiming
}

// Route picks the state after state. It reads rc and never changes it.
func Route(state State, rc *ResolutionContext) State {
	if state == StateEnd || rc.Err != nil {
		return StateEnd
	}
	switch state {
	case StateStart:
		return StateMatchSimilar
	case StateMatchSimilar:
		if rc.Match.Answer != "" {
			return StateSummarize
		}
		return StateAnalyzeIntent
	case StateAnalyzeIntent:
		if rc.Intent.Error != "" || len(rc.Intent.Tables) == 0 {
			return StateEnd
		}
		return StateGenerateSQL
	case StateGenerateSQL:
		if rc.GeneratedSQL.SQL == "" {
			return StateEnd
		}
		return StateValidate
	case StateValidate:
		if !rc.Validation.OK {
			return StateEnd
		}
		return StateExecute
	case StateExecute:
		return StateSummarize
	default:
		return StateEnd
	}
}
