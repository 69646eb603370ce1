package session

import (
	"context"
	"fmt"
	"strings"
)

// Outcome is the narrative output of one turn, already split into the
// chunks to stream to the client.
type Outcome struct {
	Chunks []string
}

// Text joins the outcome's chunks into the full turn output.
func (o *Outcome) Text() string {
	return strings.Join(o.Chunks, "")
}

// TurnEngine produces narrative output for one turn. Implementations are
// black boxes with unbounded but finite latency; callers bound each call
// with a context deadline. A bootstrap turn is requested with empty input.
type TurnEngine interface {
	GenerateTurn(ctx context.Context, state *State, input string) (*Outcome, error)
}

// ScriptedEngine is a deterministic TurnEngine for development and tests.
// It narrates a fixed opening for the bootstrap turn and echoes player
// input into a short scene otherwise.
type ScriptedEngine struct {
	// Opening overrides the default bootstrap narration when non-empty.
	Opening []string
}

// GenerateTurn implements TurnEngine.
func (e *ScriptedEngine) GenerateTurn(ctx context.Context, state *State, input string) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if input == "" {
		if len(e.Opening) > 0 {
			return &Outcome{Chunks: append([]string(nil), e.Opening...)}, nil
		}
		return &Outcome{Chunks: []string{
			"You wake on a cold stone floor. ",
			"A corridor stretches into darkness ahead.",
		}}, nil
	}
	return &Outcome{Chunks: []string{
		fmt.Sprintf("You %s. ", strings.TrimSpace(input)),
		fmt.Sprintf("Nothing in turn %d contradicts you.", len(state.Turns)+1),
	}}, nil
}
