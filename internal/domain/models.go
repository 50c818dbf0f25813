package domain

import (
	"fmt"
	"time"
)

// Phase is the stage of the room's state machine.
type Phase string

const (
	PhaseLobby    Phase = "lobby"
	PhaseQuestion Phase = "question"
	PhaseReveal   Phase = "reveal"
	PhaseEnded    Phase = "ended"
)

// OptionCount is fixed: every question carries exactly four options.
const OptionCount = 4

// Question is one entry of the fixed question bank. Loaded at startup,
// never mutated afterwards.
type Question struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
	Correct int      `json:"correct"`
}

// Bank is the ordered question sequence one room plays through.
type Bank struct {
	ID        string     `json:"id"`
	Questions []Question `json:"questions"`
}

// Validate rejects banks the room engine cannot play.
func (b Bank) Validate() error {
	if len(b.Questions) == 0 {
		return fmt.Errorf("bank %q: %w", b.ID, ErrEmptyBank)
	}
	for i, q := range b.Questions {
		if len(q.Options) != OptionCount {
			return fmt.Errorf("bank %q question %d: expected %d options, got %d", b.ID, i, OptionCount, len(q.Options))
		}
		if q.Correct < 0 || q.Correct >= OptionCount {
			return fmt.Errorf("bank %q question %d: correct index %d out of range", b.ID, i, q.Correct)
		}
	}
	return nil
}

// Player is the identity record bound to one live connection. The ID is
// stable across reconnects when the client resumes it.
type Player struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Answer records one player's choice for the current question.
type Answer struct {
	Option int
	At     time.Time
}

// QuestionView is the wire projection of the current question. Correct is
// nil until the reveal phase so the answer never leaks early.
type QuestionView struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
	Correct *int     `json:"correct"`
}

// Snapshot is the per-viewer projection of room state sent on every
// broadcast. YouAnswered is the requesting player's own choice, omitted
// while unanswered; Answers only says who has answered, not what.
type Snapshot struct {
	Phase          Phase            `json:"phase"`
	QuestionIndex  int              `json:"questionIndex"`
	TotalQuestions int              `json:"totalQuestions"`
	TimeLeft       int64            `json:"timeLeft"`
	Question       *QuestionView    `json:"question"`
	Counts         [OptionCount]int `json:"counts"`
	TotalAnswers   int              `json:"totalAnswers"`
	Answers        map[string]bool  `json:"answers"`
	Scores         map[string]int   `json:"scores"`
	YouAnswered    *int             `json:"youAnswered,omitempty"`
	Players        []Player         `json:"players"`
}
