package app

import (
	"context"
	"log"
	"strings"
	"time"

	"quizroom-service/internal/domain"
)

// BankRepository loads question bank content (from cache/backing store).
type BankRepository interface {
	GetBank(ctx context.Context, bankID string) (domain.Bank, error)
}

// Default timings; overridable via RoomOptions.
const (
	DefaultQuestionDuration = 15 * time.Second
	DefaultTick             = 250 * time.Millisecond
)

type initMessage struct {
	Type     string          `json:"type"`
	ClientID string          `json:"clientId"`
	Color    string          `json:"color"`
	Name     string          `json:"name"`
	State    domain.Snapshot `json:"state"`
}

type stateMessage struct {
	Type  string          `json:"type"`
	State domain.Snapshot `json:"state"`
}

// RoomOptions tunes a room; zero values fall back to defaults.
type RoomOptions struct {
	Passphrase       string
	QuestionDuration time.Duration
	Tick             time.Duration
	Clock            func() time.Time
}

// Room is the authoritative session engine for one quiz room. A single
// goroutine owns all mutable state; public methods post work onto that
// goroutine and wait for it, so actions are handled strictly one at a
// time and every caller returns after its broadcast has been enqueued.
type Room struct {
	registry   *Registry
	bank       domain.Bank
	passphrase string
	duration   time.Duration
	tick       time.Duration
	now        func() time.Time

	phase         domain.Phase
	questionIndex int
	deadline      time.Time
	answers       map[string]domain.Answer
	scores        map[string]int

	acts chan func()
	done chan struct{}
}

// NewRoom builds a room in the lobby phase. The bank must already be
// validated.
func NewRoom(bank domain.Bank, registry *Registry, opts RoomOptions) *Room {
	if opts.QuestionDuration <= 0 {
		opts.QuestionDuration = DefaultQuestionDuration
	}
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Room{
		registry:      registry,
		bank:          bank,
		passphrase:    opts.Passphrase,
		duration:      opts.QuestionDuration,
		tick:          opts.Tick,
		now:           opts.Clock,
		phase:         domain.PhaseLobby,
		questionIndex: -1,
		answers:       make(map[string]domain.Answer),
		scores:        make(map[string]int),
		acts:          make(chan func()),
		done:          make(chan struct{}),
	}
}

// Run starts the event loop. The countdown ticker lives inside the same
// loop, so a tick never interleaves with an action.
func (r *Room) Run() {
	go r.run()
}

// Stop shuts the event loop down. Pending callers unblock without effect.
func (r *Room) Stop() {
	close(r.done)
}

func (r *Room) run() {
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case fn := <-r.acts:
			fn()
		case <-ticker.C:
			r.checkDeadline()
		}
	}
}

// post hands fn to the loop goroutine and waits for it to finish.
func (r *Room) post(fn func()) {
	ran := make(chan struct{})
	select {
	case r.acts <- func() {
		fn()
		close(ran)
	}:
		<-ran
	case <-r.done:
	}
}

// Join registers a fresh identity for conn, sends it the init frame, and
// announces the new roster to everyone.
func (r *Room) Join(conn Conn) domain.Player {
	var player domain.Player
	r.post(func() {
		player = r.registry.Register(conn)
		conn.Enqueue(initMessage{
			Type:     "init",
			ClientID: player.ID,
			Color:    player.Color,
			Name:     player.Name,
			State:    r.snapshotFor(player.ID),
		})
		r.broadcast()
	})
	return player
}

// Leave drops conn's live binding. The identity's scores and answers are
// keyed by id and survive for a later resume.
func (r *Room) Leave(conn Conn) {
	r.post(func() {
		if _, ok := r.registry.Resolve(conn); !ok {
			return
		}
		r.registry.Remove(conn)
		r.broadcast()
	})
}

// Resume lets conn re-adopt a previously issued identity. Trust on
// assertion: whoever presents the id gets its score history back.
func (r *Room) Resume(conn Conn, id, name, color string) {
	r.post(func() {
		r.registry.Update(conn, id, name, color)
		r.broadcast()
	})
}

// SetName updates conn's display name if it trims to something.
func (r *Room) SetName(conn Conn, name string) {
	r.post(func() {
		if strings.TrimSpace(name) == "" {
			return
		}
		r.registry.Update(conn, "", name, "")
		r.broadcast()
	})
}

// Start begins a new game from the lobby or ended phase. The actor must
// have set a name first.
func (r *Room) Start(conn Conn) {
	r.post(func() {
		player, ok := r.registry.Resolve(conn)
		if !ok || player.Name == "" {
			return
		}
		if r.phase != domain.PhaseLobby && r.phase != domain.PhaseEnded {
			return
		}
		r.startGame()
	})
}

// Answer records conn's choice for the current question. First answer
// wins; repeats and out-of-phase submissions are ignored.
func (r *Room) Answer(conn Conn, optionIndex int) {
	r.post(func() {
		if r.phase != domain.PhaseQuestion {
			return
		}
		player, ok := r.registry.Resolve(conn)
		if !ok || player.Name == "" {
			return
		}
		if optionIndex < 0 || optionIndex >= domain.OptionCount {
			return
		}
		if _, answered := r.answers[player.ID]; answered {
			return
		}
		r.answers[player.ID] = domain.Answer{Option: optionIndex, At: r.now()}
		r.broadcast()
	})
}

// Next advances past a reveal: next question, or ended after the last one.
func (r *Room) Next(conn Conn) {
	r.post(func() {
		if r.phase != domain.PhaseReveal {
			return
		}
		if r.questionIndex+1 < len(r.bank.Questions) {
			r.questionIndex++
			r.answers = make(map[string]domain.Answer)
			r.phase = domain.PhaseQuestion
			r.deadline = r.now().Add(r.duration)
		} else {
			r.phase = domain.PhaseEnded
			r.deadline = time.Time{}
		}
		r.broadcast()
	})
}

// AdminRestart restarts the game from any phase when the passphrase
// matches. A wrong passphrase has no visible effect.
func (r *Room) AdminRestart(conn Conn, passphrase string) {
	r.post(func() {
		if passphrase != r.passphrase {
			log.Printf("room: rejected admin restart with bad passphrase")
			return
		}
		r.startGame()
	})
}

// ReturnToLobby resets an ended game back to the lobby.
func (r *Room) ReturnToLobby(conn Conn) {
	r.post(func() {
		if r.phase != domain.PhaseEnded {
			return
		}
		r.phase = domain.PhaseLobby
		r.questionIndex = -1
		r.deadline = time.Time{}
		r.answers = make(map[string]domain.Answer)
		r.scores = make(map[string]int)
		r.broadcast()
	})
}

// Tick forces one deadline check on the loop goroutine. The internal
// ticker performs the same check periodically.
func (r *Room) Tick() {
	r.post(r.checkDeadline)
}

// checkDeadline runs on the loop goroutine only.
func (r *Room) checkDeadline() {
	if r.phase != domain.PhaseQuestion || r.deadline.IsZero() {
		return
	}
	if r.now().Before(r.deadline) {
		return
	}
	r.reveal()
}

func (r *Room) startGame() {
	r.scores = make(map[string]int)
	r.answers = make(map[string]domain.Answer)
	r.questionIndex = 0
	r.phase = domain.PhaseQuestion
	r.deadline = r.now().Add(r.duration)
	r.broadcast()
}

func (r *Room) reveal() {
	r.phase = domain.PhaseReveal
	r.deadline = time.Time{}
	correct := r.bank.Questions[r.questionIndex].Correct
	for id, answer := range r.answers {
		if answer.Option == correct {
			r.scores[id]++
		} else if _, ok := r.scores[id]; !ok {
			r.scores[id] = 0
		}
	}
	r.broadcast()
}

// broadcast recomputes the personalized snapshot for every connection.
func (r *Room) broadcast() {
	r.registry.Broadcast(func(player domain.Player) any {
		return stateMessage{Type: "state", State: r.snapshotFor(player.ID)}
	}, nil)
}

// snapshotFor derives the wire view of the room for one identity. Pure:
// same state and id always produce the same snapshot. The correct option
// index is only present during reveal.
func (r *Room) snapshotFor(playerID string) domain.Snapshot {
	snap := domain.Snapshot{
		Phase:          r.phase,
		QuestionIndex:  r.questionIndex,
		TotalQuestions: len(r.bank.Questions),
		Answers:        make(map[string]bool, len(r.answers)),
		Scores:         make(map[string]int, len(r.scores)),
		Players:        r.registry.Roster(),
	}

	if r.phase == domain.PhaseQuestion && !r.deadline.IsZero() {
		if left := r.deadline.Sub(r.now()).Milliseconds(); left > 0 {
			snap.TimeLeft = left
		}
	}

	if r.phase == domain.PhaseQuestion || r.phase == domain.PhaseReveal {
		question := r.bank.Questions[r.questionIndex]
		view := &domain.QuestionView{
			ID:      question.ID,
			Prompt:  question.Prompt,
			Options: question.Options,
		}
		if r.phase == domain.PhaseReveal {
			correct := question.Correct
			view.Correct = &correct
		}
		snap.Question = view
	}

	for id, answer := range r.answers {
		snap.Counts[answer.Option]++
		snap.Answers[id] = true
		if id == playerID {
			option := answer.Option
			snap.YouAnswered = &option
		}
	}
	snap.TotalAnswers = len(r.answers)

	for id, score := range r.scores {
		snap.Scores[id] = score
	}
	return snap
}
