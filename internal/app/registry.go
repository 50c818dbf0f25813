package app

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"quizroom-service/internal/domain"
)

// Conn is the transport-side handle the registry fans payloads out to.
// Enqueue must not block; it reports false when the connection cannot
// accept the payload (closed or saturated).
type Conn interface {
	Enqueue(v any) bool
}

const maxNameLength = 24

// minResumeIDLength guards against resuming trivially guessable ids.
const minResumeIDLength = 4

var colorPalette = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8", "#f58231",
	"#911eb4", "#46f0f0", "#f032e6", "#bcf60c", "#fabebe",
	"#008080", "#e6beff", "#9a6324", "#800000", "#aaffc3",
}

// Registry tracks live connections and their identity records, and
// broadcasts per-connection payloads to all of them.
type Registry struct {
	mu      sync.RWMutex
	players map[Conn]*domain.Player
	order   []Conn
	rnd     *rand.Rand
}

func NewRegistry() *Registry {
	return &Registry{
		players: make(map[Conn]*domain.Player),
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Register binds a fresh identity to conn: unique id, random color, no name.
func (r *Registry) Register(conn Conn) domain.Player {
	r.mu.Lock()
	defer r.mu.Unlock()

	player := &domain.Player{
		ID:    uuid.NewString(),
		Color: colorPalette[r.rnd.Intn(len(colorPalette))],
	}
	r.players[conn] = player
	r.order = append(r.order, conn)
	return *player
}

// Resolve returns the identity bound to conn, if any.
func (r *Registry) Resolve(conn Conn) (domain.Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	player, ok := r.players[conn]
	if !ok {
		return domain.Player{}, false
	}
	return *player, true
}

// Update applies candidate identity fields to conn's record. Each field is
// taken only if it passes its own validation; anything else is silently
// dropped, never an error.
func (r *Registry) Update(conn Conn, id, name, color string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	player, ok := r.players[conn]
	if !ok {
		return
	}
	if trimmed := strings.TrimSpace(id); len(trimmed) > minResumeIDLength {
		player.ID = trimmed
	}
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		player.Name = truncateName(trimmed)
	}
	if color != "" {
		player.Color = color
	}
}

// Remove drops conn's binding. Score history keyed by the identity id lives
// in the room and survives this.
func (r *Registry) Remove(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.players[conn]; !ok {
		return
	}
	delete(r.players, conn)
	for i, c := range r.order {
		if c == conn {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Roster snapshots all tracked identities in registration order.
func (r *Registry) Roster() []domain.Player {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roster := make([]domain.Player, 0, len(r.order))
	for _, conn := range r.order {
		if player, ok := r.players[conn]; ok {
			roster = append(roster, *player)
		}
	}
	return roster
}

// Broadcast sends factory(identity) to every connection except exclude.
// A connection that cannot take the payload is skipped, not retried; one
// bad connection never affects the rest.
func (r *Registry) Broadcast(factory func(domain.Player) any, exclude Conn) {
	r.mu.RLock()
	conns := make([]Conn, len(r.order))
	copy(conns, r.order)
	players := make([]domain.Player, len(conns))
	for i, conn := range conns {
		players[i] = *r.players[conn]
	}
	r.mu.RUnlock()

	for i, conn := range conns {
		if conn == exclude {
			continue
		}
		conn.Enqueue(factory(players[i]))
	}
}

func truncateName(name string) string {
	runes := []rune(name)
	if len(runes) > maxNameLength {
		return string(runes[:maxNameLength])
	}
	return name
}
