// Package game is the duel engine: matchmaking, the session lifecycle state
// machine, round timers and the reveal aggregation. It is stateless apart
// from pending timer registrations; all authoritative state lives in the
// session store, and every transition goes through one atomic store call.
package game

import (
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/styleduel/styleduel/internal/events"
	"github.com/styleduel/styleduel/internal/storage"
)

var (
	// ErrCodeExhausted means invite code generation kept colliding.
	ErrCodeExhausted = errors.New("invite code generation exhausted")
	// ErrInvalidTarget rejects a design not aimed at the counterpart.
	ErrInvalidTarget = errors.New("design must target the other participant")
	// ErrEmptyFeedback rejects feedback with neither vote nor reaction.
	ErrEmptyFeedback = errors.New("feedback needs a vote or a reaction")
	// ErrInvalidVote rejects votes outside A, B and tie.
	ErrInvalidVote = errors.New("invalid vote")
)

// DefaultTopics is the fixed ordered round sequence.
var DefaultTopics = []string{"First Impression", "Night Out", "Wildcard"}

const (
	inviteCodeLength = 6
	codeAttempts     = 5
)

// Engine wires the matchmaker, lifecycle controller, round timer and reveal
// aggregator around one store and one event broker.
type Engine struct {
	store  storage.Store
	broker *events.Broker
	timers *timerSet
	log    zerolog.Logger

	topics    []string
	roundTime time.Duration
}

// Options tune the engine. Zero values fall back to defaults.
type Options struct {
	Topics    []string
	RoundTime time.Duration
	Logger    zerolog.Logger
}

func New(store storage.Store, broker *events.Broker, opts Options) *Engine {
	topics := opts.Topics
	if len(topics) == 0 {
		topics = DefaultTopics
	}
	roundTime := opts.RoundTime
	if roundTime <= 0 {
		roundTime = 3 * time.Minute
	}
	return &Engine{
		store:     store,
		broker:    broker,
		timers:    newTimerSet(),
		log:       opts.Logger,
		topics:    topics,
		roundTime: roundTime,
	}
}

// Broker exposes the event channel for transports.
func (e *Engine) Broker() *events.Broker { return e.broker }

// Stop cancels pending round timers. Rounds stay open in the store and are
// recovered on the next start.
func (e *Engine) Stop() { e.timers.stopAll() }

// Unambiguous alphabet, no 0/O or 1/I.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func randomCode(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = codeAlphabet[rand.Intn(len(codeAlphabet))]
	}
	return string(b)
}

// NormalizeCode upper-cases and trims an invite code for lookup.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

var (
	aliasAdjectives = []string{
		"Velvet", "Neon", "Golden", "Midnight", "Scarlet", "Silver",
		"Electric", "Pastel", "Crimson", "Satin", "Retro", "Cosmic",
	}
	aliasNouns = []string{
		"Fox", "Heron", "Tiger", "Sparrow", "Lynx", "Peacock",
		"Otter", "Raven", "Gazelle", "Panther", "Swan", "Ibis",
	}
)

// randomAlias picks a cosmetic display name; participants stay strangers.
func randomAlias() string {
	return aliasAdjectives[rand.Intn(len(aliasAdjectives))] + " " + aliasNouns[rand.Intn(len(aliasNouns))]
}
