// Package reconcile merges authoritative relay snapshots into the client's
// copy of the session. Every function is pure: inputs are never mutated and
// results share no collections with them.
package reconcile

import (
	"slices"

	"github.com/DoyleJ11/vantage-connect/internal/protocol"
)

// State is the client's view of the session.
type State struct {
	Players       []protocol.Player
	ChallengeDice int
	// Loaded turns true with the first snapshot.
	Loaded bool
	// Viewed is the id of the displayed participant; meaningful only when
	// Players is non-empty.
	Viewed int
}

// Local returns the local participant, if present.
func (s State) Local(localID int) (protocol.Player, bool) {
	i := indexOf(s.Players, localID)
	if i < 0 {
		return protocol.Player{}, false
	}
	return s.Players[i], true
}

// Has reports whether a participant with id is present.
func (s State) Has(id int) bool { return indexOf(s.Players, id) >= 0 }

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := s
	out.Players = cloneAll(s.Players)
	return out
}

// Rotate moves the local participant to the front, wrapping the ones before
// it to the end. Unknown localID leaves the order unchanged.
func Rotate(players []protocol.Player, localID int) []protocol.Player {
	out := cloneAll(players)
	i := indexOf(out, localID)
	if i <= 0 {
		return out
	}
	return append(out[i:], out[:i]...)
}

// Initialize adopts a first snapshot verbatim, minus duplicate ids, rotated
// for localID.
func Initialize(server []protocol.Player, localID int) []protocol.Player {
	return Rotate(dedupe(server), localID)
}

// Merge folds a later snapshot into held:
//   - the local participant keeps every held field except Turn, which comes
//     from the server;
//   - remote participants are replaced wholesale;
//   - held participants missing from the snapshot are dropped;
//   - snapshot participants not held are appended in snapshot order.
//
// The result is rotated for localID. changed is false when the result is
// element-wise equal to held, in which case held is returned as is.
func Merge(held, server []protocol.Player, localID int) (merged []protocol.Player, changed bool) {
	incoming := make(map[int]protocol.Player, len(server))
	for _, p := range server {
		if _, dup := incoming[p.ID]; !dup {
			incoming[p.ID] = p
		}
	}

	merged = make([]protocol.Player, 0, len(server))
	kept := make(map[int]bool, len(held))
	for _, local := range held {
		remote, ok := incoming[local.ID]
		if !ok || kept[local.ID] {
			continue
		}
		kept[local.ID] = true
		if local.ID == localID {
			p := local.Clone()
			p.Turn = remote.Turn
			merged = append(merged, p)
			continue
		}
		merged = append(merged, remote.Clone())
	}
	for _, p := range server {
		if !kept[p.ID] {
			kept[p.ID] = true
			merged = append(merged, p.Clone())
		}
	}

	merged = Rotate(merged, localID)
	if Equal(merged, held) {
		return held, false
	}
	return merged, true
}

// Apply routes a snapshot to Initialize or Merge depending on whether
// anything is held yet, and keeps Loaded and Viewed consistent.
func Apply(s State, server []protocol.Player, localID int) (State, bool) {
	if len(s.Players) == 0 {
		next := s.Clone()
		next.Players = Initialize(server, localID)
		next.Loaded = true
		next.Viewed = ResolveViewed(next.Players, localID, localID)
		changed := !s.Loaded || !Equal(next.Players, s.Players) || next.Viewed != s.Viewed
		return next, changed
	}

	players, changed := Merge(s.Players, server, localID)
	if !changed {
		return s, false
	}
	next := s
	next.Players = players
	next.Viewed = ResolveViewed(players, s.Viewed, localID)
	return next, true
}

// Edit applies fn to a copy of the local participant. It reports false when
// the local participant is not held or fn changed nothing.
func Edit(s State, localID int, fn func(*protocol.Player)) (State, protocol.Player, bool) {
	i := indexOf(s.Players, localID)
	if i < 0 {
		return s, protocol.Player{}, false
	}
	p := s.Players[i].Clone()
	p.ID = localID
	fn(&p)
	if p.Equal(s.Players[i]) {
		return s, p, false
	}
	next := s.Clone()
	next.Players[i] = p
	return next, p, true
}

// ClampDice applies delta to the shared counter, never going below zero.
func ClampDice(current, delta int) int {
	return max(0, current+delta)
}

// AcceptRemoteDice reports whether a pushed counter value should replace the
// local one. While the local participant holds the turn it is the counter's
// editor and pushes are ignored, so the display does not fight its own
// pending sends. This is last-writer-wins by role, not a consistency
// protocol.
func AcceptRemoteDice(s State, localID int) bool {
	p, ok := s.Local(localID)
	return !ok || !p.Turn
}

// ResolveViewed keeps viewed if it is still present, otherwise falls back to
// the local participant, then to the first one. It returns 0 for an empty
// list.
func ResolveViewed(players []protocol.Player, viewed, localID int) int {
	switch {
	case len(players) == 0:
		return 0
	case indexOf(players, viewed) >= 0:
		return viewed
	case indexOf(players, localID) >= 0:
		return localID
	default:
		return players[0].ID
	}
}

// Equal compares two participant lists element-wise.
func Equal(a, b []protocol.Player) bool {
	return slices.EqualFunc(a, b, protocol.Player.Equal)
}

func indexOf(players []protocol.Player, id int) int {
	return slices.IndexFunc(players, func(p protocol.Player) bool { return p.ID == id })
}

func dedupe(players []protocol.Player) []protocol.Player {
	seen := make(map[int]bool, len(players))
	out := make([]protocol.Player, 0, len(players))
	for _, p := range players {
		if !seen[p.ID] {
			seen[p.ID] = true
			out = append(out, p)
		}
	}
	return out
}

func cloneAll(players []protocol.Player) []protocol.Player {
	if players == nil {
		return nil
	}
	out := make([]protocol.Player, len(players))
	for i, p := range players {
		out[i] = p.Clone()
	}
	return out
}
