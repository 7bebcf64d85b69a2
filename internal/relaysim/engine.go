package relaysim

import (
	"errors"
	"fmt"
	"slices"

	"github.com/DoyleJ11/vantage-connect/internal/protocol"
)

var ErrUnknownPlayer = errors.New("player not in session")
var ErrWrongTurn = errors.New("player does not hold the turn")
var ErrUnsupportedCommand = errors.New("unsupported command")

// Token and Slot are the relay's stored forms; ids are assigned by clients.
type Token struct {
	Quantity int `json:"quantity"`
}

type Slot struct {
	Symbol  string `json:"symbol"`
	Checked bool   `json:"checked"`
}

// Player is a participant as the relay stores and sends it.
type Player struct {
	PlayerID        int               `json:"playerId"`
	SessionCode     int               `json:"sessionCode"`
	PlayerNumber    int               `json:"playerNumber"`
	Name            string            `json:"name"`
	Character       string            `json:"character"`
	EscapePod       string            `json:"escapePod"`
	Location        string            `json:"location"`
	SkillTokens     []Token           `json:"skillTokens"`
	Turn            bool              `json:"turn"`
	JournalText     string            `json:"journalText"`
	Statuses        protocol.Statuses `json:"statuses"`
	ImpactDiceSlots []Slot            `json:"impactDiceSlots"`
}

type State struct {
	Code          int
	Players       []Player
	ChallengeDice int
}

type CommandType string

const (
	CmdJoin         CommandType = "Join"
	CmdLeave        CommandType = "Leave"
	CmdUpdatePlayer CommandType = "UpdatePlayer"
	CmdEndTurn      CommandType = "EndTurn"
	CmdSetDice      CommandType = "SetDice"
)

type Command struct {
	Type     CommandType
	PlayerID int
	Updates  protocol.Player
	Dice     int
}

type EventType string

const (
	EvtPlayerJoined  EventType = "PlayerJoined"
	EvtPlayerLeft    EventType = "PlayerLeft"
	EvtPlayerUpdated EventType = "PlayerUpdated"
	EvtTurnAdvanced  EventType = "TurnAdvanced"
	EvtDiceChanged   EventType = "DiceChanged"
)

type Event struct {
	Type     EventType
	PlayerID int
}

func NewState(code int) State {
	return State{Code: code, Players: []Player{}}
}

// Apply is the relay's reducer. s is never mutated.
func Apply(s State, cmd Command) ([]Event, State, error) {
	newState := clone(s)

	switch cmd.Type {
	case CmdJoin:
		if indexOf(s.Players, cmd.PlayerID) >= 0 {
			return nil, s, fmt.Errorf("join %d: already in session", cmd.PlayerID)
		}
		number := 1
		for _, p := range s.Players {
			number = max(number, p.PlayerNumber+1)
		}
		newState.Players = append(newState.Players, Player{
			PlayerID:     cmd.PlayerID,
			SessionCode:  s.Code,
			PlayerNumber: number,
			Name:         fmt.Sprintf("Player %d", number),
			SkillTokens:  make([]Token, len(protocol.SkillTokenIDs)),
			// First joiner opens the game.
			Turn:            len(s.Players) == 0,
			ImpactDiceSlots: []Slot{},
		})
		return []Event{{Type: EvtPlayerJoined, PlayerID: cmd.PlayerID}}, newState, nil

	case CmdLeave:
		i := indexOf(s.Players, cmd.PlayerID)
		if i < 0 {
			return nil, s, ErrUnknownPlayer
		}
		events := []Event{{Type: EvtPlayerLeft, PlayerID: cmd.PlayerID}}
		if s.Players[i].Turn && len(s.Players) > 1 {
			next := nextHolder(s.Players, i)
			newState.Players[next].Turn = true
			events = append(events, Event{Type: EvtTurnAdvanced, PlayerID: s.Players[next].PlayerID})
		}
		newState.Players = slices.Delete(newState.Players, i, i+1)
		return events, newState, nil

	case CmdUpdatePlayer:
		i := indexOf(s.Players, cmd.PlayerID)
		if i < 0 {
			return nil, s, ErrUnknownPlayer
		}
		newState.Players[i] = withUpdates(s.Players[i], cmd.Updates)
		return []Event{{Type: EvtPlayerUpdated, PlayerID: cmd.PlayerID}}, newState, nil

	case CmdEndTurn:
		i := indexOf(s.Players, cmd.PlayerID)
		if i < 0 {
			return nil, s, ErrUnknownPlayer
		}
		if !s.Players[i].Turn {
			return nil, s, ErrWrongTurn
		}
		next := nextHolder(s.Players, i)
		newState.Players[i].Turn = false
		newState.Players[next].Turn = true
		return []Event{{Type: EvtTurnAdvanced, PlayerID: s.Players[next].PlayerID}}, newState, nil

	case CmdSetDice:
		newState.ChallengeDice = max(0, cmd.Dice)
		return []Event{{Type: EvtDiceChanged}}, newState, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

// withUpdates copies the client-editable fields. Identity, seat number and
// turn stay with the relay.
func withUpdates(p Player, u protocol.Player) Player {
	p.Name = u.Name
	p.Character = u.Character
	p.EscapePod = u.EscapePod
	p.Location = u.Location
	p.JournalText = u.JournalText
	p.Statuses = u.Statuses
	p.SkillTokens = make([]Token, 0, len(u.SkillTokens))
	for _, t := range u.SkillTokens {
		p.SkillTokens = append(p.SkillTokens, Token{Quantity: t.Quantity})
	}
	p.ImpactDiceSlots = make([]Slot, 0, len(u.ImpactDiceSlots))
	for _, sl := range u.ImpactDiceSlots {
		p.ImpactDiceSlots = append(p.ImpactDiceSlots, Slot{Symbol: sl.Symbol, Checked: sl.Checked})
	}
	return p
}

// nextHolder returns the index of the participant seated after players[i]:
// the next higher playerNumber, wrapping to the lowest.
func nextHolder(players []Player, i int) int {
	cur := players[i].PlayerNumber
	next, lowest := -1, -1
	for j, p := range players {
		if j == i {
			continue
		}
		if p.PlayerNumber > cur && (next < 0 || p.PlayerNumber < players[next].PlayerNumber) {
			next = j
		}
		if lowest < 0 || p.PlayerNumber < players[lowest].PlayerNumber {
			lowest = j
		}
	}
	if next >= 0 {
		return next
	}
	if lowest >= 0 {
		return lowest
	}
	return i
}

func indexOf(players []Player, id int) int {
	return slices.IndexFunc(players, func(p Player) bool { return p.PlayerID == id })
}

func clone(s State) State {
	out := s
	out.Players = make([]Player, len(s.Players))
	for i, p := range s.Players {
		p.SkillTokens = slices.Clone(p.SkillTokens)
		p.ImpactDiceSlots = slices.Clone(p.ImpactDiceSlots)
		out.Players[i] = p
	}
	return out
}

func containsEvent(events []Event, t EventType) bool {
	return slices.ContainsFunc(events, func(e Event) bool { return e.Type == t })
}
