package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/sjson"
)

// Action is the tag carried in the "action" field of every relay frame.
type Action string

const (
	ActionHostSession         Action = "hostSession"
	ActionJoinSession         Action = "joinSession"
	ActionLeaveSession        Action = "leaveSession"
	ActionReadPlayers         Action = "readPlayers"
	ActionUpdatePlayer        Action = "updatePlayer"
	ActionEndTurn             Action = "endTurn"
	ActionUpdateChallengeDice Action = "updateChallengeDice"
	ActionReadChallengeDice   Action = "readChallengeDice"

	// Push-only actions.
	ActionUpdatePlayers Action = "updatePlayers"
	ActionError         Action = "error"
)

// Outbound is the closed set of messages the client sends to the relay.
type Outbound interface {
	OutboundAction() Action
}

type HostSession struct{}

type JoinSession struct {
	SessionCode int `json:"sessionCode"`
}

type LeaveSession struct {
	PlayerID int `json:"playerId"`
}

type ReadPlayers struct {
	SessionCode int `json:"sessionCode"`
}

type ReadChallengeDice struct {
	GameID int `json:"gameId"`
}

// UpdatePlayer pushes the local participant's editable fields. The turn flag
// is owned by the relay and is never sent.
type UpdatePlayer struct {
	PlayerID int    `json:"playerId"`
	Updates  Player `json:"updates"`
}

type EndTurn struct {
	SessionCode     int `json:"sessionCode"`
	CurrentPlayerID int `json:"currentPlayerId"`
}

type UpdateChallengeDice struct {
	GameID        int `json:"gameId"`
	ChallengeDice int `json:"challengeDice"`
}

func (HostSession) OutboundAction() Action         { return ActionHostSession }
func (JoinSession) OutboundAction() Action         { return ActionJoinSession }
func (LeaveSession) OutboundAction() Action        { return ActionLeaveSession }
func (ReadPlayers) OutboundAction() Action         { return ActionReadPlayers }
func (ReadChallengeDice) OutboundAction() Action   { return ActionReadChallengeDice }
func (UpdatePlayer) OutboundAction() Action        { return ActionUpdatePlayer }
func (EndTurn) OutboundAction() Action             { return ActionEndTurn }
func (UpdateChallengeDice) OutboundAction() Action { return ActionUpdateChallengeDice }

func (u UpdatePlayer) MarshalJSON() ([]byte, error) {
	type plain UpdatePlayer
	b, err := json.Marshal(plain(u))
	if err != nil {
		return nil, err
	}
	return sjson.DeleteBytes(b, "updates.turn")
}

// Encode serializes an outbound message and stamps its action tag.
func Encode(msg Outbound) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.OutboundAction(), err)
	}
	out, err := sjson.SetBytes(body, "action", string(msg.OutboundAction()))
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.OutboundAction(), err)
	}
	return out, nil
}
