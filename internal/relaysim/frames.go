package relaysim

import (
	"encoding/json"
	"strconv"

	"github.com/DoyleJ11/vantage-connect/internal/protocol"
)

// keyedPlayer encodes the collections as {"0": ..., "1": ...}, the way some
// relay deployments serialize stored lists.
type keyedPlayer struct {
	Player
	SkillTokens     map[string]Token `json:"skillTokens"`
	ImpactDiceSlots map[string]Slot  `json:"impactDiceSlots"`
}

func keyed[T any](in []T) map[string]T {
	out := make(map[string]T, len(in))
	for i, v := range in {
		out[strconv.Itoa(i)] = v
	}
	return out
}

func snapshotFrame(s State, keyedCollections bool) []byte {
	var players any = s.Players
	if keyedCollections {
		kp := make([]keyedPlayer, len(s.Players))
		for i, p := range s.Players {
			kp[i] = keyedPlayer{Player: p, SkillTokens: keyed(p.SkillTokens), ImpactDiceSlots: keyed(p.ImpactDiceSlots)}
		}
		players = kp
	}
	return mustJSON(struct {
		Action        protocol.Action `json:"action"`
		Code          int             `json:"code"`
		ChallengeDice int             `json:"challengeDice"`
		Players       any             `json:"players"`
	}{protocol.ActionUpdatePlayers, s.Code, s.ChallengeDice, players})
}

func diceFrame(v int) []byte {
	return mustJSON(struct {
		Action        protocol.Action `json:"action"`
		ChallengeDice int             `json:"challengeDice"`
	}{protocol.ActionUpdateChallengeDice, v})
}

// membershipFrame answers hostSession and joinSession. Untagged replies
// carry no action, as older relays send them.
func membershipFrame(action protocol.Action, playerID, code int, untagged bool) []byte {
	frame := struct {
		Action      protocol.Action `json:"action,omitempty"`
		PlayerID    int             `json:"playerId"`
		SessionCode int             `json:"sessionCode"`
	}{action, playerID, code}
	if untagged {
		frame.Action = ""
	}
	return mustJSON(frame)
}

func ackFrame(action protocol.Action) []byte {
	return mustJSON(struct {
		Action protocol.Action `json:"action"`
	}{action})
}

// Error codes sent in error frames.
const (
	CodeBadRequest      = "BAD_REQUEST"
	CodeUnknownAction   = "UNKNOWN_ACTION"
	CodeSessionNotFound = "SESSION_NOT_FOUND"
	CodeNotInSession    = "NOT_IN_SESSION"
	CodePlayerNotFound  = "PLAYER_NOT_FOUND"
	CodeNotYourTurn     = "NOT_YOUR_TURN"
)

func errorFrame(code, message string) []byte {
	return mustJSON(struct {
		Action  protocol.Action `json:"action"`
		Code    string          `json:"code"`
		Message string          `json:"message"`
	}{protocol.ActionError, code, message})
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
