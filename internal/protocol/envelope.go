package protocol

import (
	"github.com/tidwall/gjson"
)

// Inbound is the closed set of decoded relay frames.
type Inbound interface{ isInbound() }

// PlayersUpdate is the full session snapshot pushed on "updatePlayers".
// DiceSet is false when the frame had no challengeDice field.
type PlayersUpdate struct {
	Players       []Player
	ChallengeDice int
	DiceSet       bool
	Code          int
}

// DiceUpdate carries a new shared counter value. Set is false when the frame
// had no challengeDice field.
type DiceUpdate struct {
	ChallengeDice int
	Set           bool
}

// Membership answers hostSession and joinSession.
type Membership struct {
	PlayerID    int `json:"playerId"`
	SessionCode int `json:"sessionCode"`
}

// ErrorFrame is a relay-level failure.
type ErrorFrame struct {
	Code    string
	Message string
}

// Other is any well-formed frame without a dedicated variant.
type Other struct{}

func (PlayersUpdate) isInbound() {}
func (DiceUpdate) isInbound()    {}
func (Membership) isInbound()    {}
func (ErrorFrame) isInbound()    {}
func (Other) isInbound()         {}

// Envelope is one decoded inbound frame. Topic routing uses Action; Body holds
// the typed variant; Raw keeps the original bytes for logging.
type Envelope struct {
	Action Action
	Body   Inbound
	Raw    []byte

	// HasPlayerID reports a top-level playerId field. The relay does not echo
	// request ids, so this is one of the response-matching signals.
	HasPlayerID bool
}

// IsError reports whether the frame is tagged "error".
func (e Envelope) IsError() bool { return e.Action == ActionError }

// Err converts an error frame to an *ApplicationError, or returns nil.
func (e Envelope) Err() error {
	f, ok := e.Body.(ErrorFrame)
	if !ok {
		return nil
	}
	return &ApplicationError{Code: f.Code, Message: f.Message}
}

// Decode parses a relay frame. The frame must be a JSON object; when present,
// "action" must be a string. Anything else is a *ProtocolError.
func Decode(frame []byte) (Envelope, error) {
	if !gjson.ValidBytes(frame) {
		return Envelope{}, &ProtocolError{Reason: "invalid json", Frame: frame}
	}
	root := gjson.ParseBytes(frame)
	if !root.IsObject() {
		return Envelope{}, &ProtocolError{Reason: "frame is not an object", Frame: frame}
	}

	action := root.Get("action")
	if action.Exists() && action.Type != gjson.String {
		return Envelope{}, &ProtocolError{Reason: "action is not a string", Frame: frame}
	}

	pid := root.Get("playerId")
	env := Envelope{
		Action:      Action(action.String()),
		Raw:         frame,
		HasPlayerID: pid.Exists() && pid.Type != gjson.Null,
	}

	switch env.Action {
	case ActionUpdatePlayers:
		players := sequence(root.Get("players"))
		dice := root.Get("challengeDice")
		upd := PlayersUpdate{
			Players:       make([]Player, 0, len(players)),
			ChallengeDice: int(dice.Int()),
			DiceSet:       dice.Exists() && dice.Type != gjson.Null,
			Code:          int(root.Get("code").Int()),
		}
		for _, p := range players {
			upd.Players = append(upd.Players, decodePlayer(p))
		}
		env.Body = upd

	case ActionUpdateChallengeDice:
		v := root.Get("challengeDice")
		env.Body = DiceUpdate{
			ChallengeDice: int(v.Int()),
			Set:           v.Exists() && v.Type != gjson.Null,
		}

	case ActionError:
		env.Body = ErrorFrame{
			Code:    root.Get("code").String(),
			Message: root.Get("message").String(),
		}

	default:
		if env.HasPlayerID {
			env.Body = Membership{
				PlayerID:    int(pid.Int()),
				SessionCode: int(root.Get("sessionCode").Int()),
			}
		} else {
			env.Body = Other{}
		}
	}

	return env, nil
}
