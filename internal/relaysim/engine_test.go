package relaysim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/vantage-connect/internal/protocol"
)

func joined(t *testing.T, ids ...int) State {
	t.Helper()
	s := NewState(123456)
	for _, id := range ids {
		var err error
		_, s, err = Apply(s, Command{Type: CmdJoin, PlayerID: id})
		require.NoError(t, err)
	}
	return s
}

func holder(s State) int {
	for _, p := range s.Players {
		if p.Turn {
			return p.PlayerID
		}
	}
	return 0
}

func TestJoin_FirstHoldsTurnAndSeatsIncrement(t *testing.T) {
	s := joined(t, 10, 20, 30)

	require.Len(t, s.Players, 3)
	assert.Equal(t, 10, holder(s))
	for i, p := range s.Players {
		assert.Equal(t, i+1, p.PlayerNumber)
		assert.Equal(t, 123456, p.SessionCode)
		assert.Len(t, p.SkillTokens, 6)
	}

	_, _, err := Apply(s, Command{Type: CmdJoin, PlayerID: 20})
	assert.Error(t, err)
}

func TestEndTurn(t *testing.T) {
	cases := []struct {
		name       string
		players    []int
		ender      int
		wantHolder int
		wantErr    error
	}{
		{name: "passes to next seat", players: []int{1, 2, 3}, ender: 1, wantHolder: 2},
		{name: "single player keeps turn", players: []int{1}, ender: 1, wantHolder: 1},
		{name: "not the holder", players: []int{1, 2}, ender: 2, wantErr: ErrWrongTurn},
		{name: "unknown player", players: []int{1, 2}, ender: 9, wantErr: ErrUnknownPlayer},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := joined(t, tc.players...)
			events, next, err := Apply(s, Command{Type: CmdEndTurn, PlayerID: tc.ender})
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				assert.Equal(t, s, next)
				return
			}
			require.NoError(t, err)
			assert.True(t, containsEvent(events, EvtTurnAdvanced))
			assert.Equal(t, tc.wantHolder, holder(next))
		})
	}
}

func TestEndTurn_WrapsToLowestSeat(t *testing.T) {
	s := joined(t, 1, 2, 3)
	var err error
	for _, id := range []int{1, 2, 3} {
		_, s, err = Apply(s, Command{Type: CmdEndTurn, PlayerID: id})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, holder(s))
}

func TestLeave_HolderPassesTurn(t *testing.T) {
	s := joined(t, 1, 2, 3)

	events, next, err := Apply(s, Command{Type: CmdLeave, PlayerID: 1})
	require.NoError(t, err)
	assert.True(t, containsEvent(events, EvtPlayerLeft))
	assert.True(t, containsEvent(events, EvtTurnAdvanced))
	require.Len(t, next.Players, 2)
	assert.Equal(t, 2, holder(next))

	// Input untouched.
	assert.Len(t, s.Players, 3)
	assert.Equal(t, 1, holder(s))
}

func TestUpdatePlayer_KeepsRelayOwnedFields(t *testing.T) {
	s := joined(t, 1, 2)

	u := protocol.Player{
		ID:           1,
		PlayerNumber: 99,
		Turn:         false,
		Name:         "Ada",
		Location:     "Bridge",
		SkillTokens:  []protocol.SkillToken{{ID: "move", Quantity: 2}},
		ImpactDiceSlots: []protocol.ImpactSlot{
			{ID: "1-impact-0", Symbol: "skull", Checked: true},
		},
		Statuses: protocol.Statuses{Heart: 3},
	}
	_, next, err := Apply(s, Command{Type: CmdUpdatePlayer, PlayerID: 1, Updates: u})
	require.NoError(t, err)

	p := next.Players[0]
	assert.Equal(t, "Ada", p.Name)
	assert.Equal(t, "Bridge", p.Location)
	assert.Equal(t, []Token{{Quantity: 2}}, p.SkillTokens)
	assert.Equal(t, []Slot{{Symbol: "skull", Checked: true}}, p.ImpactDiceSlots)
	assert.Equal(t, 3, p.Statuses.Heart)
	assert.Equal(t, 1, p.PlayerNumber)
	assert.True(t, p.Turn)
}

func TestSetDice_ClampsAtZero(t *testing.T) {
	s := joined(t, 1)

	_, next, err := Apply(s, Command{Type: CmdSetDice, Dice: -4})
	require.NoError(t, err)
	assert.Equal(t, 0, next.ChallengeDice)

	_, next, err = Apply(next, Command{Type: CmdSetDice, Dice: 5})
	require.NoError(t, err)
	assert.Equal(t, 5, next.ChallengeDice)
}

func TestUnsupportedCommand(t *testing.T) {
	_, _, err := Apply(NewState(1), Command{Type: "Nope"})
	assert.ErrorIs(t, err, ErrUnsupportedCommand)
}
