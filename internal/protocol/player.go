package protocol

import (
	"fmt"
	"slices"
	"sort"
	"strconv"

	"github.com/tidwall/gjson"
)

// SkillTokenIDs names the fixed skill token positions.
var SkillTokenIDs = []string{"move", "look", "engage", "help", "take", "overpower"}

type SkillToken struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

type ImpactSlot struct {
	ID      string `json:"id"`
	Symbol  string `json:"symbol"`
	Checked bool   `json:"checked"`
}

type Statuses struct {
	Heart     int `json:"heart"`
	Star      int `json:"star"`
	TimerSand int `json:"timer-sand-full"`
}

// Player is the canonical participant record held by the client.
type Player struct {
	ID              int          `json:"id"`
	SessionCode     int          `json:"sessionCode"`
	PlayerNumber    int          `json:"playerNumber"`
	Name            string       `json:"name"`
	Character       string       `json:"character"`
	EscapePod       string       `json:"escapePod"`
	Location        string       `json:"location"`
	SkillTokens     []SkillToken `json:"skillTokens"`
	Turn            bool         `json:"turn"`
	JournalText     string       `json:"journalText"`
	Statuses        Statuses     `json:"statuses"`
	ImpactDiceSlots []ImpactSlot `json:"impactDiceSlots"`
}

// Equal compares every field. Nil and empty collections are equal.
func (p Player) Equal(o Player) bool {
	return p.ID == o.ID &&
		p.SessionCode == o.SessionCode &&
		p.PlayerNumber == o.PlayerNumber &&
		p.Name == o.Name &&
		p.Character == o.Character &&
		p.EscapePod == o.EscapePod &&
		p.Location == o.Location &&
		p.Turn == o.Turn &&
		p.JournalText == o.JournalText &&
		p.Statuses == o.Statuses &&
		slices.Equal(p.SkillTokens, o.SkillTokens) &&
		slices.Equal(p.ImpactDiceSlots, o.ImpactDiceSlots)
}

// Clone returns a copy that shares no collections with p.
func (p Player) Clone() Player {
	p.SkillTokens = slices.Clone(p.SkillTokens)
	p.ImpactDiceSlots = slices.Clone(p.ImpactDiceSlots)
	return p
}

// ImpactSlotID is the stable id given to a toggle slot at a position.
func ImpactSlotID(playerID, index int) string {
	return fmt.Sprintf("%d-impact-%d", playerID, index)
}

func decodePlayer(r gjson.Result) Player {
	id := int(r.Get("playerId").Int())
	p := Player{
		ID:           id,
		SessionCode:  int(r.Get("sessionCode").Int()),
		PlayerNumber: int(r.Get("playerNumber").Int()),
		Name:         r.Get("name").String(),
		Character:    r.Get("character").String(),
		EscapePod:    r.Get("escapePod").String(),
		Location:     r.Get("location").String(),
		Turn:         r.Get("turn").Bool(),
		JournalText:  r.Get("journalText").String(),
	}

	tokens := r.Get("skillTokens")
	if tokens.Exists() && tokens.Type != gjson.Null {
		for i, t := range sequence(tokens) {
			p.SkillTokens = append(p.SkillTokens, SkillToken{
				ID:       skillTokenID(i),
				Quantity: int(t.Get("quantity").Int()),
			})
		}
	} else {
		p.SkillTokens = make([]SkillToken, len(SkillTokenIDs))
		for i := range p.SkillTokens {
			p.SkillTokens[i].ID = SkillTokenIDs[i]
		}
	}

	p.ImpactDiceSlots = []ImpactSlot{}
	for i, s := range sequence(r.Get("impactDiceSlots")) {
		p.ImpactDiceSlots = append(p.ImpactDiceSlots, ImpactSlot{
			ID:      ImpactSlotID(id, i),
			Symbol:  s.Get("symbol").String(),
			Checked: s.Get("checked").Bool(),
		})
	}

	if st := r.Get("statuses"); st.IsObject() {
		p.Statuses = Statuses{
			Heart:     int(st.Get("heart").Int()),
			Star:      int(st.Get("star").Int()),
			TimerSand: int(st.Get("timer-sand-full").Int()),
		}
	}

	return p
}

func skillTokenID(i int) string {
	if i < len(SkillTokenIDs) {
		return SkillTokenIDs[i]
	}
	return ""
}

// sequence returns the elements of an array, or the values of an object in
// property order: array-index keys ascending, then other keys as written.
// The relay sometimes serializes lists as {"0": ..., "1": ...}.
func sequence(r gjson.Result) []gjson.Result {
	if r.IsArray() {
		return r.Array()
	}
	if !r.IsObject() {
		return nil
	}

	type indexed struct {
		idx uint64
		val gjson.Result
	}
	var (
		ordered []indexed
		named   []gjson.Result
	)
	r.ForEach(func(k, v gjson.Result) bool {
		if idx, ok := arrayIndex(k.String()); ok {
			ordered = append(ordered, indexed{idx, v})
		} else {
			named = append(named, v)
		}
		return true
	})
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].idx < ordered[j].idx })

	out := make([]gjson.Result, 0, len(ordered)+len(named))
	for _, o := range ordered {
		out = append(out, o.val)
	}
	return append(out, named...)
}

func arrayIndex(key string) (uint64, bool) {
	n, err := strconv.ParseUint(key, 10, 32)
	if err != nil || n == 1<<32-1 {
		return 0, false
	}
	// "01" and "+1" are names, not indices.
	return n, strconv.FormatUint(n, 10) == key
}
