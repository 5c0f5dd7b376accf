package match

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"clash_tracker/internal/utils"
)

type Match struct {
	ID         int       `json:"id"`
	BattleID   string    `json:"battle_id"`
	Player1Tag string    `json:"player_1_tag"`
	Player2Tag string    `json:"player_2_tag"`
	WinnerTag  *string   `json:"winner_tag"`
	BattleTime time.Time `json:"battle_time"`
	GameMode   string    `json:"game_mode"`
	Crowns1    int       `json:"crowns_1"`
	Crowns2    int       `json:"crowns_2"`
}

// UnmarshalJSON accepts battle times with or without a UTC offset.
func (m *Match) UnmarshalJSON(data []byte) error {
	type plain Match
	aux := struct {
		*plain
		BattleTime string `json:"battle_time"`
	}{plain: (*plain)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	t, err := utils.ParseTimestamp(aux.BattleTime)
	if err != nil {
		return fmt.Errorf("match %d: battle_time: %w", m.ID, err)
	}
	m.BattleTime = t
	return nil
}

type Outcome string

const (
	OutcomeWin        Outcome = "win"
	OutcomeLoss       Outcome = "loss"
	OutcomeUnresolved Outcome = "unresolved"
)

// Opponent returns the tag on the other side of the match from ownTag.
func (m Match) Opponent(ownTag string) string {
	if m.Player1Tag == ownTag {
		return m.Player2Tag
	}
	return m.Player1Tag
}

func (m Match) Outcome(ownTag string) Outcome {
	switch {
	case m.WinnerTag == nil || *m.WinnerTag == "":
		return OutcomeUnresolved
	case *m.WinnerTag == ownTag:
		return OutcomeWin
	default:
		return OutcomeLoss
	}
}

type Standing struct {
	Tag      string `json:"tag"`
	Username string `json:"username"`
	Wins     int    `json:"wins"`
	Losses   int    `json:"losses"`
}

// Friend is the part of a friend identity the standings need.
type Friend struct {
	Tag      string
	Username string
}

// HeadToHead tallies wins and losses of ownTag against every friend it has
// played. Unresolved matches still register the rivalry but are not counted.
// The result is sorted by wins, descending; ties keep first-appearance order.
func HeadToHead(matches []Match, friends []Friend, ownTag string) []Standing {
	names := make(map[string]string, len(friends))
	for _, f := range friends {
		if f.Tag == "" {
			continue
		}
		names[f.Tag] = f.Username
	}

	index := make(map[string]int)
	standings := make([]Standing, 0)

	for _, m := range matches {
		opp := m.Opponent(ownTag)
		name, isFriend := names[opp]
		if !isFriend || opp == ownTag {
			continue
		}

		i, seen := index[opp]
		if !seen {
			if name == "" {
				name = "Rival"
			}
			i = len(standings)
			index[opp] = i
			standings = append(standings, Standing{Tag: opp, Username: name})
		}

		switch m.Outcome(ownTag) {
		case OutcomeWin:
			standings[i].Wins++
		case OutcomeLoss:
			standings[i].Losses++
		}
	}

	sort.SliceStable(standings, func(a, b int) bool {
		return standings[a].Wins > standings[b].Wins
	})
	return standings
}
