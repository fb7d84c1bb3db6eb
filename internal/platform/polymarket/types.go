package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
)

// flexBool accepts a JSON bool or a "true"/"false" string; Gamma sends both.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// APIMarket is the subset of a Gamma market the oracle relayer reads.
type APIMarket struct {
	ID            string   `json:"id"`
	Question      string   `json:"question"`
	Slug          string   `json:"slug"`
	Active        flexBool `json:"active"`
	Closed        bool     `json:"closed"`
	Outcomes      string   `json:"outcomes"`      // JSON-encoded: "[\"Yes\",\"No\"]"
	OutcomePrices string   `json:"outcomePrices"` // JSON-encoded: "[\"1\",\"0\"]"
	Tokens        []Token  `json:"tokens"`
	EndDateISO    string   `json:"end_date_iso"`
	UMAStatus     string   `json:"umaResolutionStatus"`
}

// Token is one outcome token of a Gamma market.
type Token struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
	Winner  bool   `json:"winner"`
}

// Resolution is the settled state of an upstream market.
type Resolution struct {
	Closed   bool
	Outcomes []string
	// Winner is the index into Outcomes, or -1 when no winner is known.
	Winner int
}

// WinnerName returns the winning outcome label, or "" when unresolved.
func (r Resolution) WinnerName() string {
	if r.Winner < 0 || r.Winner >= len(r.Outcomes) {
		return ""
	}
	return r.Outcomes[r.Winner]
}

// resolution derives the winner from token flags first and falls back to
// a settled price vector (exactly one price at 1).
func (m *APIMarket) resolution() Resolution {
	res := Resolution{Closed: m.Closed, Outcomes: decodeStringList(m.Outcomes), Winner: -1}
	if len(res.Outcomes) == 0 {
		for _, t := range m.Tokens {
			res.Outcomes = append(res.Outcomes, t.Outcome)
		}
	}
	if !m.Closed {
		return res
	}
	for i, t := range m.Tokens {
		if t.Winner {
			res.Winner = indexOf(res.Outcomes, t.Outcome, i)
			return res
		}
	}
	prices := decodeStringList(m.OutcomePrices)
	winner := -1
	for i, p := range prices {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return res
		}
		if v >= 0.999 {
			if winner >= 0 {
				return res
			}
			winner = i
		}
	}
	res.Winner = winner
	return res
}

func decodeStringList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func indexOf(list []string, name string, fallback int) int {
	for i, v := range list {
		if strings.EqualFold(v, name) {
			return i
		}
	}
	return fallback
}
