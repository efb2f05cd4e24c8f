// Package prizepool maintains a live snapshot of the prize wallet and
// streams it to WebSocket subscribers. Clients always receive the full
// snapshot, never deltas.
package prizepool

import (
	"sort"
	"time"

	"github.com/M3-org/clanktank-sub000/internal/store"
	"github.com/M3-org/clanktank-sub000/internal/votes"
)

// TokenBalance is one asset held by the prize wallet.
type TokenBalance struct {
	Mint     string  `json:"mint"`
	Symbol   string  `json:"symbol"`
	Amount   float64 `json:"amount"`
	Decimals int     `json:"decimals"`
	Logo     string  `json:"logo,omitempty"`
}

// Snapshot is the wallet state broadcast to subscribers. The token
// breakdown is pre-sorted: native first, then the governance token,
// then the reserve stable token, then the rest by amount descending.
type Snapshot struct {
	TotalNative         float64                       `json:"total_native"`
	TargetNative        float64                       `json:"target_native"`
	Tokens              []TokenBalance                `json:"token_breakdown"`
	RecentContributions []store.PrizePoolContribution `json:"recent_contributions"`
	UpdatedAt           time.Time                     `json:"updated_at"`
}

// Copy returns an independent snapshot. Readers never share slices
// with the watcher.
func (s Snapshot) Copy() Snapshot {
	out := s
	out.Tokens = append([]TokenBalance(nil), s.Tokens...)
	out.RecentContributions = append([]store.PrizePoolContribution(nil), s.RecentContributions...)
	return out
}

// sortTokens orders the breakdown for display.
func sortTokens(tokens []TokenBalance, governanceMint, stableMint string) {
	rank := func(t TokenBalance) int {
		switch t.Mint {
		case votes.NativeMint:
			return 0
		case governanceMint:
			return 1
		case stableMint:
			return 2
		default:
			return 3
		}
	}
	sort.SliceStable(tokens, func(i, j int) bool {
		ri, rj := rank(tokens[i]), rank(tokens[j])
		if ri != rj {
			return ri < rj
		}
		return tokens[i].Amount > tokens[j].Amount
	})
}
