package votes

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/rs/zerolog/log"
)

// Holders is the token-holder registry loaded once at startup. A nil
// registry disables holder filtering and quadratic weighting.
type Holders struct {
	balances map[string]float64
}

// LoadHolders reads a JSON object of address to balance. An empty path
// returns nil: every address passes the filter.
func LoadHolders(path string) (*Holders, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read holders file: %w", err)
	}

	balances := make(map[string]float64)
	if err := json.Unmarshal(data, &balances); err != nil {
		// Tolerate the array form [{"address": ..., "balance": ...}].
		var entries []struct {
			Address string  `json:"address"`
			Balance float64 `json:"balance"`
		}
		if arrErr := json.Unmarshal(data, &entries); arrErr != nil {
			return nil, fmt.Errorf("failed to parse holders file: %w", err)
		}
		for _, e := range entries {
			balances[e.Address] = e.Balance
		}
	}

	log.Info().Int("holders", len(balances)).Str("path", path).Msg("holder registry loaded")
	return &Holders{balances: balances}, nil
}

// IsHolder reports registry membership. A nil registry admits everyone.
func (h *Holders) IsHolder(address string) bool {
	if h == nil {
		return true
	}
	_, ok := h.balances[address]
	return ok
}

// Balance returns the registered balance, zero when absent.
func (h *Holders) Balance(address string) float64 {
	if h == nil {
		return 0
	}
	return h.balances[address]
}

// BaseWeight is the quadratic dampening weight, sqrt of balance.
// Without a registry every address weighs zero.
func (h *Holders) BaseWeight(address string) float64 {
	b := h.Balance(address)
	if b <= 0 {
		return 0
	}
	return math.Sqrt(b)
}

// Size returns the holder count.
func (h *Holders) Size() int {
	if h == nil {
		return 0
	}
	return len(h.balances)
}
