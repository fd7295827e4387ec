package holders

// Holder records as returned by the runes holders endpoint
// Balances are u128 amounts, parsed into sdkmath.Int from either a JSON string or number
// The original object is kept so re-serialisation passes unknown fields through unchanged

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
)

var ErrNoHolders = errors.New("no holders found for rune")

// ErrNoSnapshot is returned by snapshot stores when nothing was published yet.
var ErrNoSnapshot = errors.New("no published holder snapshot")

type HolderRecord struct {
	Address string
	Balance sdkmath.Int

	raw json.RawMessage
}

// NewHolderRecord builds a record that serialises as {"address": ..., "balance": "<n>"}.
func NewHolderRecord(address string, balance sdkmath.Int) HolderRecord {
	return HolderRecord{Address: address, Balance: balance}
}

func (h HolderRecord) NonZero() bool {
	return !h.Balance.IsNil() && h.Balance.IsPositive()
}

func (h *HolderRecord) UnmarshalJSON(data []byte) error {
	var fields struct {
		Address string          `json:"address"`
		Balance json.RawMessage `json:"balance"`
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	balance, err := parseBalance(fields.Balance)
	if err != nil {
		return fmt.Errorf("holder %q: %w", fields.Address, err)
	}

	h.Address = fields.Address
	h.Balance = balance
	h.raw = append(json.RawMessage(nil), data...)
	return nil
}

func (h HolderRecord) MarshalJSON() ([]byte, error) {
	if len(h.raw) > 0 {
		return h.raw, nil
	}
	balance := "0"
	if !h.Balance.IsNil() {
		balance = h.Balance.String()
	}
	return json.Marshal(struct {
		Address string `json:"address"`
		Balance string `json:"balance"`
	}{h.Address, balance})
}

func parseBalance(raw json.RawMessage) (sdkmath.Int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return sdkmath.ZeroInt(), nil
	}

	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return sdkmath.Int{}, fmt.Errorf("invalid balance %s: %w", raw, err)
		}
	} else {
		s = string(raw)
	}
	if s == "" {
		return sdkmath.ZeroInt(), nil
	}

	v, ok := sdkmath.NewIntFromString(s)
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("invalid balance %q", s)
	}
	if v.IsNegative() {
		return sdkmath.Int{}, fmt.Errorf("negative balance %q", s)
	}
	return v, nil
}

type Page struct {
	Total   int            `json:"total"`
	Offset  int            `json:"offset"`
	Limit   int            `json:"limit"`
	Results []HolderRecord `json:"results"`
}

func (p *Page) NonZeroCount() int {
	return countNonZero(p.Results)
}

func countNonZero(records []HolderRecord) int {
	n := 0
	for _, h := range records {
		if h.NonZero() {
			n++
		}
	}
	return n
}

// NonZero returns the non-zero subsequence of holders in the same order.
func NonZero(holders []HolderRecord) []HolderRecord {
	out := make([]HolderRecord, 0, len(holders))
	for _, h := range holders {
		if h.NonZero() {
			out = append(out, h)
		}
	}
	return out
}

// Snapshot is the last successfully published non-zero holder set.
type Snapshot struct {
	Rune        string         `json:"rune"`
	RunID       string         `json:"run_id,omitempty"`
	PublishedAt time.Time      `json:"published_at"`
	Holders     []HolderRecord `json:"holders"`
}
