// Package votes turns on-chain transfers into community votes and
// prize-pool contributions. Events arrive either from the webhook
// receiver or from the transaction-history poller; both feed the same
// ingestor.
package votes

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/btcsuite/btcd/btcutil/base58"
)

// Memo program ids recognized during instruction scans.
var memoPrograms = map[string]bool{
	"MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr": true,
	"Memo1UhkJRfHyvLMcVucJwxXeuD728EqVDDwQDxFMNo": true,
}

// Event is one enhanced transaction from the indexer.
type Event struct {
	Signature       string           `json:"signature"`
	Timestamp       int64            `json:"timestamp"`
	Type            string           `json:"type,omitempty"`
	FeePayer        string           `json:"feePayer,omitempty"`
	Memo            string           `json:"memo,omitempty"`
	Memos           []string         `json:"memos,omitempty"`
	Instructions    []Instruction    `json:"instructions,omitempty"`
	TokenTransfers  []TokenTransfer  `json:"tokenTransfers,omitempty"`
	NativeTransfers []NativeTransfer `json:"nativeTransfers,omitempty"`
}

// Instruction is one raw instruction of an event.
type Instruction struct {
	ProgramID string   `json:"programId"`
	Data      string   `json:"data,omitempty"`
	Accounts  []string `json:"accounts,omitempty"`
}

// TokenTransfer is one SPL token movement.
type TokenTransfer struct {
	FromUserAccount string  `json:"fromUserAccount"`
	ToUserAccount   string  `json:"toUserAccount"`
	Mint            string  `json:"mint"`
	TokenAmount     float64 `json:"tokenAmount"`
}

// NativeTransfer is one lamport movement.
type NativeTransfer struct {
	FromUserAccount string `json:"fromUserAccount"`
	ToUserAccount   string `json:"toUserAccount"`
	Amount          int64  `json:"amount"`
}

// ExtractMemo recovers the transfer memo. Precedence: the top-level
// memo field, then the memos array, then a scan of the instruction
// list for the memo program with base58-encoded UTF-8 data.
func ExtractMemo(ev *Event) string {
	if memo := cleanMemo(ev.Memo); memo != "" {
		return memo
	}
	for _, m := range ev.Memos {
		if memo := cleanMemo(m); memo != "" {
			return memo
		}
	}
	for _, ins := range ev.Instructions {
		if !memoPrograms[ins.ProgramID] || ins.Data == "" {
			continue
		}
		decoded := base58.Decode(ins.Data)
		if len(decoded) == 0 || !utf8.Valid(decoded) {
			continue
		}
		if memo := cleanMemo(string(decoded)); memo != "" {
			return memo
		}
	}
	return ""
}

// cleanMemo strips whitespace and the quote wrapping some wallets add.
func cleanMemo(memo string) string {
	memo = strings.TrimSpace(memo)
	memo = strings.Trim(memo, `"'`)
	return strings.TrimSpace(memo)
}

var memoIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{5,80}$`)
var memoIntRe = regexp.MustCompile(`^[0-9]{1,10}$`)

// ValidMemoID reports whether a memo can name a submission: the slug
// pattern, or a bare integer for serial ids too short for it.
func ValidMemoID(memo string) bool {
	return memoIDRe.MatchString(memo) || memoIntRe.MatchString(memo)
}

// Sender resolves the vote sender: the token transfer's source
// account, falling back to the fee payer.
func Sender(ev *Event, transfer *TokenTransfer) string {
	if transfer != nil && transfer.FromUserAccount != "" {
		return transfer.FromUserAccount
	}
	return ev.FeePayer
}
