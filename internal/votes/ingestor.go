package votes

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/M3-org/clanktank-sub000/internal/apperr"
	"github.com/M3-org/clanktank-sub000/internal/store"
)

// NativeMint is the conventional mint address recorded for native
// currency flows.
const NativeMint = "So11111111111111111111111111111111111111112"

const lamportsPerSol = 1_000_000_000

// Config sets the ingestion rules.
type Config struct {
	PrizeWallet    string
	GovernanceMint string
	VoteMinimum    float64
	VoteCap        float64
}

// Ingestor converts events into vote and contribution rows.
type Ingestor struct {
	store   *store.Store
	cfg     Config
	holders *Holders
}

func NewIngestor(st *store.Store, cfg Config, holders *Holders) *Ingestor {
	if cfg.VoteCap <= 0 {
		cfg.VoteCap = 100
	}
	if cfg.VoteMinimum <= 0 {
		cfg.VoteMinimum = 1
	}
	return &Ingestor{store: st, cfg: cfg, holders: holders}
}

// Outcome reports what one event produced.
type Outcome struct {
	Signature    string  `json:"signature"`
	SubmissionID string  `json:"submission_id,omitempty"`
	VoteAmount   float64 `json:"vote_amount,omitempty"`
	Overflow     float64 `json:"overflow,omitempty"`
	Donations    int     `json:"donations,omitempty"`
	Duplicate    bool    `json:"duplicate,omitempty"`
	Skipped      string  `json:"skipped,omitempty"`
}

// ProcessEvent ingests one event. Replays of an already-recorded
// signature are reported as duplicates, not errors.
func (in *Ingestor) ProcessEvent(ctx context.Context, ev *Event) (*Outcome, error) {
	if ev.Signature == "" {
		return nil, apperr.Validationf("event has no signature")
	}
	out := &Outcome{Signature: ev.Signature}

	ts := time.Unix(ev.Timestamp, 0).UTC()
	if ev.Timestamp == 0 {
		ts = time.Now().UTC()
	}

	var governance *TokenTransfer
	var otherTokens []TokenTransfer
	for i := range ev.TokenTransfers {
		t := ev.TokenTransfers[i]
		if t.ToUserAccount != in.cfg.PrizeWallet || t.TokenAmount <= 0 {
			continue
		}
		if t.Mint == in.cfg.GovernanceMint && governance == nil {
			governance = &ev.TokenTransfers[i]
		} else {
			otherTokens = append(otherTokens, t)
		}
	}

	var native []NativeTransfer
	for _, t := range ev.NativeTransfers {
		if t.ToUserAccount == in.cfg.PrizeWallet && t.Amount > 0 {
			native = append(native, t)
		}
	}

	if governance == nil && len(otherTokens) == 0 && len(native) == 0 {
		out.Skipped = "no transfer to prize wallet"
		return out, nil
	}

	// The raw signature keys the first row; any further rows from the
	// same event carry a suffix so the union stays unique.
	primaryUsed := false

	if governance != nil {
		used, err := in.ingestGovernance(ctx, ev, governance, ts, out)
		if err != nil {
			return nil, err
		}
		primaryUsed = used
	}

	for i, t := range otherTokens {
		sig := suffixed(ev.Signature, "token", i, &primaryUsed)
		if err := in.recordDonation(ctx, sig, t.Mint, t.TokenAmount, t.FromUserAccount, ts, out); err != nil {
			return nil, err
		}
	}
	for i, t := range native {
		sig := suffixed(ev.Signature, "native", i, &primaryUsed)
		amount := float64(t.Amount) / lamportsPerSol
		if err := in.recordDonation(ctx, sig, NativeMint, amount, t.FromUserAccount, ts, out); err != nil {
			return nil, err
		}
	}

	return out, nil
}

// ingestGovernance handles the voting mint: a valid memo becomes a
// capped vote plus overflow; anything else stays in the pool as a
// plain donation.
func (in *Ingestor) ingestGovernance(ctx context.Context, ev *Event, transfer *TokenTransfer, ts time.Time, out *Outcome) (bool, error) {
	sender := Sender(ev, transfer)
	memo := ExtractMemo(ev)

	reason := ""
	switch {
	case memo == "":
		reason = "no memo"
	case !ValidMemoID(memo):
		reason = "memo is not a submission id"
	case !in.holders.IsHolder(sender):
		reason = "sender is not a registered holder"
	case transfer.TokenAmount < in.cfg.VoteMinimum:
		reason = "amount below vote minimum"
	}
	if reason == "" {
		exists, err := in.store.SubmissionExists(ctx, memo)
		if err != nil {
			return false, err
		}
		if !exists {
			reason = "memo names no known submission"
		}
	}

	if reason != "" {
		log.Info().
			Str("signature", ev.Signature).
			Str("sender", sender).
			Str("reason", reason).
			Msg("governance transfer not a vote, kept as donation")
		err := in.recordDonation(ctx, ev.Signature, transfer.Mint, transfer.TokenAmount, sender, ts, out)
		return true, err
	}

	voteAmount, overflowAmount := splitVote(transfer.TokenAmount, in.cfg.VoteCap)

	err := in.store.InsertVote(ctx, &store.Vote{
		TxSignature:   ev.Signature,
		SubmissionID:  memo,
		SenderAddress: sender,
		Amount:        voteAmount,
		Timestamp:     ts,
	})
	switch {
	case apperr.IsConflict(err):
		out.Duplicate = true
		return true, nil
	case err != nil:
		return false, err
	}

	out.SubmissionID = memo
	out.VoteAmount = voteAmount
	in.store.Audit(ctx, "vote_recorded", memo, sender, map[string]interface{}{
		"signature": ev.Signature,
		"amount":    voteAmount,
	})

	if overflowAmount > 0 {
		out.Overflow = overflowAmount
		if _, err := in.insertContribution(ctx, &store.PrizePoolContribution{
			TxSignature:       ev.Signature + "-overflow",
			TokenMint:         transfer.Mint,
			TokenSymbol:       in.symbol(ctx, transfer.Mint),
			Amount:            overflowAmount,
			ContributorWallet: sender,
			Source:            store.SourceVoteOverflow,
			Timestamp:         ts,
		}); err != nil {
			return false, err
		}
	}

	log.Info().
		Str("submission_id", memo).
		Str("sender", sender).
		Float64("amount", voteAmount).
		Float64("overflow", out.Overflow).
		Msg("vote recorded")
	return true, nil
}

func (in *Ingestor) recordDonation(ctx context.Context, signature, mint string, amount float64, wallet string, ts time.Time, out *Outcome) error {
	inserted, err := in.insertContribution(ctx, &store.PrizePoolContribution{
		TxSignature:       signature,
		TokenMint:         mint,
		TokenSymbol:       in.symbol(ctx, mint),
		Amount:            amount,
		ContributorWallet: wallet,
		Source:            store.SourceDirectDonation,
		Timestamp:         ts,
	})
	if err != nil {
		return err
	}
	if inserted {
		out.Donations++
	} else {
		out.Duplicate = true
	}
	return nil
}

// insertContribution tolerates replays.
func (in *Ingestor) insertContribution(ctx context.Context, c *store.PrizePoolContribution) (bool, error) {
	err := in.store.InsertContribution(ctx, c)
	switch {
	case apperr.IsConflict(err):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

func (in *Ingestor) symbol(ctx context.Context, mint string) string {
	if mint == NativeMint {
		return "SOL"
	}
	meta, err := in.store.GetTokenMetadata(ctx, mint)
	if err != nil {
		return ""
	}
	return meta.Symbol
}

// splitVote divides a transfer amount at the per-transaction cap.
func splitVote(amount, cap float64) (vote, overflow float64) {
	if amount <= cap {
		return amount, 0
	}
	return cap, amount - cap
}

func suffixed(signature, kind string, i int, primaryUsed *bool) string {
	if !*primaryUsed {
		*primaryUsed = true
		return signature
	}
	if i == 0 {
		return fmt.Sprintf("%s-%s", signature, kind)
	}
	return fmt.Sprintf("%s-%s%d", signature, kind, i)
}
