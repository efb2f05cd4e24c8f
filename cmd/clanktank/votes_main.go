package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/M3-org/clanktank-sub000/internal/votes"
)

func runVotes(cmd *cobra.Command, args []string) error {
	id, _ := cmd.Flags().GetString("submission-id")
	all, _ := cmd.Flags().GetBool("all")
	poll, _ := cmd.Flags().GetBool("poll")
	if id != "" && all {
		return fmt.Errorf("--submission-id and --all are mutually exclusive")
	}
	if id == "" && !all {
		all = true
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	holders := a.holders()

	if poll {
		switch {
		case a.cfg.HeliusAPIKey == "":
			log.Warn().Msg("HELIUS_API_KEY not set, skipping history poll")
		case a.cfg.PrizeWallet == "":
			log.Warn().Msg("PRIZE_WALLET_ADDRESS not set, skipping history poll")
		default:
			ing := votes.NewIngestor(a.store, votes.Config{
				PrizeWallet:    a.cfg.PrizeWallet,
				GovernanceMint: a.cfg.GovernanceMint,
				VoteMinimum:    a.cfg.VoteMinimum,
				VoteCap:        a.cfg.VoteCap,
			}, holders)
			poller := votes.NewPoller(ing, a.cfg.HeliusAPIKey, a.guards)
			poller.SetBaseURL(a.cfg.HeliusAPIBase)
			stats, err := poller.Poll(ctx)
			if err != nil {
				return fmt.Errorf("history poll: %w", err)
			}
			fmt.Printf("polled %d page(s): %d events, %d votes, %d donations, %d duplicates, %d skipped\n",
				stats.Pages, stats.Events, stats.Votes, stats.Donations, stats.Duplicates, stats.Skipped)
		}
	}

	scoreCfg := a.scoreConfig()
	if id != "" {
		voteRows, err := a.store.ListVotes(ctx, id)
		if err != nil {
			return err
		}
		cs := votes.Compute(id, voteRows, holders, scoreCfg)
		printCommunityScore(cs)
		return nil
	}

	voteRows, err := a.store.ListAllVotes(ctx)
	if err != nil {
		return err
	}
	scores := votes.ComputeAll(voteRows, holders, scoreCfg)
	if len(scores) == 0 {
		fmt.Println("no votes recorded")
		return nil
	}

	totals := votes.ComputeTotals(voteRows)
	fmt.Printf("%-24s  %6s  %7s  %10s  %7s\n", "SUBMISSION", "VOTES", "VOTERS", "TOKENS", "SCORE")
	for _, cs := range scores {
		fmt.Printf("%-24.24s  %6d  %7d  %10.2f  %7.2f\n",
			cs.SubmissionID, cs.VoteCount, cs.UniqueVoters, cs.TotalAmount, cs.Score)
	}
	fmt.Printf("\n%d votes from %d wallets, %.2f tokens total\n",
		totals.VoteCount, totals.UniqueVoters, totals.TotalAmount)
	return nil
}

func printCommunityScore(cs *votes.CommunityScore) {
	fmt.Printf("submission:      %s\n", cs.SubmissionID)
	fmt.Printf("votes:           %d from %d wallet(s)\n", cs.VoteCount, cs.UniqueVoters)
	fmt.Printf("tokens:          %.2f\n", cs.TotalAmount)
	fmt.Printf("log weight:      %.4f\n", cs.LogWeightSum)
	fmt.Printf("quadratic:       %.4f\n", cs.QuadraticWeightSum)
	fmt.Printf("combined:        %.4f\n", cs.CombinedWeight)
	fmt.Printf("community score: %.2f\n", cs.Score)
}
