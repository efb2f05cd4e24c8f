package votes

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/M3-org/clanktank-sub000/internal/store"
)

func TestExtractMemo(t *testing.T) {
	t.Run("top level field wins", func(t *testing.T) {
		ev := &Event{Memo: " beat-bot ", Memos: []string{"other"}}
		assert.Equal(t, "beat-bot", ExtractMemo(ev))
	})

	t.Run("memos array", func(t *testing.T) {
		ev := &Event{Memos: []string{"", `"beat-bot"`}}
		assert.Equal(t, "beat-bot", ExtractMemo(ev))
	})

	t.Run("instruction scan decodes base58", func(t *testing.T) {
		ev := &Event{Instructions: []Instruction{
			{ProgramID: "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA", Data: "ignored"},
			{ProgramID: "MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr", Data: base58.Encode([]byte("beat-bot"))},
		}}
		assert.Equal(t, "beat-bot", ExtractMemo(ev))
	})

	t.Run("non memo program ignored", func(t *testing.T) {
		ev := &Event{Instructions: []Instruction{
			{ProgramID: "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA", Data: base58.Encode([]byte("beat-bot"))},
		}}
		assert.Empty(t, ExtractMemo(ev))
	})

	t.Run("no memo anywhere", func(t *testing.T) {
		assert.Empty(t, ExtractMemo(&Event{}))
	})
}

func TestValidMemoID(t *testing.T) {
	valid := []string{"beat-bot", "zephyr_2", "a1b2c", "42", "7", "1234567890"}
	for _, m := range valid {
		assert.True(t, ValidMemoID(m), m)
	}

	invalid := []string{"", "ab", "has space", "sub/../etc", "émoji", string(make([]byte, 90))}
	for _, m := range invalid {
		assert.False(t, ValidMemoID(m), m)
	}
}

func TestSender(t *testing.T) {
	ev := &Event{FeePayer: "FeePayer111"}
	assert.Equal(t, "FeePayer111", Sender(ev, nil))
	assert.Equal(t, "FeePayer111", Sender(ev, &TokenTransfer{}))
	assert.Equal(t, "W1", Sender(ev, &TokenTransfer{FromUserAccount: "W1"}))
}

func TestSplitVote(t *testing.T) {
	vote, overflow := splitVote(150, 100)
	assert.Equal(t, 100.0, vote)
	assert.Equal(t, 50.0, overflow)

	vote, overflow = splitVote(100, 100)
	assert.Equal(t, 100.0, vote)
	assert.Zero(t, overflow)

	vote, overflow = splitVote(30, 100)
	assert.Equal(t, 30.0, vote)
	assert.Zero(t, overflow)
}

func TestLoadHolders(t *testing.T) {
	t.Run("object form", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "holders.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"W1": 400, "W2": 25}`), 0o644))

		h, err := LoadHolders(path)
		require.NoError(t, err)
		assert.Equal(t, 2, h.Size())
		assert.True(t, h.IsHolder("W1"))
		assert.False(t, h.IsHolder("W3"))
		assert.Equal(t, 400.0, h.Balance("W1"))
		assert.Equal(t, 20.0, h.BaseWeight("W1"))
		assert.Equal(t, 5.0, h.BaseWeight("W2"))
		assert.Zero(t, h.BaseWeight("W3"))
	})

	t.Run("array form", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "holders.json")
		require.NoError(t, os.WriteFile(path, []byte(`[{"address": "W1", "balance": 9}]`), 0o644))

		h, err := LoadHolders(path)
		require.NoError(t, err)
		assert.Equal(t, 3.0, h.BaseWeight("W1"))
	})

	t.Run("missing path disables filtering", func(t *testing.T) {
		h, err := LoadHolders("")
		require.NoError(t, err)
		assert.Nil(t, h)
		assert.True(t, h.IsHolder("anyone"))
		assert.Zero(t, h.BaseWeight("anyone"))
	})

	t.Run("unreadable file errors", func(t *testing.T) {
		_, err := LoadHolders(filepath.Join(t.TempDir(), "absent.json"))
		assert.Error(t, err)
	})
}

func TestComputeCappedVote(t *testing.T) {
	// A single capped vote of 100 units scores about 4.02.
	rows := []store.Vote{{SubmissionID: "beat-bot", SenderAddress: "W1", Amount: 100}}

	cs := Compute("beat-bot", rows, nil, DefaultScoreConfig())
	assert.Equal(t, 1, cs.VoteCount)
	assert.Equal(t, 1, cs.UniqueVoters)
	assert.Equal(t, 100.0, cs.TotalAmount)
	assert.InDelta(t, 4.02, cs.Score, 0.05)
	assert.InDelta(t, 6.0129, cs.LogWeightSum, 1e-3)
	assert.Zero(t, cs.QuadraticWeightSum)
	assert.Zero(t, cs.CombinedWeight)
}

func TestComputeZeroVotes(t *testing.T) {
	cs := Compute("beat-bot", nil, nil, DefaultScoreConfig())
	assert.Zero(t, cs.Score)
	assert.Zero(t, cs.VoteCount)
}

func TestComputeWithHolders(t *testing.T) {
	holders := &Holders{balances: map[string]float64{"W1": 400, "W2": 25}}
	rows := []store.Vote{
		{SubmissionID: "beat-bot", SenderAddress: "W1", Amount: 60},
		{SubmissionID: "beat-bot", SenderAddress: "W1", Amount: 40},
		{SubmissionID: "beat-bot", SenderAddress: "W2", Amount: 10},
	}

	cs := Compute("beat-bot", rows, holders, DefaultScoreConfig())
	assert.Equal(t, 3, cs.VoteCount)
	assert.Equal(t, 2, cs.UniqueVoters)
	assert.Equal(t, 110.0, cs.TotalAmount)
	// sqrt(400) + sqrt(25) = 25.
	assert.InDelta(t, 25.0, cs.QuadraticWeightSum, 1e-9)
	assert.Greater(t, cs.CombinedWeight, 0.0)
	assert.LessOrEqual(t, cs.Score, 10.0)
}

func TestComputeSenderCapBindsLargeVoters(t *testing.T) {
	rows := []store.Vote{{SubmissionID: "s-one", SenderAddress: "W1", Amount: 1e9}}
	cs := Compute("s-one", rows, nil, DefaultScoreConfig())
	assert.Equal(t, 10.0, cs.LogWeightSum)
	assert.Equal(t, 10.0, cs.Score)
}

func TestComputeAllOrdersByScore(t *testing.T) {
	rows := []store.Vote{
		{SubmissionID: "small", SenderAddress: "W1", Amount: 5},
		{SubmissionID: "large", SenderAddress: "W2", Amount: 500},
		{SubmissionID: "large", SenderAddress: "W3", Amount: 200},
	}

	scores := ComputeAll(rows, nil, DefaultScoreConfig())
	require.Len(t, scores, 2)
	assert.Equal(t, "large", scores[0].SubmissionID)
	assert.Equal(t, "small", scores[1].SubmissionID)
}

func TestComputeTotals(t *testing.T) {
	rows := []store.Vote{
		{SubmissionID: "a", SenderAddress: "W1", Amount: 10},
		{SubmissionID: "a", SenderAddress: "W2", Amount: 20},
		{SubmissionID: "b", SenderAddress: "W1", Amount: 5},
	}

	totals := ComputeTotals(rows)
	assert.Equal(t, 3, totals.VoteCount)
	assert.Equal(t, 2, totals.UniqueVoters)
	assert.Equal(t, 35.0, totals.TotalAmount)
	assert.Equal(t, 2, totals.Submissions)
}

func TestSuffixed(t *testing.T) {
	primary := false
	assert.Equal(t, "sig", suffixed("sig", "native", 0, &primary))
	assert.Equal(t, "sig-native", suffixed("sig", "native", 0, &primary))
	assert.Equal(t, "sig-native1", suffixed("sig", "native", 1, &primary))
}
