package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memeroyale/indexer/service/decode"
	"github.com/memeroyale/indexer/service/solana"
	"github.com/memeroyale/indexer/service/wealth"
)

func sampleParsedTransaction(signature string) decode.ParsedTransaction {
	return decode.ParsedTransaction{
		Signature: signature,
		Events: []decode.Event{
			{
				Signature: signature,
				Type:      "trade",
				Position:  0,
				Timestamp: 1700000000,
				Signers:   []string{"signer-1"},
				Accounts:  []string{"signer-1", "pool-1"},
				Data:      map[string]any{"amountIn": "3e8", "buy": true},
			},
			{
				Signature: signature,
				Type:      "trade",
				Position:  1,
				Timestamp: 1700000000,
				Signers:   []string{"signer-1"},
				Accounts:  []string{"signer-1", "pool-1"},
				Data:      map[string]any{"amountIn": "64", "buy": false},
			},
		},
		Accounts: []decode.Account{
			{
				Address: "pool-1",
				Type:    "Pool",
				Fields:  map[string]any{"creator": "signer-1", "graduated": false},
			},
		},
		Mints: []*solana.Mint{
			{
				Address:       "mint-1",
				MintAuthority: "authority-1",
				Supply:        "1000000",
				Decimals:      6,
				IsInitialized: true,
			},
		},
		Users: []wealth.User{
			{Address: "signer-1", Wealth: "42.5", Tokens: []wealth.TokenBalance{{Mint: "mint-1", Balance: "10"}}},
		},
	}
}

func TestSaveTransaction(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()

	t.Run("persists all derived entities", func(t *testing.T) {
		err := store.SaveTransaction(ctx, sampleParsedTransaction("sig-full"))
		require.NoError(t, err)

		exists, err := store.SignatureExists(ctx, "sig-full")
		require.NoError(t, err)
		assert.True(t, exists)

		mint, err := store.GetMint(ctx, "mint-1")
		require.NoError(t, err)
		require.NotNil(t, mint)
		assert.Equal(t, uint8(6), mint.Decimals)

		users, err := store.GetUsers(ctx)
		require.NoError(t, err)
		require.Len(t, users, 1)
		assert.Equal(t, "42.5", users[0].Wealth)
		require.Len(t, users[0].Tokens, 1)
		assert.Equal(t, "mint-1", users[0].Tokens[0].Mint)
	})

	t.Run("re-saving the same transaction is idempotent", func(t *testing.T) {
		err := store.SaveTransaction(ctx, sampleParsedTransaction("sig-full"))
		require.NoError(t, err)

		var count int
		err = store.pool.QueryRow(ctx,
			`SELECT count(*) FROM events WHERE signature = $1`, "sig-full").Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 2, count, "events keyed by (signature, position) must not duplicate")
	})

	t.Run("unknown signature does not exist", func(t *testing.T) {
		exists, err := store.SignatureExists(ctx, "sig-unknown")
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestMintCache(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()

	t.Run("missing mint returns nil without error", func(t *testing.T) {
		mint, err := store.GetMint(ctx, "mint-missing")
		require.NoError(t, err)
		assert.Nil(t, mint)
	})

	t.Run("save then get round-trips", func(t *testing.T) {
		in := &solana.Mint{
			Address:       "mint-rt",
			MintAuthority: "authority-rt",
			Supply:        "999",
			Decimals:      9,
			IsInitialized: true,
		}
		require.NoError(t, store.SaveMint(ctx, in))
		require.NoError(t, store.SaveMeme(ctx, in))

		out, err := store.GetMint(ctx, "mint-rt")
		require.NoError(t, err)
		require.NotNil(t, out)
		assert.Equal(t, in.Supply, out.Supply)
		assert.Equal(t, in.Decimals, out.Decimals)
	})
}

func TestSaveUsers(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()

	first := []wealth.User{
		{Address: "addr-1", Wealth: "10", Tokens: []wealth.TokenBalance{}},
		{Address: "addr-2", Wealth: "20", Tokens: []wealth.TokenBalance{}},
	}
	require.NoError(t, store.SaveUsers(ctx, first))

	// The refresh sweep replaces snapshots wholesale.
	second := []wealth.User{
		{Address: "addr-1", Wealth: "15", Tokens: []wealth.TokenBalance{{Mint: "m", Balance: "1"}}},
	}
	require.NoError(t, store.SaveUsers(ctx, second))

	users, err := store.GetUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "15", users[0].Wealth)
	assert.Equal(t, "20", users[1].Wealth)
}
