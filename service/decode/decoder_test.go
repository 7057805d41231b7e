package decode

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"testing"

	bin "github.com/gagliardetto/binary"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memeroyale/indexer/service/solana"
	"github.com/memeroyale/indexer/service/wealth"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func testPubkey(seed byte) solanago.PublicKey {
	var b [32]byte
	for i := range b {
		b[i] = seed
	}
	return solanago.PublicKeyFromBytes(b[:])
}

var testProgramID = testPubkey(0xAA)

type fakeAccountFetcher struct {
	accounts map[string]*solana.AccountInfo
}

func (f *fakeAccountFetcher) GetAccountInfo(_ context.Context, address string) (*solana.AccountInfo, error) {
	return f.accounts[address], nil
}

type fakeSampler struct {
	wealthByAddr map[string]string
	failing      map[string]bool
}

func (f *fakeSampler) GetUserWealth(_ context.Context, address string) (*wealth.WealthData, error) {
	if f.failing[address] {
		return nil, fmt.Errorf("oracle down")
	}
	w := f.wealthByAddr[address]
	if w == "" {
		w = "0"
	}
	return &wealth.WealthData{Wealth: w, Tokens: []wealth.TokenBalance{}}, nil
}

type fakeMintSink struct {
	mints []*solana.Mint
	memes []*solana.Mint
}

func (f *fakeMintSink) SaveMint(_ context.Context, m *solana.Mint) error {
	f.mints = append(f.mints, m)
	return nil
}

func (f *fakeMintSink) SaveMeme(_ context.Context, m *solana.Mint) error {
	f.memes = append(f.memes, m)
	return nil
}

func newTestDecoder(fetcher *fakeAccountFetcher, sampler *fakeSampler, sink *fakeMintSink) *Decoder {
	if fetcher == nil {
		fetcher = &fakeAccountFetcher{accounts: map[string]*solana.AccountInfo{}}
	}
	if sampler == nil {
		sampler = &fakeSampler{}
	}
	if sink == nil {
		sink = &fakeMintSink{}
	}
	return NewDecoder(testProgramID, fetcher, sampler, sink, nil, testLogger())
}

// instructionData prepends an instruction discriminator to borsh-encoded args.
func instructionData(t *testing.T, name string, args any) []byte {
	t.Helper()
	disc := sighash("global", name)
	buf := new(bytes.Buffer)
	if args != nil {
		require.NoError(t, bin.NewBorshEncoder(buf).Encode(args))
	}
	return append(disc[:], buf.Bytes()...)
}

// accountData prepends an account discriminator to borsh-encoded state.
func accountData(t *testing.T, name string, state any) []byte {
	t.Helper()
	disc := sighash("account", name)
	buf := new(bytes.Buffer)
	require.NoError(t, bin.NewBorshEncoder(buf).Encode(state))
	return append(disc[:], buf.Bytes()...)
}

func makeTransaction(keys []solanago.PublicKey, numSigners uint8, instructions []solanago.CompiledInstruction) *solana.RawTransaction {
	blockTime := int64(1700000000)
	return &solana.RawTransaction{
		Signature: "sig-test",
		Slot:      42,
		BlockTime: &blockTime,
		Transaction: &solanago.Transaction{
			Message: solanago.Message{
				Header:       solanago.MessageHeader{NumRequiredSignatures: numSigners},
				AccountKeys:  keys,
				Instructions: instructions,
			},
		},
	}
}

func TestDecoder_EmitsEventsForProgramInstructions(t *testing.T) {
	signer := testPubkey(1)
	pool := testPubkey(2)
	data := instructionData(t, "trade", &TradeArgs{AmountIn: 1000, MinAmountOut: 990, Buy: true})

	tx := makeTransaction(
		[]solanago.PublicKey{signer, pool, testProgramID},
		1,
		[]solanago.CompiledInstruction{
			{ProgramIDIndex: 2, Accounts: []uint16{0, 1}, Data: data},
		},
	)

	decoder := newTestDecoder(nil, nil, nil)
	parsed := decoder.DecodeTransaction(context.Background(), tx)

	require.Len(t, parsed.Events, 1)
	ev := parsed.Events[0]
	assert.Equal(t, "sig-test", ev.Signature)
	assert.Equal(t, "trade", ev.Type)
	assert.Equal(t, 0, ev.Position)
	assert.Equal(t, int64(1700000000), ev.Timestamp)
	assert.Equal(t, []string{signer.String()}, ev.Signers)
	assert.Equal(t, []string{signer.String(), pool.String()}, ev.Accounts)

	assert.Equal(t, "3e8", ev.Data["amountIn"], "u64 renders as hex")
	assert.Equal(t, "3de", ev.Data["minAmountOut"])
	assert.Equal(t, true, ev.Data["buy"])
}

func TestDecoder_IgnoresForeignAndUnknownInstructions(t *testing.T) {
	signer := testPubkey(1)
	otherProgram := testPubkey(0xBB)

	unknown := make([]byte, 12) // discriminator that matches nothing
	tx := makeTransaction(
		[]solanago.PublicKey{signer, otherProgram, testProgramID},
		1,
		[]solanago.CompiledInstruction{
			{ProgramIDIndex: 1, Accounts: []uint16{0}, Data: instructionData(t, "trade", &TradeArgs{})},
			{ProgramIDIndex: 2, Accounts: []uint16{0}, Data: unknown},
			{ProgramIDIndex: 2, Accounts: []uint16{0}, Data: instructionData(t, "graduate", nil)},
		},
	)

	decoder := newTestDecoder(nil, nil, nil)
	parsed := decoder.DecodeTransaction(context.Background(), tx)

	require.Len(t, parsed.Events, 1, "foreign program and unknown discriminator are skipped")
	assert.Equal(t, "graduate", parsed.Events[0].Type)
	assert.Equal(t, 2, parsed.Events[0].Position)
	assert.Empty(t, parsed.Events[0].Data)
}

func TestDecoder_PositionDistinguishesDuplicateInstructionTypes(t *testing.T) {
	signer := testPubkey(1)
	tx := makeTransaction(
		[]solanago.PublicKey{signer, testProgramID},
		1,
		[]solanago.CompiledInstruction{
			{ProgramIDIndex: 1, Accounts: []uint16{0}, Data: instructionData(t, "convert", &ConvertArgs{Amount: 1})},
			{ProgramIDIndex: 1, Accounts: []uint16{0}, Data: instructionData(t, "convert", &ConvertArgs{Amount: 2})},
		},
	)

	decoder := newTestDecoder(nil, nil, nil)
	parsed := decoder.DecodeTransaction(context.Background(), tx)

	require.Len(t, parsed.Events, 2)
	assert.Equal(t, 0, parsed.Events[0].Position)
	assert.Equal(t, 1, parsed.Events[1].Position)
	assert.Equal(t, "1", parsed.Events[0].Data["amount"])
	assert.Equal(t, "2", parsed.Events[1].Data["amount"])
}

// createAccountInner builds an inner system-program create-account
// instruction creating the account at key index newAccount.
func createAccountInner(programIdx, funder, newAccount int) solana.InnerInstruction {
	data := make([]byte, 52)
	binary.LittleEndian.PutUint32(data[:4], 0) // CreateAccount tag
	return solana.InnerInstruction{
		ProgramIDIndex: programIdx,
		Accounts:       []int{funder, newAccount},
		Data:           base58.Encode(data),
	}
}

func TestDecoder_DecodesCreatedProgramAccounts(t *testing.T) {
	signer := testPubkey(1)
	created := testPubkey(5)
	creator := testPubkey(6)
	mint := testPubkey(7)

	tx := makeTransaction(
		[]solanago.PublicKey{signer, created, solanago.SystemProgramID, testProgramID},
		1,
		nil,
	)
	tx.Meta = &solana.TransactionMeta{
		InnerInstructions: []solana.InnerInstructionSet{
			{Index: 0, Instructions: []solana.InnerInstruction{createAccountInner(2, 0, 1)}},
		},
	}

	fetcher := &fakeAccountFetcher{accounts: map[string]*solana.AccountInfo{
		created.String(): {
			Owner: testProgramID.String(),
			Data: accountData(t, "Pool", &PoolState{
				Creator:              creator,
				Mint:                 mint,
				VirtualSolReserves:   30_000_000_000,
				VirtualTokenReserves: 1_000_000_000_000,
				Graduated:            false,
			}),
		},
	}}

	decoder := newTestDecoder(fetcher, nil, nil)
	parsed := decoder.DecodeTransaction(context.Background(), tx)

	require.Len(t, parsed.Accounts, 1)
	acct := parsed.Accounts[0]
	assert.Equal(t, created.String(), acct.Address)
	assert.Equal(t, "Pool", acct.Type)
	assert.Equal(t, creator.String(), acct.Fields["creator"])
	assert.Equal(t, mint.String(), acct.Fields["mint"])
	assert.Equal(t, false, acct.Fields["graduated"])
}

func TestDecoder_RecordsTokenMintsFromCreatedAccounts(t *testing.T) {
	signer := testPubkey(1)
	created := testPubkey(5)

	mintData := make([]byte, solana.MintLayoutSize)
	binary.LittleEndian.PutUint32(mintData[0:4], 1)
	authority := testPubkey(9)
	copy(mintData[4:36], authority[:])
	binary.LittleEndian.PutUint64(mintData[36:44], 1_000_000)
	mintData[44] = 6 // decimals
	mintData[45] = 1 // initialized

	tx := makeTransaction(
		[]solanago.PublicKey{signer, created, solanago.SystemProgramID, testProgramID},
		1,
		nil,
	)
	tx.Meta = &solana.TransactionMeta{
		InnerInstructions: []solana.InnerInstructionSet{
			{Index: 0, Instructions: []solana.InnerInstruction{createAccountInner(2, 0, 1)}},
		},
	}

	fetcher := &fakeAccountFetcher{accounts: map[string]*solana.AccountInfo{
		created.String(): {
			Owner: solanago.TokenProgramID.String(),
			Data:  mintData,
		},
	}}
	sink := &fakeMintSink{}

	decoder := newTestDecoder(fetcher, nil, sink)
	parsed := decoder.DecodeTransaction(context.Background(), tx)

	assert.Empty(t, parsed.Accounts)
	require.Len(t, parsed.Mints, 1)
	assert.Equal(t, created.String(), parsed.Mints[0].Address)
	assert.Equal(t, uint8(6), parsed.Mints[0].Decimals)
	assert.Equal(t, authority.String(), parsed.Mints[0].MintAuthority)

	require.Len(t, sink.mints, 1, "new mint is persisted")
	require.Len(t, sink.memes, 1, "new mint is recorded as a meme entity")
}

func TestDecoder_OmitsSignersWhoseWealthLookupFails(t *testing.T) {
	signerA := testPubkey(1)
	signerB := testPubkey(2)

	tx := makeTransaction(
		[]solanago.PublicKey{signerA, signerB, testProgramID},
		2,
		[]solanago.CompiledInstruction{
			{ProgramIDIndex: 2, Accounts: []uint16{0, 1}, Data: instructionData(t, "graduate", nil)},
		},
	)

	sampler := &fakeSampler{
		wealthByAddr: map[string]string{signerA.String(): "100"},
		failing:      map[string]bool{signerB.String(): true},
	}

	decoder := newTestDecoder(nil, sampler, nil)
	parsed := decoder.DecodeTransaction(context.Background(), tx)

	require.Len(t, parsed.Events, 1, "wealth failure must not drop events")
	require.Len(t, parsed.Users, 1)
	assert.Equal(t, signerA.String(), parsed.Users[0].Address)
	assert.Equal(t, "100", parsed.Users[0].Wealth)
}

func TestDecoder_SkipsNilBatchEntries(t *testing.T) {
	signer := testPubkey(1)
	tx := makeTransaction(
		[]solanago.PublicKey{signer, testProgramID},
		1,
		[]solanago.CompiledInstruction{
			{ProgramIDIndex: 1, Accounts: []uint16{0}, Data: instructionData(t, "graduate", nil)},
		},
	)

	decoder := newTestDecoder(nil, nil, nil)
	parsed := decoder.DecodeTransactions(context.Background(), []*solana.RawTransaction{nil, tx, nil})
	require.Len(t, parsed, 1)
	assert.Equal(t, "sig-test", parsed[0].Signature)
}
