package decode

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	bin "github.com/gagliardetto/binary"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"

	"github.com/memeroyale/indexer/service/metrics"
	"github.com/memeroyale/indexer/service/solana"
	"github.com/memeroyale/indexer/service/wealth"
)

// Event is one decoded program instruction. Position is the instruction's
// index within the transaction message, so two instructions of the same
// type in one transaction stay distinguishable; (Signature, Position) is
// the event's identity.
type Event struct {
	Signature string         `json:"signature"`
	Type      string         `json:"type"`
	Position  int            `json:"position"`
	Timestamp int64          `json:"timestamp"`
	Signers   []string       `json:"signers"`
	Accounts  []string       `json:"accounts"`
	Data      map[string]any `json:"data"`
}

// Account is a snapshot of a program-owned account's state at creation.
type Account struct {
	Address string         `json:"address"`
	Type    string         `json:"type"`
	Fields  map[string]any `json:"fields"`
}

// ParsedTransaction is everything derived from one raw transaction; it is
// persisted as a unit.
type ParsedTransaction struct {
	Signature string         `json:"signature"`
	Events    []Event        `json:"events"`
	Accounts  []Account      `json:"accounts"`
	Users     []wealth.User  `json:"users"`
	Mints     []*solana.Mint `json:"mints,omitempty"`
}

// AccountFetcher fetches on-chain account state for newly created
// accounts.
type AccountFetcher interface {
	GetAccountInfo(ctx context.Context, address string) (*solana.AccountInfo, error)
}

// WealthSampler produces per-signer wealth snapshots.
type WealthSampler interface {
	GetUserWealth(ctx context.Context, address string) (*wealth.WealthData, error)
}

// MintSink records newly observed token mints.
type MintSink interface {
	SaveMint(ctx context.Context, mint *solana.Mint) error
	SaveMeme(ctx context.Context, mint *solana.Mint) error
}

// Decoder turns raw transactions into typed events, account snapshots,
// and user wealth snapshots. Decode failures are scoped to the item that
// failed: a bad instruction or account is logged and skipped while its
// siblings still process.
type Decoder struct {
	programID solanago.PublicKey
	accounts  AccountFetcher
	sampler   WealthSampler
	mints     MintSink
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewDecoder(programID solanago.PublicKey, accounts AccountFetcher, sampler WealthSampler, mints MintSink, m *metrics.Metrics, logger *slog.Logger) *Decoder {
	return &Decoder{
		programID: programID,
		accounts:  accounts,
		sampler:   sampler,
		mints:     mints,
		metrics:   m,
		logger:    logger,
	}
}

// DecodeTransactions decodes a batch, skipping nil entries (signatures
// that could not be resolved upstream).
func (d *Decoder) DecodeTransactions(ctx context.Context, txs []*solana.RawTransaction) []ParsedTransaction {
	parsed := make([]ParsedTransaction, 0, len(txs))
	for _, tx := range txs {
		if tx == nil {
			continue
		}
		parsed = append(parsed, d.DecodeTransaction(ctx, tx))
	}
	return parsed
}

// DecodeTransaction derives all entities from one raw transaction.
// Events, created accounts, and per-signer users are independent
// derivations; a failure in any one of them leaves the others intact.
func (d *Decoder) DecodeTransaction(ctx context.Context, tx *solana.RawTransaction) ParsedTransaction {
	parsed := ParsedTransaction{Signature: tx.Signature}
	if tx.Transaction == nil {
		return parsed
	}

	signers := signerAddresses(&tx.Transaction.Message)

	parsed.Events = d.decodeEvents(tx, signers)
	parsed.Accounts, parsed.Mints = d.decodeCreatedAccounts(ctx, tx)
	parsed.Users = d.sampleSigners(ctx, signers)
	return parsed
}

// signerAddresses returns the base58 addresses flagged as signers in the
// message header, in message order.
func signerAddresses(msg *solanago.Message) []string {
	n := int(msg.Header.NumRequiredSignatures)
	if n > len(msg.AccountKeys) {
		n = len(msg.AccountKeys)
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, msg.AccountKeys[i].String())
	}
	return out
}

// decodeEvents emits one Event per top-level instruction that targets the
// program and matches a known discriminator.
func (d *Decoder) decodeEvents(tx *solana.RawTransaction, signers []string) []Event {
	msg := &tx.Transaction.Message
	var timestamp int64
	if tx.BlockTime != nil {
		timestamp = *tx.BlockTime
	}

	var events []Event
	for position, ix := range msg.Instructions {
		if int(ix.ProgramIDIndex) >= len(msg.AccountKeys) {
			continue
		}
		if !msg.AccountKeys[ix.ProgramIDIndex].Equals(d.programID) {
			continue
		}

		name, data, err := decodeInstruction(ix.Data)
		if err != nil {
			d.metrics.RecordDecodeSkip("instruction")
			d.logger.Warn("skipping undecodable instruction",
				"signature", tx.Signature, "position", position, "error", err)
			continue
		}

		accounts := make([]string, 0, len(ix.Accounts))
		for _, idx := range ix.Accounts {
			if int(idx) < len(msg.AccountKeys) {
				accounts = append(accounts, msg.AccountKeys[idx].String())
			}
		}

		d.metrics.RecordEventDecoded(name)
		events = append(events, Event{
			Signature: tx.Signature,
			Type:      name,
			Position:  position,
			Timestamp: timestamp,
			Signers:   signers,
			Accounts:  accounts,
			Data:      data,
		})
	}
	return events
}

// decodeInstruction classifies instruction data by its 8-byte
// discriminator and decodes the trailing borsh-encoded arguments.
func decodeInstruction(data []byte) (string, map[string]any, error) {
	if len(data) < 8 {
		return "", nil, fmt.Errorf("instruction data too short: %d bytes", len(data))
	}

	var disc [8]byte
	copy(disc[:], data[:8])
	schema, ok := instructionsByDiscriminator[disc]
	if !ok {
		return "", nil, fmt.Errorf("unknown instruction discriminator %x", disc)
	}

	if schema.newArgs == nil {
		return schema.name, map[string]any{}, nil
	}

	args := schema.newArgs()
	if err := bin.NewBorshDecoder(data[8:]).Decode(args); err != nil {
		return "", nil, fmt.Errorf("decode %s args: %w", schema.name, err)
	}
	return schema.name, normalizeStruct(args), nil
}

// decodeCreatedAccounts walks inner instructions for the system program's
// create-account operation and classifies each newly created account:
// known program accounts become Account snapshots, token-program-owned
// accounts decode as new mints.
func (d *Decoder) decodeCreatedAccounts(ctx context.Context, tx *solana.RawTransaction) ([]Account, []*solana.Mint) {
	if tx.Meta == nil {
		return nil, nil
	}
	msg := &tx.Transaction.Message

	var (
		accounts []Account
		mints    []*solana.Mint
	)
	for _, set := range tx.Meta.InnerInstructions {
		for _, inner := range set.Instructions {
			address, ok := createdAccountAddress(msg, inner)
			if !ok {
				continue
			}

			account, mint, err := d.classifyAccount(ctx, address)
			if err != nil {
				d.metrics.RecordDecodeSkip("account")
				d.logger.Warn("skipping unclassifiable account",
					"signature", tx.Signature, "address", address, "error", err)
				continue
			}
			if account != nil {
				accounts = append(accounts, *account)
			}
			if mint != nil {
				mints = append(mints, mint)
			}
		}
	}
	return accounts, mints
}

// createdAccountAddress reports the address created by an inner system
// create-account instruction, if that is what the instruction is.
func createdAccountAddress(msg *solanago.Message, inner solana.InnerInstruction) (string, bool) {
	if inner.ProgramIDIndex >= len(msg.AccountKeys) {
		return "", false
	}
	if !msg.AccountKeys[inner.ProgramIDIndex].Equals(solanago.SystemProgramID) {
		return "", false
	}
	if len(inner.Accounts) < 2 {
		return "", false
	}

	data, err := base58.Decode(inner.Data)
	if err != nil || len(data) < 4 {
		return "", false
	}
	// System program instructions tag with a little-endian u32; zero is
	// CreateAccount.
	if binary.LittleEndian.Uint32(data[:4]) != 0 {
		return "", false
	}

	newAccountIdx := inner.Accounts[1]
	if newAccountIdx < 0 || newAccountIdx >= len(msg.AccountKeys) {
		return "", false
	}
	return msg.AccountKeys[newAccountIdx].String(), true
}

// classifyAccount fetches a created account and decodes it as either a
// known program account or, when owned by the token program, a new mint
// (recorded through the mint sink as both mint and meme).
func (d *Decoder) classifyAccount(ctx context.Context, address string) (*Account, *solana.Mint, error) {
	info, err := d.accounts.GetAccountInfo(ctx, address)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch account: %w", err)
	}
	if info == nil || info.Executable || len(info.Data) < 8 {
		return nil, nil, nil
	}

	var disc [8]byte
	copy(disc[:], info.Data[:8])
	if schema, ok := accountsByDiscriminator[disc]; ok {
		state := schema.newState()
		if err := bin.NewBorshDecoder(info.Data[8:]).Decode(state); err != nil {
			return nil, nil, fmt.Errorf("decode %s state: %w", schema.name, err)
		}
		d.metrics.RecordAccountDecoded(schema.name)
		return &Account{
			Address: address,
			Type:    schema.name,
			Fields:  normalizeStruct(state),
		}, nil, nil
	}

	if info.Owner == solanago.TokenProgramID.String() {
		mint, err := solana.DecodeMint(address, info.Data)
		if err != nil {
			return nil, nil, fmt.Errorf("decode mint: %w", err)
		}
		if err := d.mints.SaveMint(ctx, mint); err != nil {
			return nil, nil, fmt.Errorf("save mint: %w", err)
		}
		if err := d.mints.SaveMeme(ctx, mint); err != nil {
			return nil, nil, fmt.Errorf("save meme: %w", err)
		}
		d.metrics.RecordAccountDecoded("mint")
		return nil, mint, nil
	}

	return nil, nil, nil
}

// sampleSigners invokes the wealth sampler for every unique signer,
// concurrently. A failed sample omits that signer; it never aborts the
// transaction.
func (d *Decoder) sampleSigners(ctx context.Context, signers []string) []wealth.User {
	unique := make([]string, 0, len(signers))
	seen := map[string]bool{}
	for _, s := range signers {
		if !seen[s] {
			seen[s] = true
			unique = append(unique, s)
		}
	}

	var (
		mu    sync.Mutex
		users []wealth.User
		wg    sync.WaitGroup
	)
	for _, address := range unique {
		wg.Add(1)
		go func(address string) {
			defer wg.Done()
			data, err := d.sampler.GetUserWealth(ctx, address)
			if err != nil {
				d.logger.Warn("omitting signer from users", "address", address, "error", err)
				return
			}
			mu.Lock()
			users = append(users, wealth.User{
				Address: address,
				Wealth:  data.Wealth,
				Tokens:  data.Tokens,
			})
			mu.Unlock()
		}(address)
	}
	wg.Wait()
	return users
}
