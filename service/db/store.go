package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/memeroyale/indexer/service/decode"
	"github.com/memeroyale/indexer/service/metrics"
	"github.com/memeroyale/indexer/service/solana"
	"github.com/memeroyale/indexer/service/wealth"
)

// Store provides database operations for the indexer over a pgx pool.
// Every write is an upsert keyed on the entity's natural key, so
// re-ingesting a transaction is harmless.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{pool: pool, metrics: m}
}

// SignatureExists reports whether a transaction signature has already
// been ingested. This is the dedup gate the crawler consults before
// decoding.
func (s *Store) SignatureExists(ctx context.Context, signature string) (bool, error) {
	start := time.Now()
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM transactions WHERE signature = $1)`,
		signature,
	).Scan(&exists)
	s.metrics.RecordDBQuery("signature_exists", time.Since(start).Seconds(), err)
	if err != nil {
		return false, fmt.Errorf("check signature %s: %w", signature, err)
	}
	return exists, nil
}

// SaveTransaction persists one parsed transaction as a unit: the dedup
// marker, events, account snapshots, mints, and user snapshots commit in
// a single database transaction so a crash cannot leave the marker
// without its entities.
func (s *Store) SaveTransaction(ctx context.Context, parsed decode.ParsedTransaction) error {
	start := time.Now()
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO transactions (signature) VALUES ($1) ON CONFLICT (signature) DO NOTHING`,
			parsed.Signature,
		); err != nil {
			return fmt.Errorf("insert transaction marker: %w", err)
		}

		for _, event := range parsed.Events {
			data, err := json.Marshal(event.Data)
			if err != nil {
				return fmt.Errorf("marshal event data: %w", err)
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO events (signature, position, type, timestamp, signers, accounts, data)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (signature, position) DO NOTHING`,
				event.Signature, event.Position, event.Type, event.Timestamp,
				event.Signers, event.Accounts, data,
			); err != nil {
				return fmt.Errorf("insert event %s/%d: %w", event.Signature, event.Position, err)
			}
		}

		for _, account := range parsed.Accounts {
			fields, err := json.Marshal(account.Fields)
			if err != nil {
				return fmt.Errorf("marshal account fields: %w", err)
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO accounts (address, type, fields, signature)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (address) DO NOTHING`,
				account.Address, account.Type, fields, parsed.Signature,
			); err != nil {
				return fmt.Errorf("insert account %s: %w", account.Address, err)
			}
		}

		for _, mint := range parsed.Mints {
			if err := saveMintTx(ctx, tx, mint); err != nil {
				return err
			}
		}

		for _, user := range parsed.Users {
			if err := saveUserTx(ctx, tx, user); err != nil {
				return err
			}
		}
		return nil
	})
	s.metrics.RecordDBQuery("save_transaction", time.Since(start).Seconds(), err)
	return err
}

// ListEvents returns the most recent events, newest first. An empty
// eventType returns events of every type.
func (s *Store) ListEvents(ctx context.Context, eventType string, limit int32) ([]decode.Event, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT signature, position, type, timestamp, signers, accounts, data
		FROM events
		WHERE ($1 = '' OR type = $1)
		ORDER BY timestamp DESC, signature, position
		LIMIT $2`,
		eventType, limit,
	)
	s.metrics.RecordDBQuery("list_events", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []decode.Event
	for rows.Next() {
		var (
			event decode.Event
			data  []byte
		)
		if err := rows.Scan(
			&event.Signature, &event.Position, &event.Type, &event.Timestamp,
			&event.Signers, &event.Accounts, &data,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal(data, &event.Data); err != nil {
			return nil, fmt.Errorf("unmarshal event data for %s/%d: %w", event.Signature, event.Position, err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// ListMemes returns the mints of every meme token created through the
// program.
func (s *Store) ListMemes(ctx context.Context) ([]string, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `SELECT mint FROM memes ORDER BY mint`)
	s.metrics.RecordDBQuery("list_memes", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("list memes: %w", err)
	}
	defer rows.Close()

	var mints []string
	for rows.Next() {
		var mint string
		if err := rows.Scan(&mint); err != nil {
			return nil, fmt.Errorf("scan meme: %w", err)
		}
		mints = append(mints, mint)
	}
	return mints, rows.Err()
}

// GetMint returns a cached mint, or (nil, nil) when it is not stored.
func (s *Store) GetMint(ctx context.Context, address string) (*solana.Mint, error) {
	start := time.Now()
	var mint solana.Mint
	err := s.pool.QueryRow(ctx, `
		SELECT mint, mint_authority_option, mint_authority, supply, decimals,
		       is_initialized, freeze_authority_option, freeze_authority
		FROM mints WHERE mint = $1`,
		address,
	).Scan(
		&mint.Address, &mint.MintAuthorityOption, &mint.MintAuthority,
		&mint.Supply, &mint.Decimals, &mint.IsInitialized,
		&mint.FreezeAuthorityOption, &mint.FreezeAuthority,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		s.metrics.RecordDBQuery("get_mint", time.Since(start).Seconds(), nil)
		return nil, nil
	}
	s.metrics.RecordDBQuery("get_mint", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("get mint %s: %w", address, err)
	}
	return &mint, nil
}

// SaveMint upserts one mint.
func (s *Store) SaveMint(ctx context.Context, mint *solana.Mint) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mints (mint, mint_authority_option, mint_authority, supply,
		                   decimals, is_initialized, freeze_authority_option, freeze_authority)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (mint) DO UPDATE SET
			supply = EXCLUDED.supply,
			mint_authority_option = EXCLUDED.mint_authority_option,
			mint_authority = EXCLUDED.mint_authority,
			freeze_authority_option = EXCLUDED.freeze_authority_option,
			freeze_authority = EXCLUDED.freeze_authority`,
		mint.Address, mint.MintAuthorityOption, mint.MintAuthority, mint.Supply,
		mint.Decimals, mint.IsInitialized, mint.FreezeAuthorityOption, mint.FreezeAuthority,
	)
	s.metrics.RecordDBQuery("save_mint", time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("save mint %s: %w", mint.Address, err)
	}
	return nil
}

// SaveMeme records a mint as a meme token created through the program.
func (s *Store) SaveMeme(ctx context.Context, mint *solana.Mint) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO memes (mint) VALUES ($1) ON CONFLICT (mint) DO NOTHING`,
		mint.Address,
	)
	s.metrics.RecordDBQuery("save_meme", time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("save meme %s: %w", mint.Address, err)
	}
	return nil
}

// GetUsers returns all persisted user snapshots.
func (s *Store) GetUsers(ctx context.Context) ([]wealth.User, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `SELECT address, wealth, tokens FROM users ORDER BY address`)
	s.metrics.RecordDBQuery("get_users", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []wealth.User
	for rows.Next() {
		var (
			user   wealth.User
			tokens []byte
		)
		if err := rows.Scan(&user.Address, &user.Wealth, &tokens); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		if err := json.Unmarshal(tokens, &user.Tokens); err != nil {
			return nil, fmt.Errorf("unmarshal tokens for %s: %w", user.Address, err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// SaveUsers replaces the stored snapshots for the given users wholesale.
func (s *Store) SaveUsers(ctx context.Context, users []wealth.User) error {
	start := time.Now()
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, user := range users {
			if err := saveUserTx(ctx, tx, user); err != nil {
				return err
			}
		}
		return nil
	})
	s.metrics.RecordDBQuery("save_users", time.Since(start).Seconds(), err)
	return err
}

func saveMintTx(ctx context.Context, tx pgx.Tx, mint *solana.Mint) error {
	if _, err := tx.Exec(ctx, `
		INSERT INTO mints (mint, mint_authority_option, mint_authority, supply,
		                   decimals, is_initialized, freeze_authority_option, freeze_authority)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (mint) DO NOTHING`,
		mint.Address, mint.MintAuthorityOption, mint.MintAuthority, mint.Supply,
		mint.Decimals, mint.IsInitialized, mint.FreezeAuthorityOption, mint.FreezeAuthority,
	); err != nil {
		return fmt.Errorf("insert mint %s: %w", mint.Address, err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO memes (mint) VALUES ($1) ON CONFLICT (mint) DO NOTHING`,
		mint.Address,
	); err != nil {
		return fmt.Errorf("insert meme %s: %w", mint.Address, err)
	}
	return nil
}

func saveUserTx(ctx context.Context, tx pgx.Tx, user wealth.User) error {
	tokens, err := json.Marshal(user.Tokens)
	if err != nil {
		return fmt.Errorf("marshal tokens for %s: %w", user.Address, err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO users (address, wealth, tokens, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (address) DO UPDATE SET
			wealth = EXCLUDED.wealth,
			tokens = EXCLUDED.tokens,
			updated_at = now()`,
		user.Address, user.Wealth, tokens,
	); err != nil {
		return fmt.Errorf("upsert user %s: %w", user.Address, err)
	}
	return nil
}
