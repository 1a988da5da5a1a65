package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tally/internal/core"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db *sql.DB
}

var _ Repository = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time keeps SQLite from returning SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping checks the database connection; used by readiness probes.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// SaveTx implements Repository
func (r *SQLiteRepository) SaveTx(ctx context.Context, tx core.Tx) (core.Tx, error) {
	if err := tx.Validate(); err != nil {
		return core.Tx{}, err
	}
	saved := assignKeys(tx)

	dbtx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Tx{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer dbtx.Rollback()

	var posted, external any
	if saved.PostedAt != nil {
		posted = saved.PostedAt.Format(time.RFC3339Nano)
	}
	if saved.ExternalID != "" {
		external = saved.ExternalID
	}
	_, err = dbtx.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, amount_cents, name, authorized_at, authorized_unix, posted_at, external_id, recurring)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			user_id = excluded.user_id,
			amount_cents = excluded.amount_cents,
			name = excluded.name,
			authorized_at = excluded.authorized_at,
			authorized_unix = excluded.authorized_unix,
			posted_at = excluded.posted_at,
			external_id = excluded.external_id,
			recurring = excluded.recurring,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`,
		saved.ID(), saved.UserID, core.ToCents(saved.Amount), saved.Name,
		saved.AuthorizedAt.Format(time.RFC3339Nano), saved.AuthorizedAt.UnixNano(),
		posted, external, saved.Recurring)
	if err != nil {
		return core.Tx{}, fmt.Errorf("upsert transaction: %w", err)
	}

	if _, err := dbtx.ExecContext(ctx, `DELETE FROM categories WHERE split_id IN (SELECT id FROM splits WHERE tx_id = ?)`, saved.ID()); err != nil {
		return core.Tx{}, fmt.Errorf("clear categories: %w", err)
	}
	if _, err := dbtx.ExecContext(ctx, `DELETE FROM splits WHERE tx_id = ?`, saved.ID()); err != nil {
		return core.Tx{}, fmt.Errorf("clear splits: %w", err)
	}

	for i, s := range saved.Splits {
		splitID, _ := s.Key.ID()
		if _, err := dbtx.ExecContext(ctx,
			`INSERT INTO splits (id, tx_id, user_id, position) VALUES (?, ?, ?, ?)`,
			splitID, saved.ID(), s.UserID, i); err != nil {
			return core.Tx{}, fmt.Errorf("insert split: %w", err)
		}
		for j, c := range s.Cats {
			catID, _ := c.Key.ID()
			path, err := json.Marshal(c.NamePath)
			if err != nil {
				return core.Tx{}, fmt.Errorf("encode category path: %w", err)
			}
			if _, err := dbtx.ExecContext(ctx,
				`INSERT INTO categories (id, split_id, name, name_path, amount_cents, position) VALUES (?, ?, ?, ?, ?, ?)`,
				catID, splitID, c.Name, string(path), core.ToCents(c.Amount), j); err != nil {
				return core.Tx{}, fmt.Errorf("insert category: %w", err)
			}
		}
	}

	if err := dbtx.Commit(); err != nil {
		return core.Tx{}, fmt.Errorf("commit transaction: %w", err)
	}

	slog.InfoContext(ctx, "Transaction saved to SQLite",
		"id", saved.ID(),
		"user_id", saved.UserID,
		"amount_cents", core.ToCents(saved.Amount),
		"splits", len(saved.Splits))

	return saved, nil
}

const txColumns = `id, user_id, amount_cents, name, authorized_at, posted_at, external_id, recurring`

// GetTx implements Repository
func (r *SQLiteRepository) GetTx(ctx context.Context, id string) (core.Tx, error) {
	txs, err := r.queryTxs(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = ?`, id)
	if err != nil {
		return core.Tx{}, fmt.Errorf("get transaction by id: %w", err)
	}
	if len(txs) == 0 {
		return core.Tx{}, ErrNotFound
	}
	return txs[0], nil
}

// GetByExternalID implements Repository
func (r *SQLiteRepository) GetByExternalID(ctx context.Context, userID, externalID string) (core.Tx, error) {
	txs, err := r.queryTxs(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE user_id = ? AND external_id = ?`, userID, externalID)
	if err != nil {
		return core.Tx{}, fmt.Errorf("get transaction by external id: %w", err)
	}
	if len(txs) == 0 {
		return core.Tx{}, ErrNotFound
	}
	return txs[0], nil
}

// ListTxByUser implements Repository
func (r *SQLiteRepository) ListTxByUser(ctx context.Context, userID string) ([]core.Tx, error) {
	txs, err := r.queryTxs(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE user_id = ? OR id IN (SELECT tx_id FROM splits WHERE user_id = ?)
		ORDER BY authorized_unix DESC, id ASC`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("list transactions for user %s: %w", userID, err)
	}
	return txs, nil
}

// DeleteTx implements Repository
func (r *SQLiteRepository) DeleteTx(ctx context.Context, id string) error {
	return r.deleteWhere(ctx, `id = ?`, id)
}

// DeleteByExternalID implements Repository
func (r *SQLiteRepository) DeleteByExternalID(ctx context.Context, userID, externalID string) error {
	return r.deleteWhere(ctx, `user_id = ? AND external_id = ?`, userID, externalID)
}

func (r *SQLiteRepository) deleteWhere(ctx context.Context, where string, args ...any) error {
	dbtx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer dbtx.Rollback()

	sub := `SELECT id FROM transactions WHERE ` + where
	if _, err := dbtx.ExecContext(ctx,
		`DELETE FROM categories WHERE split_id IN (SELECT id FROM splits WHERE tx_id IN (`+sub+`))`, args...); err != nil {
		return fmt.Errorf("delete categories: %w", err)
	}
	if _, err := dbtx.ExecContext(ctx, `DELETE FROM splits WHERE tx_id IN (`+sub+`)`, args...); err != nil {
		return fmt.Errorf("delete splits: %w", err)
	}
	res, err := dbtx.ExecContext(ctx, `DELETE FROM transactions WHERE `+where, args...)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	if err := dbtx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	slog.InfoContext(ctx, "Transaction deleted from SQLite", "rows", n)
	return nil
}

func (r *SQLiteRepository) queryTxs(ctx context.Context, query string, args ...any) ([]core.Tx, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := make([]core.Tx, 0)
	index := make(map[string]int)
	for rows.Next() {
		var (
			tx                    core.Tx
			id, authorized        string
			amountCents           int64
			posted, external      sql.NullString
			recurring             bool
		)
		if err := rows.Scan(&id, &tx.UserID, &amountCents, &tx.Name, &authorized, &posted, &external, &recurring); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		tx.Key = core.PersistedKey(id)
		tx.Amount = core.FromCents(amountCents)
		tx.Recurring = recurring
		if tx.AuthorizedAt, err = time.Parse(time.RFC3339Nano, authorized); err != nil {
			return nil, fmt.Errorf("parse authorized_at %q: %w", authorized, err)
		}
		if posted.Valid {
			p, err := time.Parse(time.RFC3339Nano, posted.String)
			if err != nil {
				return nil, fmt.Errorf("parse posted_at %q: %w", posted.String, err)
			}
			tx.PostedAt = &p
		}
		tx.ExternalID = external.String
		tx.Splits = []core.Split{}
		index[id] = len(txs)
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return txs, nil
	}

	ids := make([]any, 0, len(txs))
	for _, tx := range txs {
		ids = append(ids, tx.ID())
	}
	if err := r.loadSplits(ctx, txs, index, ids); err != nil {
		return nil, err
	}
	return txs, nil
}

func (r *SQLiteRepository) loadSplits(ctx context.Context, txs []core.Tx, index map[string]int, ids []any) error {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.tx_id, s.id, s.user_id, c.id, c.name, c.name_path, c.amount_cents
		FROM splits s
		LEFT JOIN categories c ON c.split_id = s.id
		WHERE s.tx_id IN (`+placeholders+`)
		ORDER BY s.tx_id, s.position, c.position`, ids...)
	if err != nil {
		return fmt.Errorf("query splits: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			txID, splitID, userID string
			catID, name, path     sql.NullString
			amountCents           sql.NullInt64
		)
		if err := rows.Scan(&txID, &splitID, &userID, &catID, &name, &path, &amountCents); err != nil {
			return fmt.Errorf("scan split: %w", err)
		}
		i, ok := index[txID]
		if !ok {
			continue
		}
		tx := &txs[i]
		n := len(tx.Splits)
		if n == 0 || tx.Splits[n-1].Key.String() != splitID {
			tx.Splits = append(tx.Splits, core.Split{Key: core.PersistedKey(splitID), UserID: userID, Cats: []core.Cat{}})
			n++
		}
		if !catID.Valid {
			continue
		}
		var namePath []string
		if err := json.Unmarshal([]byte(path.String), &namePath); err != nil {
			return fmt.Errorf("decode category path %q: %w", path.String, err)
		}
		tx.Splits[n-1].Cats = append(tx.Splits[n-1].Cats, core.Cat{
			Key:      core.PersistedKey(catID.String),
			Name:     name.String,
			NamePath: namePath,
			Amount:   core.FromCents(amountCents.Int64),
		})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate splits: %w", err)
	}
	return nil
}

// IsNotFound reports whether err means the transaction does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, sql.ErrNoRows)
}
