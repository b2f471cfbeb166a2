package sqlite

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ecashapp/satchel/ledger"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrations embed.FS

type SQLiteDB struct {
	db *sql.DB
}

func InitSQLite(path string) (*SQLiteDB, error) {
	dbpath := filepath.Join(path, "ledger.sqlite.db")
	db, err := sql.Open("sqlite3", dbpath)
	if err != nil {
		return nil, err
	}

	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return nil, err
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, fmt.Sprintf("sqlite3://%s", dbpath))
	if err != nil {
		return nil, err
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &SQLiteDB{db: db}, nil
}

func (sqlite *SQLiteDB) Close() {
	sqlite.db.Close()
}

func (sqlite *SQLiteDB) SaveUser(pubkey string) (ledger.User, error) {
	result, err := sqlite.db.Exec("INSERT INTO users (pubkey) VALUES (?)", pubkey)
	if err != nil {
		return ledger.User{}, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return ledger.User{}, err
	}

	return ledger.User{Id: id, Pubkey: pubkey}, nil
}

func (sqlite *SQLiteDB) GetUserByPubkey(pubkey string) (ledger.User, error) {
	var user ledger.User
	row := sqlite.db.QueryRow("SELECT id, pubkey FROM users WHERE pubkey = ?", pubkey)
	err := row.Scan(&user.Id, &user.Pubkey)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.User{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.User{}, err
	}
	return user, nil
}

func (sqlite *SQLiteDB) SaveKeyset(keyset ledger.Keyset) error {
	_, err := sqlite.db.Exec(`
		INSERT INTO keysets (id, mint_url, unit, keys) VALUES (?, ?, ?, ?)
	`, keyset.Id, keyset.MintURL, keyset.Unit, strings.Join(keyset.Keys, ","))

	return err
}

func (sqlite *SQLiteDB) GetKeyset(id string) (ledger.Keyset, error) {
	var keyset ledger.Keyset
	var keys string

	row := sqlite.db.QueryRow("SELECT id, mint_url, unit, keys FROM keysets WHERE id = ?", id)
	err := row.Scan(&keyset.Id, &keyset.MintURL, &keyset.Unit, &keys)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Keyset{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Keyset{}, err
	}

	keyset.Keys = strings.Split(keys, ",")
	return keyset, nil
}

func (sqlite *SQLiteDB) SaveMintQuote(quote ledger.MintQuote) error {
	createdAt := quote.CreatedAt
	if createdAt == 0 {
		createdAt = time.Now().Unix()
	}

	_, err := sqlite.db.Exec(`
		INSERT INTO mint_quotes (id, pubkey, amount, keyset_id, paid, expiry, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, quote.Id, quote.Pubkey, quote.Amount, quote.KeysetId, quote.Paid, quote.Expiry, createdAt)

	return err
}

func (sqlite *SQLiteDB) GetMintQuote(id string) (ledger.MintQuote, error) {
	var quote ledger.MintQuote
	row := sqlite.db.QueryRow(`
		SELECT id, pubkey, amount, keyset_id, paid, expiry, created_at
		FROM mint_quotes WHERE id = ?
	`, id)

	err := row.Scan(
		&quote.Id,
		&quote.Pubkey,
		&quote.Amount,
		&quote.KeysetId,
		&quote.Paid,
		&quote.Expiry,
		&quote.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.MintQuote{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.MintQuote{}, err
	}

	return quote, nil
}

func (sqlite *SQLiteDB) GetPendingMintQuotes() ([]ledger.MintQuote, error) {
	quotes := []ledger.MintQuote{}

	rows, err := sqlite.db.Query(`
		SELECT id, pubkey, amount, keyset_id, paid, expiry, created_at
		FROM mint_quotes WHERE paid = FALSE AND expiry > ?
	`, time.Now().Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var quote ledger.MintQuote
		err := rows.Scan(
			&quote.Id,
			&quote.Pubkey,
			&quote.Amount,
			&quote.KeysetId,
			&quote.Paid,
			&quote.Expiry,
			&quote.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, quote)
	}

	return quotes, rows.Err()
}

func (sqlite *SQLiteDB) MarkMintQuotePaid(id string) error {
	result, err := sqlite.db.Exec("UPDATE mint_quotes SET paid = TRUE WHERE id = ?", id)
	if err != nil {
		return err
	}

	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count != 1 {
		return errors.New("mint quote was not updated")
	}
	return nil
}

func (sqlite *SQLiteDB) SaveProofs(proofs []ledger.Proof) error {
	tx, err := sqlite.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT INTO proofs (secret, amount, c, keyset_id, user_id) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, proof := range proofs {
		if _, err := stmt.Exec(proof.Secret, proof.Amount, proof.C, proof.KeysetId, proof.UserId); err != nil {
			var sqliteErr sqlite3.Error
			if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
				return ledger.ErrDuplicateProof
			}
			if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
				return ledger.ErrDuplicateProof
			}
			return err
		}
	}

	return tx.Commit()
}

func (sqlite *SQLiteDB) GetProofsByUser(userId int64) ([]ledger.Proof, error) {
	proofs := []ledger.Proof{}

	rows, err := sqlite.db.Query(`
		SELECT secret, amount, c, keyset_id, user_id FROM proofs WHERE user_id = ?
	`, userId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var proof ledger.Proof
		err := rows.Scan(&proof.Secret, &proof.Amount, &proof.C, &proof.KeysetId, &proof.UserId)
		if err != nil {
			return nil, err
		}
		proofs = append(proofs, proof)
	}

	return proofs, rows.Err()
}
