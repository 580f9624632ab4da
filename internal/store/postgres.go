package store

/*
Файл postgres.go отвечает за долговременное хранение версий политики.
Снимок политики лежит в JSONB, признак активности держится на таблице:
частичный уникальный индекс по active=true гарантирует единственность
активной версии на уровне базы.
*/

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
	"github.com/xela07ax/toolgate/internal/domain"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(connString string) *PostgresStore {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		// В main мы проверим соединение через Ping
		log.Fatal(err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &PostgresStore{db: db}
}

// Ping проверяет доступность базы при старте
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Publish(ctx context.Context, p domain.Policy) (*PolicyVersion, error) {
	snapshot, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to marshal policy: %w", err)
	}

	v := &PolicyVersion{
		ID:          NewVersionID(),
		Policy:      p,
		PublishedAt: time.Now().UTC(),
	}

	query := `
		INSERT INTO policy_versions (id, version, policy, active, published_at)
		VALUES ($1, (SELECT COALESCE(MAX(version), 0) + 1 FROM policy_versions), $2, false, $3)
		RETURNING version`

	if err := s.db.QueryRowContext(ctx, query, v.ID, snapshot, v.PublishedAt).Scan(&v.Version); err != nil {
		return nil, fmt.Errorf("postgres: failed to publish policy: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) Activate(ctx context.Context, id string) (*PolicyVersion, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	// Сначала гасим текущую активную, потом поднимаем новую
	if _, err := tx.ExecContext(ctx, `UPDATE policy_versions SET active = false WHERE active = true`); err != nil {
		return nil, fmt.Errorf("postgres: failed to deactivate: %w", err)
	}

	result, err := tx.ExecContext(ctx, `UPDATE policy_versions SET active = true WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to activate: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, ErrVersionNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("postgres: failed to commit: %w", err)
	}
	return s.getByID(ctx, id)
}

func (s *PostgresStore) GetActive(ctx context.Context) (*PolicyVersion, error) {
	query := `
		SELECT id, version, policy, active, published_at
		FROM policy_versions
		WHERE active = true
		LIMIT 1`

	v, err := scanVersion(s.db.QueryRowContext(ctx, query))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Активной версии нет, шлюз закроется сам
		}
		return nil, err
	}
	return v, nil
}

func (s *PostgresStore) ListVersions(ctx context.Context) ([]PolicyVersion, error) {
	query := `
		SELECT id, version, policy, active, published_at
		FROM policy_versions
		ORDER BY version DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []PolicyVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *v)
	}
	return results, rows.Err()
}

func (s *PostgresStore) getByID(ctx context.Context, id string) (*PolicyVersion, error) {
	query := `
		SELECT id, version, policy, active, published_at
		FROM policy_versions
		WHERE id = $1`

	v, err := scanVersion(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrVersionNotFound
		}
		return nil, err
	}
	return v, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanVersion(row rowScanner) (*PolicyVersion, error) {
	var v PolicyVersion
	var snapshot []byte
	if err := row.Scan(&v.ID, &v.Version, &snapshot, &v.Active, &v.PublishedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(snapshot, &v.Policy); err != nil {
		return nil, fmt.Errorf("postgres: corrupted policy snapshot %s: %w", v.ID, err)
	}
	return &v, nil
}
