package documents

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/offlinekit/docstore/internal/common"
	"github.com/offlinekit/docstore/internal/dbx"
	"github.com/offlinekit/docstore/internal/document"
)

// PostgresRepository persists documents and the change log in Postgres.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) (*PostgresRepository, error) {
	return &PostgresRepository{db: db}, nil
}

func (r *PostgresRepository) Get(ctx context.Context, collection, id string) (*Row, error) {
	query := `SELECT rev, version, deleted, updated_at, body
		FROM documents WHERE collection = $1 AND id = $2`

	row := &Row{ID: id}
	var body []byte

	err := r.db.QueryRowContext(ctx, query, collection, id).
		Scan(&row.Rev, &row.Version, &row.Deleted, &row.UpdatedAt, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &common.NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}

	if err := json.Unmarshal(body, &row.Body); err != nil {
		return nil, fmt.Errorf("failed to decode document body: %w", err)
	}
	return row, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, collection string, row *Row, baseRev string, force bool) (int64, error) {
	body, err := json.Marshal(row.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to encode document body: %w", err)
	}

	var seq int64

	err = dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var res sql.Result
		var err error

		switch {
		case force:
			res, err = tx.ExecContext(ctx,
				`INSERT INTO documents (collection, id, rev, version, deleted, updated_at, body)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (collection, id) DO UPDATE
				SET rev = $3, version = $4, deleted = $5, updated_at = $6, body = $7`,
				collection, row.ID, row.Rev, row.Version, row.Deleted, row.UpdatedAt, body)
		case baseRev == "":
			res, err = tx.ExecContext(ctx,
				`INSERT INTO documents (collection, id, rev, version, deleted, updated_at, body)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (collection, id) DO NOTHING`,
				collection, row.ID, row.Rev, row.Version, row.Deleted, row.UpdatedAt, body)
		default:
			res, err = tx.ExecContext(ctx,
				`UPDATE documents
				SET rev = $3, version = $4, deleted = $5, updated_at = $6, body = $7
				WHERE collection = $1 AND id = $2 AND rev = $8`,
				collection, row.ID, row.Rev, row.Version, row.Deleted, row.UpdatedAt, body, baseRev)
		}
		if err != nil {
			return fmt.Errorf("failed to write document: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("document %s: %w", row.ID, common.ErrConflict)
		}

		seq, err = appendChange(ctx, tx, collection, row.ID, row.Rev, row.Deleted)
		return err
	})
	if err != nil {
		return 0, err
	}
	return seq, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, collection, id, rev string) (int64, error) {
	var seq int64

	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var storedRev string
		err := tx.QueryRowContext(ctx,
			`SELECT rev FROM documents WHERE collection = $1 AND id = $2`,
			collection, id).Scan(&storedRev)
		if errors.Is(err, sql.ErrNoRows) {
			return &common.NotFoundError{ID: id}
		}
		if err != nil {
			return fmt.Errorf("failed to load document: %w", err)
		}
		if storedRev != rev {
			return fmt.Errorf("document %s: %w", id, common.ErrConflict)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM documents WHERE collection = $1 AND id = $2`,
			collection, id); err != nil {
			return fmt.Errorf("failed to delete document: %w", err)
		}

		seq, err = appendChange(ctx, tx, collection, id, rev, true)
		return err
	})
	if err != nil {
		return 0, err
	}
	return seq, nil
}

func (r *PostgresRepository) List(ctx context.Context, collection string) ([]document.Document, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT body FROM documents WHERE collection = $1 ORDER BY id`, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []document.Document
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var doc document.Document
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode document body: %w", err)
		}
		docs = append(docs, doc.NormalizeTimes())
	}
	return docs, rows.Err()
}

func (r *PostgresRepository) Changes(ctx context.Context, collection string, since int64, limit int) ([]document.Change, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT c.seq, c.id, c.rev, c.deleted, d.body
		FROM changes c
		LEFT JOIN documents d ON d.collection = c.collection AND d.id = c.id
		WHERE c.collection = $1 AND c.seq > $2
		ORDER BY c.seq
		LIMIT $3`,
		collection, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read change log: %w", err)
	}
	defer rows.Close()

	var changes []document.Change
	for rows.Next() {
		var ch document.Change
		var body []byte
		if err := rows.Scan(&ch.Seq, &ch.ID, &ch.Rev, &ch.Deleted, &body); err != nil {
			return nil, err
		}
		if body != nil {
			if err := json.Unmarshal(body, &ch.Doc); err != nil {
				return nil, fmt.Errorf("failed to decode document body: %w", err)
			}
			ch.Doc.NormalizeTimes()
		}
		changes = append(changes, ch)
	}
	return changes, rows.Err()
}

// appendChange compacts the change log to one entry per document and records
// the new revision, returning the assigned sequence number.
func appendChange(ctx context.Context, tx dbx.DBTX, collection, id, rev string, deleted bool) (int64, error) {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM changes WHERE collection = $1 AND id = $2`,
		collection, id); err != nil {
		return 0, fmt.Errorf("failed to compact change log: %w", err)
	}

	var seq int64
	err := tx.QueryRowContext(ctx,
		`INSERT INTO changes (collection, id, rev, deleted)
		VALUES ($1, $2, $3, $4) RETURNING seq`,
		collection, id, rev, deleted).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to append change log: %w", err)
	}
	return seq, nil
}
