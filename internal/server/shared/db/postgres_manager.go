package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/offlinekit/docstore/internal/server/documents"
	"github.com/offlinekit/docstore/internal/server/migrations"
)

type PostgresRepositoryManager struct {
	db        *sql.DB
	documents documents.Repository
}

func (m *PostgresRepositoryManager) Documents() documents.Repository {
	return m.documents
}

func (m *PostgresRepositoryManager) Close() error {
	return m.db.Close()
}

func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	if err := goose.UpContext(ctx, m.db, "."); err != nil {
		return err
	}

	return nil
}

func NewPostgresRepositoryManager(dsn string) (RepositoryManager, error) {

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	docs, err := documents.NewPostgresRepository(db)
	if err != nil {
		return nil, fmt.Errorf("document repo creation error: %w", err)
	}

	m := &PostgresRepositoryManager{
		db:        db,
		documents: docs,
	}

	err = m.RunMigrations(context.Background())
	if err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	return m, nil
}
