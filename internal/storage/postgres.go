package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"

	"voxscribe/pkg/logger"
	"voxscribe/pkg/model"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

var (
	ErrTaskNotFound       = errors.New("task not found")
	ErrTranscriptNotFound = errors.New("transcript not found")
)

// PostgresStorage is the job journal: one tasks row per admitted voice
// message and one transcripts row per delivered result.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage connects to databaseURL and applies the migrations found
// in migrationsDir.
func NewPostgresStorage(ctx context.Context, databaseURL, migrationsDir string) (*PostgresStorage, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid database URL: %w", err)
	}

	// Migrations run on a dedicated database/sql handle before the pool opens.
	if err := runMigrations(poolCfg.ConnConfig, migrationsDir); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	return &PostgresStorage{pool: pool}, nil
}

func runMigrations(connConfig *pgx.ConnConfig, migrationsDir string) error {
	sourceURL, err := migrationsURL(migrationsDir)
	if err != nil {
		return err
	}

	logger.Info("Running migrations", zap.String("path", sourceURL))

	db := stdlib.OpenDB(*connConfig)
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to open migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(sourceURL, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Info("Journal schema ready", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

// migrationsURL turns a directory into a file:// source URL, with forward
// slashes on every OS.
func migrationsURL(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to get migrations path: %w", err)
	}
	u := &url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return u.String(), nil
}

func (s *PostgresStorage) Close() {
	s.pool.Close()
}

const (
	taskColumns       = "id, telegram_message_id, chat_id, user_id, file_id, status, error_text, meta, created_at, updated_at"
	transcriptColumns = "id, task_id, text, failed, created_at"
)

func (s *PostgresStorage) CreateTask(ctx context.Context, task *model.Task) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tasks (`+taskColumns+`)
		 VALUES (@id, @message_id, @chat_id, @user_id, @file_id, @status, @error_text, @meta, @created_at, @updated_at)`,
		pgx.NamedArgs{
			"id":         task.ID,
			"message_id": task.TelegramMessageID,
			"chat_id":    task.ChatID,
			"user_id":    task.UserID,
			"file_id":    task.FileID,
			"status":     task.Status,
			"error_text": task.ErrorText,
			"meta":       task.Meta,
			"created_at": task.CreatedAt,
			"updated_at": task.UpdatedAt,
		})
	if err != nil {
		return fmt.Errorf("failed to insert task %s: %w", task.ID, err)
	}
	return nil
}

func (s *PostgresStorage) GetTaskByID(ctx context.Context, id string) (*model.Task, error) {
	rows, _ := s.pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	task, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[model.Task])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task %s: %w", id, err)
	}
	return task, nil
}

// UpdateTask persists status, error text and meta. ErrTaskNotFound when no
// row has the task's ID.
func (s *PostgresStorage) UpdateTask(ctx context.Context, task *model.Task) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks
		 SET status = @status, error_text = @error_text, meta = @meta, updated_at = @updated_at
		 WHERE id = @id`,
		pgx.NamedArgs{
			"id":         task.ID,
			"status":     task.Status,
			"error_text": task.ErrorText,
			"meta":       task.Meta,
			"updated_at": task.UpdatedAt,
		})
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", task.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (s *PostgresStorage) CreateTranscript(ctx context.Context, transcript *model.Transcript) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transcripts (`+transcriptColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		transcript.ID, transcript.TaskID, transcript.Text, transcript.Failed, transcript.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert transcript for task %s: %w", transcript.TaskID, err)
	}
	return nil
}

func (s *PostgresStorage) GetTranscriptByTaskID(ctx context.Context, taskID string) (*model.Transcript, error) {
	rows, _ := s.pool.Query(ctx, `SELECT `+transcriptColumns+` FROM transcripts WHERE task_id = $1`, taskID)
	transcript, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[model.Transcript])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTranscriptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transcript for task %s: %w", taskID, err)
	}
	return transcript, nil
}
