package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/uptrace/bun"

	"github.com/akinalp/hearth/config"
	"github.com/akinalp/hearth/database"
	"github.com/akinalp/hearth/repository"
)

// Repositories groups the durable stores. Both backends fill every field.
type Repositories struct {
	Message      repository.MessageRepository
	Reaction     repository.ReactionRepository
	Notification repository.NotificationRepository
	Membership   repository.MembershipRepository
}

func initSQLiteRepositories(conn *sql.DB) *Repositories {
	return &Repositories{
		Message:      repository.NewSQLiteMessageRepo(conn),
		Reaction:     repository.NewSQLiteReactionRepo(conn),
		Notification: repository.NewSQLiteNotificationRepo(conn),
		Membership:   repository.NewSQLiteMembershipRepo(conn),
	}
}

func initPostgresRepositories(db *bun.DB) *Repositories {
	return &Repositories{
		Message:      repository.NewPostgresMessageRepo(db),
		Reaction:     repository.NewPostgresReactionRepo(db),
		Notification: repository.NewPostgresNotificationRepo(db),
		Membership:   repository.NewPostgresMembershipRepo(db),
	}
}

// openStore opens the configured backend, applies its migrations and returns
// the repositories together with a func that closes the pool.
func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*Repositories, func() error, error) {
	switch cfg.Driver {
	case "postgres":
		db, err := database.OpenPostgres(ctx, cfg.URL, database.PostgresMigrations(), logger)
		if err != nil {
			return nil, nil, err
		}
		return initPostgresRepositories(db), db.Close, nil
	case "sqlite", "":
		db, err := database.New(cfg.Path, database.SQLiteMigrations(), logger)
		if err != nil {
			return nil, nil, err
		}
		return initSQLiteRepositories(db.Conn), db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
