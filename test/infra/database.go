package infra

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/jackc/pgx/v5"
)

const (
	localDatabase = "lostfound_stress"
	localRole     = "lostfound"
	localHost     = "127.0.0.1:5432"
)

var errNoLocalPostgres = errors.New("infra: no postgres listening on " + localHost)

// InitLocalDatabase drops and recreates the stress database on a local
// Postgres and returns a DSN owned by the lostfound role.
func InitLocalDatabase(ctx context.Context) (string, error) {
	if exec.CommandContext(ctx, "pg_isready", "-h", "127.0.0.1", "-p", "5432").Run() != nil {
		return "", errNoLocalPostgres
	}

	admin, err := connectAdmin(ctx)
	if err != nil {
		return "", err
	}
	defer admin.Close(ctx)

	steps := []struct {
		what string
		sql  string
		args []any
	}{
		{"create role", fmt.Sprintf(`DO $$ BEGIN CREATE ROLE %s WITH LOGIN PASSWORD '%s'; EXCEPTION WHEN duplicate_object THEN NULL; END $$;`, localRole, localRole), nil},
		{"disconnect sessions", `SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1 AND pid <> pg_backend_pid()`, []any{localDatabase}},
		{"drop database", "DROP DATABASE IF EXISTS " + pgx.Identifier{localDatabase}.Sanitize(), nil},
		{"create database", "CREATE DATABASE " + pgx.Identifier{localDatabase}.Sanitize() + " OWNER " + localRole, nil},
	}
	for _, s := range steps {
		if _, err := admin.Exec(ctx, s.sql, s.args...); err != nil {
			return "", fmt.Errorf("infra: %s: %w", s.what, err)
		}
	}

	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", localRole, localRole, localHost, localDatabase), nil
}

// connectAdmin tries the usual superuser logins of a developer machine.
func connectAdmin(ctx context.Context) (*pgx.Conn, error) {
	users := []string{"postgres", "postgres:postgres", os.Getenv("USER")}
	var errs []error
	for _, u := range users {
		if u == "" {
			continue
		}
		conn, err := pgx.Connect(ctx, fmt.Sprintf("postgres://%s@%s/postgres?sslmode=disable", u, localHost))
		if err == nil {
			return conn, nil
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("infra: connect as admin: %w", errors.Join(errs...))
}
