package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/exec"

	"github.com/lib/pq"

	"veriback/internal/domain"
)

// Postgres captures and restores through the native pg_dump/pg_restore
// tooling and inspects schema and counts through lib/pq.
type Postgres struct {
	name string
	ep   domain.Endpoint
	db   *sql.DB
}

func NewPostgres(name string, ep domain.Endpoint) (*Postgres, error) {
	db, err := sql.Open("postgres", ep.PostgresDSN())
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	return &Postgres{name: name, ep: ep, db: db}, nil
}

func (p *Postgres) Capture(ctx context.Context, outputPath string, mode domain.CaptureMode) error {
	args := []string{
		fmt.Sprintf("--host=%s", p.ep.Host),
		fmt.Sprintf("--port=%d", p.ep.Port),
		fmt.Sprintf("--username=%s", p.ep.Username),
		"--format=custom",
		"--compress=9",
		fmt.Sprintf("--file=%s", outputPath),
	}
	switch mode {
	case domain.CaptureSchemaOnly:
		args = append(args, "--schema-only")
	case domain.CaptureDataOnly:
		args = append(args, "--data-only")
	}
	args = append(args, p.ep.Database)

	cmd := exec.CommandContext(ctx, "pg_dump", args...)
	cmd.Env = append(os.Environ(), "PGPASSWORD="+p.ep.Password)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("pg_dump failed: %w, output: %s", err, string(output))
	}
	return nil
}

func (p *Postgres) Restore(ctx context.Context, artifactPath, namespace string) error {
	if err := p.psql(ctx, "postgres", fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(namespace))); err != nil {
		return fmt.Errorf("create namespace %s: %w", namespace, err)
	}

	cmd := exec.CommandContext(ctx, "pg_restore",
		fmt.Sprintf("--host=%s", p.ep.Host),
		fmt.Sprintf("--port=%d", p.ep.Port),
		fmt.Sprintf("--username=%s", p.ep.Username),
		fmt.Sprintf("--dbname=%s", namespace),
		"--no-owner",
		"--no-privileges",
		artifactPath,
	)
	cmd.Env = append(os.Environ(), "PGPASSWORD="+p.ep.Password)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("pg_restore failed: %w, output: %s", err, string(output))
	}
	return nil
}

func (p *Postgres) DropNamespace(ctx context.Context, namespace string) error {
	return p.psql(ctx, "postgres",
		fmt.Sprintf("DROP DATABASE IF EXISTS %s WITH (FORCE)", pq.QuoteIdentifier(namespace)))
}

func (p *Postgres) Exec(ctx context.Context, scriptPath string) error {
	cmd := exec.CommandContext(ctx, "psql",
		fmt.Sprintf("--host=%s", p.ep.Host),
		fmt.Sprintf("--port=%d", p.ep.Port),
		fmt.Sprintf("--username=%s", p.ep.Username),
		fmt.Sprintf("--dbname=%s", p.ep.Database),
		"--set", "ON_ERROR_STOP=1",
		"-f", scriptPath,
	)
	cmd.Env = append(os.Environ(), "PGPASSWORD="+p.ep.Password)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("psql script failed: %w, output: %s", err, string(output))
	}
	return nil
}

func (p *Postgres) psql(ctx context.Context, dbname, stmt string) error {
	cmd := exec.CommandContext(ctx, "psql",
		fmt.Sprintf("--host=%s", p.ep.Host),
		fmt.Sprintf("--port=%d", p.ep.Port),
		fmt.Sprintf("--username=%s", p.ep.Username),
		fmt.Sprintf("--dbname=%s", dbname),
		"-c", stmt,
	)
	cmd.Env = append(os.Environ(), "PGPASSWORD="+p.ep.Password)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("psql failed: %w, output: %s", err, string(output))
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgresql ping failed: %w", err)
	}
	return nil
}

func (p *Postgres) IsReady(ctx context.Context) bool {
	cmd := exec.CommandContext(ctx, "pg_isready",
		fmt.Sprintf("--host=%s", p.ep.Host),
		fmt.Sprintf("--port=%d", p.ep.Port),
	)
	return cmd.Run() == nil
}

func (p *Postgres) ListUnits(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
		ORDER BY table_name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var units []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		units = append(units, name)
	}
	return units, rows.Err()
}

func (p *Postgres) UnitSignature(ctx context.Context, unit string) (domain.Signature, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT column_name, data_type, is_nullable, COALESCE(column_default, '')
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1
		ORDER BY ordinal_position`, unit)
	if err != nil {
		return nil, fmt.Errorf("query columns for %s: %w", unit, err)
	}
	defer rows.Close()

	var sig domain.Signature
	for rows.Next() {
		var col domain.ColumnDescriptor
		var nullable string
		if err := rows.Scan(&col.Name, &col.DataType, &nullable, &col.Default); err != nil {
			return nil, fmt.Errorf("scan column for %s: %w", unit, err)
		}
		col.Nullable = nullable == "YES"
		sig = append(sig, col)
	}
	return sig, rows.Err()
}

func (p *Postgres) CountRows(ctx context.Context, unit string) (int64, error) {
	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", pq.QuoteIdentifier(unit))
	if err := p.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count rows in %s: %w", unit, err)
	}
	return count, nil
}

func (p *Postgres) GetName() string { return p.name }
func (p *Postgres) GetType() string { return "postgresql" }

func (p *Postgres) Close() error { return p.db.Close() }
