package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/exec"
	"strings"

	_ "github.com/go-sql-driver/mysql"

	"veriback/internal/domain"
)

// MySQL captures through mysqldump and inspects through the
// go-sql-driver against information_schema. A verification namespace
// is a separate schema on the target instance.
type MySQL struct {
	name string
	ep   domain.Endpoint
	db   *sql.DB
}

func NewMySQL(name string, ep domain.Endpoint) (*MySQL, error) {
	db, err := sql.Open("mysql", ep.MySQLDSN())
	if err != nil {
		return nil, fmt.Errorf("open mysql connection: %w", err)
	}
	return &MySQL{name: name, ep: ep, db: db}, nil
}

func (m *MySQL) Capture(ctx context.Context, outputPath string, mode domain.CaptureMode) error {
	args := []string{
		fmt.Sprintf("--host=%s", m.ep.Host),
		fmt.Sprintf("--port=%d", m.ep.Port),
		fmt.Sprintf("--user=%s", m.ep.Username),
		fmt.Sprintf("--password=%s", m.ep.Password),
		"--single-transaction",
		"--quick",
		"--lock-tables=false",
		"--routines",
		"--triggers",
	}
	switch mode {
	case domain.CaptureSchemaOnly:
		args = append(args, "--no-data")
	case domain.CaptureDataOnly:
		args = append(args, "--no-create-info")
	}
	args = append(args, fmt.Sprintf("--result-file=%s", outputPath), m.ep.Database)

	cmd := exec.CommandContext(ctx, "mysqldump", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("mysqldump failed: %w, output: %s", err, string(output))
	}
	return nil
}

func (m *MySQL) Restore(ctx context.Context, artifactPath, namespace string) error {
	if err := m.execStmt(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", quoteMySQL(namespace))); err != nil {
		return fmt.Errorf("create namespace %s: %w", namespace, err)
	}

	dump, err := os.Open(artifactPath)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer dump.Close()

	cmd := exec.CommandContext(ctx, "mysql",
		fmt.Sprintf("--host=%s", m.ep.Host),
		fmt.Sprintf("--port=%d", m.ep.Port),
		fmt.Sprintf("--user=%s", m.ep.Username),
		fmt.Sprintf("--password=%s", m.ep.Password),
		namespace,
	)
	cmd.Stdin = dump

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("mysql restore failed: %w, output: %s", err, string(output))
	}
	return nil
}

func (m *MySQL) DropNamespace(ctx context.Context, namespace string) error {
	return m.execStmt(ctx, fmt.Sprintf("DROP DATABASE IF EXISTS %s", quoteMySQL(namespace)))
}

func (m *MySQL) Exec(ctx context.Context, scriptPath string) error {
	script, err := os.Open(scriptPath)
	if err != nil {
		return fmt.Errorf("open script: %w", err)
	}
	defer script.Close()

	cmd := exec.CommandContext(ctx, "mysql",
		fmt.Sprintf("--host=%s", m.ep.Host),
		fmt.Sprintf("--port=%d", m.ep.Port),
		fmt.Sprintf("--user=%s", m.ep.Username),
		fmt.Sprintf("--password=%s", m.ep.Password),
		m.ep.Database,
	)
	cmd.Stdin = script

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("mysql script failed: %w, output: %s", err, string(output))
	}
	return nil
}

func (m *MySQL) execStmt(ctx context.Context, stmt string) error {
	cmd := exec.CommandContext(ctx, "mysql",
		fmt.Sprintf("--host=%s", m.ep.Host),
		fmt.Sprintf("--port=%d", m.ep.Port),
		fmt.Sprintf("--user=%s", m.ep.Username),
		fmt.Sprintf("--password=%s", m.ep.Password),
		"-e", stmt,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("mysql failed: %w, output: %s", err, string(output))
	}
	return nil
}

func (m *MySQL) Ping(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("mysql ping failed: %w", err)
	}
	return nil
}

func (m *MySQL) IsReady(ctx context.Context) bool {
	return m.db.PingContext(ctx) == nil
}

func (m *MySQL) ListUnits(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME`, m.ep.Database)
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

func (m *MySQL) UnitSignature(ctx context.Context, unit string) (domain.Signature, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT COLUMN_NAME, COLUMN_TYPE, IS_NULLABLE, COALESCE(COLUMN_DEFAULT, '')
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`, m.ep.Database, unit)
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

func (m *MySQL) CountRows(ctx context.Context, unit string) (int64, error) {
	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteMySQL(unit))
	if err := m.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count rows in %s: %w", unit, err)
	}
	return count, nil
}

func (m *MySQL) GetName() string { return m.name }
func (m *MySQL) GetType() string { return "mysql" }

func (m *MySQL) Close() error { return m.db.Close() }

func quoteMySQL(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}
