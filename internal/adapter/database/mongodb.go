package database

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"veriback/internal/domain"
)

// Mongo captures through mongodump archives and inspects through
// mongosh, parsing its JSON output. A unit is a collection; its
// structural signature is the field set of a sample document with the
// shell-reported type of each field.
type Mongo struct {
	name string
	ep   domain.Endpoint
}

func NewMongo(name string, ep domain.Endpoint) *Mongo {
	return &Mongo{name: name, ep: ep}
}

func (m *Mongo) Capture(ctx context.Context, outputPath string, mode domain.CaptureMode) error {
	if mode == domain.CaptureSchemaOnly {
		return fmt.Errorf("mongodb does not support schema-only capture")
	}

	cmd := exec.CommandContext(ctx, "mongodump",
		fmt.Sprintf("--uri=%s", m.ep.MongoURI()),
		fmt.Sprintf("--archive=%s", outputPath),
		"--gzip",
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("mongodump failed: %w, output: %s", err, string(output))
	}
	return nil
}

// Restore replays an archive into the verification namespace. The
// archive embeds the namespaces it was dumped from, so the remap source
// is the endpoint's logical database: the handle must be bound to the
// same database name the capture ran against.
func (m *Mongo) Restore(ctx context.Context, artifactPath, namespace string) error {
	cmd := exec.CommandContext(ctx, "mongorestore",
		fmt.Sprintf("--uri=%s", m.ep.MongoURI()),
		fmt.Sprintf("--archive=%s", artifactPath),
		"--gzip",
		fmt.Sprintf("--nsFrom=%s.*", m.ep.Database),
		fmt.Sprintf("--nsTo=%s.*", namespace),
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("mongorestore failed: %w, output: %s", err, string(output))
	}
	return nil
}

func (m *Mongo) DropNamespace(ctx context.Context, namespace string) error {
	script := fmt.Sprintf("db.getSiblingDB(%q).dropDatabase()", namespace)
	if _, err := m.eval(ctx, script); err != nil {
		return fmt.Errorf("drop namespace %s: %w", namespace, err)
	}
	return nil
}

func (m *Mongo) Exec(ctx context.Context, scriptPath string) error {
	cmd := exec.CommandContext(ctx, "mongosh", m.ep.MongoURI(), "--quiet", scriptPath)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("mongosh script failed: %w, output: %s", err, string(output))
	}
	return nil
}

func (m *Mongo) Ping(ctx context.Context) error {
	if _, err := m.eval(ctx, "db.runCommand({ ping: 1 }).ok"); err != nil {
		return fmt.Errorf("mongodb ping failed: %w", err)
	}
	return nil
}

func (m *Mongo) IsReady(ctx context.Context) bool {
	return m.Ping(ctx) == nil
}

func (m *Mongo) ListUnits(ctx context.Context) ([]string, error) {
	out, err := m.eval(ctx, "JSON.stringify(db.getCollectionNames().sort())")
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}

	var units []string
	if err := json.Unmarshal([]byte(out), &units); err != nil {
		return nil, fmt.Errorf("parse collection names: %w", err)
	}
	return units, nil
}

func (m *Mongo) UnitSignature(ctx context.Context, unit string) (domain.Signature, error) {
	script := fmt.Sprintf(
		`JSON.stringify(Object.entries(db.getCollection(%q).findOne() || {}).map(([k, v]) => [k, typeof v]).sort())`,
		unit)
	out, err := m.eval(ctx, script)
	if err != nil {
		return nil, fmt.Errorf("sample document for %s: %w", unit, err)
	}

	var fields [][2]string
	if err := json.Unmarshal([]byte(out), &fields); err != nil {
		return nil, fmt.Errorf("parse field signature for %s: %w", unit, err)
	}

	sig := make(domain.Signature, 0, len(fields))
	for _, f := range fields {
		sig = append(sig, domain.ColumnDescriptor{
			Name:     f[0],
			DataType: f[1],
			Nullable: true,
		})
	}
	return sig, nil
}

func (m *Mongo) CountRows(ctx context.Context, unit string) (int64, error) {
	script := fmt.Sprintf("db.getCollection(%q).countDocuments()", unit)
	out, err := m.eval(ctx, script)
	if err != nil {
		return 0, fmt.Errorf("count documents in %s: %w", unit, err)
	}

	count, err := strconv.ParseInt(strings.TrimSpace(out), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse document count for %s: %w", unit, err)
	}
	return count, nil
}

func (m *Mongo) GetName() string { return m.name }
func (m *Mongo) GetType() string { return "mongodb" }

// Close is a no-op: every operation shells out, nothing is pooled.
func (m *Mongo) Close() error { return nil }

func (m *Mongo) eval(ctx context.Context, script string) (string, error) {
	cmd := exec.CommandContext(ctx, "mongosh", m.ep.MongoURI(), "--quiet", "--eval", script)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("mongosh failed: %w, output: %s", err, string(output))
	}
	return strings.TrimSpace(string(output)), nil
}
