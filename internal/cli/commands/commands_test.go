package commands

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/cloner/internal/cli/config"
	"github.com/conduit-lang/cloner/internal/orm/schema"
	"github.com/conduit-lang/cloner/internal/web/auth"

	_ "github.com/mattn/go-sqlite3"
)

const articleSchema = `
resources:
  - name: Article
    fields:
      id: {type: uuid, annotations: [primary, auto]}
      title: {type: string}
    relationships:
      comments: {type: has_many, target: Comment}
    clone:
      relations: [comments]
  - name: Comment
    fields:
      id: {type: uuid, annotations: [primary, auto]}
      article_id: {type: uuid}
      body: {type: string}
`

type project struct {
	dir    string
	config string
	db     string
}

func setupProject(t *testing.T) *project {
	t.Helper()
	dir := t.TempDir()
	p := &project{
		dir:    dir,
		config: filepath.Join(dir, "cloner.yml"),
		db:     filepath.Join(dir, "app.db"),
	}

	require.NoError(t, os.WriteFile(filepath.Join(dir, "schema.yml"), []byte(articleSchema), 0o644))
	require.NoError(t, os.WriteFile(p.config, []byte(`
schema_file: schema.yml
datastores:
  primary:
    driver: sqlite3
    dsn: `+p.db+`
  scratch:
    driver: memory
`), 0o644))

	db, err := sql.Open("sqlite3", p.db)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`
CREATE TABLE articles (id TEXT PRIMARY KEY, title TEXT);
CREATE TABLE comments (id TEXT PRIMARY KEY, article_id TEXT NOT NULL, body TEXT);
INSERT INTO articles (id, title) VALUES ('a-1', 'Hello');
INSERT INTO comments (id, article_id, body) VALUES ('c-1', 'a-1', 'first');
`)
	require.NoError(t, err)
	return p
}

func (p *project) count(t *testing.T, table string) int {
	t.Helper()
	db, err := sql.Open("sqlite3", p.db)
	require.NoError(t, err)
	defer db.Close()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append(args, "--no-color"))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestNewRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "cloner", cmd.Use)

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.Subset(t, names, []string{"version", "duplicate", "serve", "schema", "init", "token"})

	for _, flag := range []string{"config", "verbose", "no-color"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), flag)
	}
}

func TestVersionCommand(t *testing.T) {
	Version = "1.2.3"
	defer func() { Version = "dev" }()

	out, _, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "cloner version: 1.2.3")
	assert.Contains(t, out, "Go version: go")
}

func TestDuplicateCommand_JSON(t *testing.T) {
	p := setupProject(t)

	out, _, err := run(t, "duplicate", "Article", "a-1", "--config", p.config, "--json")
	require.NoError(t, err)

	var clone struct {
		Resource   string                 `json:"resource"`
		ID         string                 `json:"id"`
		Datastore  string                 `json:"datastore"`
		Attributes map[string]interface{} `json:"attributes"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &clone))
	assert.Equal(t, "Article", clone.Resource)
	assert.NotEqual(t, "a-1", clone.ID)
	assert.Equal(t, "primary", clone.Datastore)
	assert.Equal(t, "Hello", clone.Attributes["title"])

	assert.Equal(t, 2, p.count(t, "articles"))
	assert.Equal(t, 2, p.count(t, "comments"))
}

func TestDuplicateCommand_Atomic(t *testing.T) {
	p := setupProject(t)

	out, _, err := run(t, "duplicate", "Article", "a-1", "--config", p.config, "--atomic")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Duplicated Article a-1")
	assert.Contains(t, out, "title: Hello")
	assert.Equal(t, 2, p.count(t, "articles"))
}

func TestDuplicateCommand_ToMemory(t *testing.T) {
	p := setupProject(t)

	_, _, err := run(t, "duplicate", "Article", "a-1", "--config", p.config, "--to", "scratch")
	require.NoError(t, err)
	assert.Equal(t, 1, p.count(t, "articles"))
}

func TestDuplicateCommand_Errors(t *testing.T) {
	p := setupProject(t)

	_, stderr, err := run(t, "duplicate", "Artcle", "a-1", "--config", p.config)
	require.Error(t, err)
	assert.Contains(t, stderr, "RESOURCE NOT FOUND: Artcle")
	assert.Contains(t, stderr, "Did you mean: Article?")

	_, stderr, err = run(t, "duplicate", "Article", "a-1", "--config", p.config, "--to", "scrach")
	require.Error(t, err)
	assert.Contains(t, stderr, "DATASTORE NOT FOUND: scrach")
	assert.Contains(t, stderr, "Did you mean: scratch?")

	_, _, err = run(t, "duplicate", "Article", "missing", "--config", p.config)
	assert.Error(t, err)

	_, _, err = run(t, "duplicate", "Article", "--config", p.config)
	assert.Error(t, err)

	assert.Equal(t, 1, p.count(t, "articles"))
}

func TestSchemaCheckCommand(t *testing.T) {
	p := setupProject(t)

	out, _, err := run(t, "schema", "check", "--config", p.config)
	require.NoError(t, err)
	assert.Contains(t, out, "RESOURCE")
	assert.Contains(t, out, "Article   comments   Comment")
	assert.Contains(t, out, "2 resources, no clone cycles")
}

func TestSchemaCheckCommand_Cycle(t *testing.T) {
	file := filepath.Join(t.TempDir(), "cyclic.yml")
	require.NoError(t, os.WriteFile(file, []byte(`
resources:
  - name: Node
    fields:
      id: {type: uuid, annotations: [primary]}
      parent_id: {type: uuid, nullable: true}
    relationships:
      children: {type: has_many, target: Node, foreign_key: parent_id}
    clone:
      relations: [children]
`), 0o644))

	_, _, err := run(t, "schema", "check", "--file", file)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestInitCommand(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "project")

	out, _, err := run(t, "init", dir, "--driver", "postgres", "--attachments", "fs", "--port", "9000")
	require.NoError(t, err)
	assert.Contains(t, out, "create "+filepath.Join(dir, "cloner.yml"))
	assert.Contains(t, out, "create "+filepath.Join(dir, "schema.yml"))

	cfg, err := config.Load(filepath.Join(dir, "cloner.yml"))
	require.NoError(t, err)
	assert.Equal(t, "primary", cfg.DefaultDatastore)
	assert.Equal(t, config.DatastoreConfig{Driver: "postgres", DSN: "postgres://localhost:5432/app?sslmode=disable"}, cfg.Datastores["primary"])
	assert.Equal(t, "fs", cfg.Attachments.Driver)
	assert.Equal(t, "./attachments", cfg.Attachments.Root)
	assert.Equal(t, 9000, cfg.Server.Port)

	registry, err := schema.LoadFile(cfg.SchemaFile)
	require.NoError(t, err)
	assert.Equal(t, []string{"Article", "Comment"}, registry.List())

	_, _, err = run(t, "init", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "schema.yml"), []byte("resources: []\n"), 0o644))
	out, _, err = run(t, "init", dir, "--force", "--driver", "memory")
	require.NoError(t, err)
	assert.NotContains(t, out, "schema.yml", "an existing schema is kept")

	cfg, err = config.Load(filepath.Join(dir, "cloner.yml"))
	require.NoError(t, err)
	assert.Equal(t, config.DatastoreConfig{Driver: "memory"}, cfg.Datastores["primary"])
}

func TestInitCommand_InvalidOptions(t *testing.T) {
	tests := map[string][]string{
		"driver":      {"--driver", "mysql"},
		"attachments": {"--attachments", "gcs"},
		"s3 bucket":   {"--attachments", "s3"},
		"port":        {"--port", "http"},
	}
	for name, flags := range tests {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			_, _, err := run(t, append([]string{"init", dir}, flags...)...)
			require.Error(t, err)
			assert.NoFileExists(t, filepath.Join(dir, "cloner.yml"))
		})
	}
}

func TestTokenCommand(t *testing.T) {
	p := setupProject(t)

	_, _, err := run(t, "token", "ops", "--config", p.config)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.auth.secret is not configured")

	t.Setenv("CLONER_SERVER_AUTH_SECRET", "test-secret")
	out, _, err := run(t, "token", "ops", "--config", p.config)
	require.NoError(t, err)

	claims, err := auth.New("test-secret", 0).Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
}
