package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

const (
	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
	seedSuffix = ".sql"
)

// ErrNothingApplied is returned by Down when no migration has been recorded.
var ErrNothingApplied = errors.New("migrate: no migrations applied")

// Manager applies SQL migrations and seed files read from an fs.FS.
// Migrations are named NNNN_name.up.sql with an optional .down.sql pair.
type Manager struct {
	db         *sql.DB
	migrations fs.FS
	seeds      fs.FS
	applied    ledger
	seeded     ledger
	now        func() time.Time
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the bookkeeping table for migrations.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.applied.table = name
		}
	}
}

// WithSeedsTable overrides the bookkeeping table for seeds.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seeded.table = name
		}
	}
}

// WithClock overrides the time recorded for applied files.
func WithClock(fn func() time.Time) Option {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewManager constructs a Manager. Either filesystem may be nil.
func NewManager(db *sql.DB, migrations, seeds fs.FS, opts ...Option) *Manager {
	m := &Manager{
		db:         db,
		migrations: migrations,
		seeds:      seeds,
		applied:    ledger{table: "schema_migrations"},
		seeded:     ledger{table: "schema_seeds"},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Entry describes one migration file and whether it has been applied.
type Entry struct {
	Name      string
	AppliedAt *time.Time
}

func (e Entry) Pending() bool { return e.AppliedAt == nil }

// Up applies all pending migrations in name order.
func (m *Manager) Up(ctx context.Context) error {
	return m.applyPending(ctx, m.migrations, upSuffix, m.applied, "migration")
}

// Seed applies seed files that have not been loaded yet.
func (m *Manager) Seed(ctx context.Context) error {
	return m.applyPending(ctx, m.seeds, seedSuffix, m.seeded, "seed")
}

// Down rolls back the most recently applied migration using its .down.sql pair.
func (m *Manager) Down(ctx context.Context) error {
	if err := m.prepare(ctx); err != nil {
		return err
	}
	records, err := m.applied.list(ctx, m.db)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return ErrNothingApplied
	}
	last := records[len(records)-1].Name

	downPath := ""
	if files, err := sqlFiles(m.migrations, upSuffix); err != nil {
		return err
	} else if p, ok := files[last]; ok {
		downPath = strings.TrimSuffix(p, upSuffix) + downSuffix
	}
	if downPath == "" {
		return fmt.Errorf("migrate: %s is not among the bundled migrations", last)
	}
	if _, err := fs.Stat(m.migrations, downPath); err != nil {
		return fmt.Errorf("migrate: %s has no down migration", last)
	}
	if err := m.run(ctx, m.migrations, downPath); err != nil {
		return fmt.Errorf("rollback migration %s: %w", last, err)
	}
	return m.applied.forget(ctx, m.db, last)
}

// Status lists every known migration, applied ones with their timestamp,
// followed by those still pending.
func (m *Manager) Status(ctx context.Context) ([]Entry, error) {
	if err := m.prepare(ctx); err != nil {
		return nil, err
	}
	records, err := m.applied.list(ctx, m.db)
	if err != nil {
		return nil, err
	}
	files, err := sqlFiles(m.migrations, upSuffix)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(files))
	for _, r := range records {
		at := r.AppliedAt
		entries = append(entries, Entry{Name: r.Name, AppliedAt: &at})
		delete(files, r.Name)
	}
	for _, name := range sortedNames(files) {
		entries = append(entries, Entry{Name: name})
	}
	return entries, nil
}

func (m *Manager) prepare(ctx context.Context) error {
	if err := m.applied.ensure(ctx, m.db); err != nil {
		return err
	}
	return m.seeded.ensure(ctx, m.db)
}

func (m *Manager) applyPending(ctx context.Context, fsys fs.FS, suffix string, l ledger, kind string) error {
	if err := m.prepare(ctx); err != nil {
		return err
	}
	records, err := l.list(ctx, m.db)
	if err != nil {
		return err
	}
	files, err := sqlFiles(fsys, suffix)
	if err != nil {
		return err
	}
	for _, r := range records {
		delete(files, r.Name)
	}
	for _, name := range sortedNames(files) {
		if err := m.run(ctx, fsys, files[name]); err != nil {
			return fmt.Errorf("apply %s %s: %w", kind, name, err)
		}
		if err := l.record(ctx, m.db, name, m.now().UTC()); err != nil {
			return err
		}
	}
	return nil
}

// run executes every statement of one file in a single transaction.
func (m *Manager) run(ctx context.Context, fsys fs.FS, name string) error {
	body, err := fs.ReadFile(fsys, name)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(body)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type record struct {
	Name      string
	AppliedAt time.Time
}

// ledger is a bookkeeping table of applied file names.
type ledger struct {
	table string
}

func (l ledger) ensure(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(
		`create table if not exists %s (name text primary key, applied_at timestamptz not null default now())`, l.table))
	return err
}

func (l ledger) list(ctx context.Context, db *sql.DB) ([]record, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`select name, applied_at from %s order by applied_at, name`, l.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []record
	for rows.Next() {
		var r record
		if err := rows.Scan(&r.Name, &r.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (l ledger) record(ctx context.Context, db *sql.DB, name string, at time.Time) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(`insert into %s (name, applied_at) values ($1, $2)`, l.table), name, at)
	return err
}

func (l ledger) forget(ctx context.Context, db *sql.DB, name string) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(`delete from %s where name = $1`, l.table), name)
	return err
}

// sqlFiles maps base name to path for every file in fsys ending in suffix.
// A nil or missing filesystem yields an empty map.
func sqlFiles(fsys fs.FS, suffix string) (map[string]string, error) {
	files := make(map[string]string)
	if fsys == nil {
		return files, nil
	}
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
			return err
		case d.IsDir():
			return nil
		case strings.HasSuffix(d.Name(), suffix):
			files[path.Base(p)] = p
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return files, nil
	}
	return files, err
}

func sortedNames(files map[string]string) []string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// splitStatements cuts a SQL script at top-level semicolons. Quoted strings,
// quoted identifiers, dollar-quoted bodies and -- comments are kept intact.
// Blank statements are dropped.
func splitStatements(script string) []string {
	var (
		out   []string
		start int
	)
	flush := func(end int) {
		if stmt := strings.TrimSpace(script[start:end]); stmt != "" && stmt != ";" {
			out = append(out, stmt)
		}
		start = end
	}
	for i := 0; i < len(script); i++ {
		switch c := script[i]; {
		case c == '\'' || c == '"':
			i = skipQuoted(script, i, c)
		case c == '-' && strings.HasPrefix(script[i:], "--"):
			if nl := strings.IndexByte(script[i:], '\n'); nl >= 0 {
				i += nl
			} else {
				i = len(script) - 1
			}
		case c == '$':
			i = skipDollarQuoted(script, i)
		case c == ';':
			flush(i + 1)
		}
	}
	flush(len(script))
	return out
}

// skipQuoted returns the index of the quote closing the literal opened at i.
// A doubled quote inside the literal is an escaped quote.
func skipQuoted(s string, i int, q byte) int {
	for j := i + 1; j < len(s); j++ {
		if s[j] != q {
			continue
		}
		if j+1 < len(s) && s[j+1] == q {
			j++
			continue
		}
		return j
	}
	return len(s) - 1
}

// skipDollarQuoted handles $tag$ ... $tag$ bodies. A lone $ (as in $1) is
// returned unchanged.
func skipDollarQuoted(s string, i int) int {
	end := strings.IndexByte(s[i+1:], '$')
	if end < 0 {
		return i
	}
	tag := s[i : i+end+2]
	for _, r := range tag[1 : len(tag)-1] {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return i
		}
	}
	if len(tag) > 2 && tag[1] >= '0' && tag[1] <= '9' {
		return i
	}
	closeAt := strings.Index(s[i+len(tag):], tag)
	if closeAt < 0 {
		return len(s) - 1
	}
	return i + len(tag) + closeAt + len(tag) - 1
}
