package catalog

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS entities (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL,
	sku               TEXT NOT NULL DEFAULT '',
	description       TEXT NOT NULL DEFAULT '',
	short_description TEXT NOT NULL DEFAULT '',
	regular_price     REAL NOT NULL DEFAULT 0,
	sale_price        REAL NOT NULL DEFAULT 0,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS entity_fields (
	entity_id TEXT NOT NULL,
	key       TEXT NOT NULL,
	value     TEXT NOT NULL,
	PRIMARY KEY (entity_id, key)
);
CREATE INDEX IF NOT EXISTS idx_entity_fields_key ON entity_fields(key, value);

CREATE TABLE IF NOT EXISTS terms (
	id        TEXT PRIMARY KEY,
	dimension TEXT NOT NULL,
	name      TEXT NOT NULL,
	slug      TEXT NOT NULL,
	UNIQUE (dimension, slug)
);

CREATE TABLE IF NOT EXISTS entity_terms (
	entity_id TEXT NOT NULL,
	dimension TEXT NOT NULL,
	term_id   TEXT NOT NULL,
	PRIMARY KEY (entity_id, dimension, term_id)
);
CREATE INDEX IF NOT EXISTS idx_entity_terms_term ON entity_terms(dimension, term_id);
`

// SQLiteStore persists the catalog in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures
// the catalog tables exist. The caller is responsible for calling Close.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// newID generates a random hex UUID.
func newID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Slugify converts a term name to its canonical slug form: lowercase,
// with runs of non-alphanumeric characters collapsed to single hyphens.
func Slugify(name string) string {
	var b strings.Builder
	prevHyphen := true // trim leading hyphens
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevHyphen = false
		default:
			if !prevHyphen {
				b.WriteByte('-')
				prevHyphen = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// CreateEntity persists a new entity and sets its ID and timestamps.
func (s *SQLiteStore) CreateEntity(e *Entity) (string, error) {
	id, err := newID()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	e.ID = id
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	_, err = s.db.Exec(`
		INSERT INTO entities
			(id, name, sku, description, short_description, regular_price, sale_price, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		e.ID, e.Name, e.SKU, e.Description, e.ShortDescription,
		e.RegularPrice, e.SalePrice, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("insert entity: %w", err)
	}
	return id, nil
}

// GetEntity retrieves an entity by ID.
func (s *SQLiteStore) GetEntity(id string) (*Entity, error) {
	var e Entity
	err := s.db.QueryRow(`
		SELECT id, name, sku, description, short_description, regular_price, sale_price, created_at, updated_at
		FROM entities WHERE id = ?`, id).Scan(
		&e.ID, &e.Name, &e.SKU, &e.Description, &e.ShortDescription,
		&e.RegularPrice, &e.SalePrice, &e.CreatedAt, &e.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("entity %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get entity: %w", err)
	}
	return &e, nil
}

// UpdateEntity saves changes to an existing entity, refreshing UpdatedAt.
func (s *SQLiteStore) UpdateEntity(e *Entity) error {
	e.UpdatedAt = time.Now().UTC()
	res, err := s.db.Exec(`
		UPDATE entities SET
			name=?, sku=?, description=?, short_description=?, regular_price=?, sale_price=?, updated_at=?
		WHERE id=?`,
		e.Name, e.SKU, e.Description, e.ShortDescription,
		e.RegularPrice, e.SalePrice, e.UpdatedAt, e.ID,
	)
	if err != nil {
		return fmt.Errorf("update entity: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("entity %s: %w", e.ID, ErrNotFound)
	}
	return nil
}

// ListEntityIDs returns up to limit entity IDs, newest first.
func (s *SQLiteStore) ListEntityIDs(limit int) ([]string, error) {
	q := "SELECT id FROM entities ORDER BY created_at DESC"
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	return s.queryIDs(q)
}

// FindEntityByField returns the ID of the entity whose field key equals
// value, or "" when none matches.
func (s *SQLiteStore) FindEntityByField(key, value string) (string, error) {
	var id string
	err := s.db.QueryRow(
		`SELECT entity_id FROM entity_fields WHERE key=? AND value=? LIMIT 1`,
		key, value,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("find entity by field: %w", err)
	}
	return id, nil
}

// GetField returns a scalar field value, or "" when unset.
func (s *SQLiteStore) GetField(entityID, key string) (string, error) {
	var v string
	err := s.db.QueryRow(
		`SELECT value FROM entity_fields WHERE entity_id=? AND key=?`,
		entityID, key,
	).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get field %s: %w", key, err)
	}
	return v, nil
}

// SetField writes a scalar field value, replacing any previous value.
func (s *SQLiteStore) SetField(entityID, key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO entity_fields (entity_id, key, value) VALUES (?,?,?)
		ON CONFLICT (entity_id, key) DO UPDATE SET value=excluded.value`,
		entityID, key, value,
	)
	if err != nil {
		return fmt.Errorf("set field %s: %w", key, err)
	}
	return nil
}

// EntityIDsWithoutField returns IDs of entities with no value for key.
func (s *SQLiteStore) EntityIDsWithoutField(key string) ([]string, error) {
	return s.queryIDs(`
		SELECT e.id FROM entities e
		LEFT JOIN entity_fields f ON f.entity_id = e.id AND f.key = ?
		WHERE f.value IS NULL OR f.value = ''
		ORDER BY e.created_at DESC`, key)
}

// EntityIDsWithFieldBefore returns IDs whose RFC 3339 value for key is
// older than cutoff, or missing. Lexicographic comparison is safe because
// RFC 3339 timestamps sort chronologically.
func (s *SQLiteStore) EntityIDsWithFieldBefore(key string, cutoff time.Time) ([]string, error) {
	return s.queryIDs(`
		SELECT e.id FROM entities e
		LEFT JOIN entity_fields f ON f.entity_id = e.id AND f.key = ?
		WHERE f.value IS NULL OR f.value < ?
		ORDER BY e.updated_at DESC`, key, cutoff.UTC().Format(time.RFC3339))
}

// Terms returns the terms assigned to an entity in one dimension.
func (s *SQLiteStore) Terms(entityID, dimension string) ([]Term, error) {
	rows, err := s.db.Query(`
		SELECT t.id, t.dimension, t.name, t.slug
		FROM entity_terms et JOIN terms t ON t.id = et.term_id
		WHERE et.entity_id = ? AND et.dimension = ?
		ORDER BY t.slug`, entityID, dimension)
	if err != nil {
		return nil, fmt.Errorf("entity terms: %w", err)
	}
	defer rows.Close()

	var terms []Term
	for rows.Next() {
		var t Term
		if err := rows.Scan(&t.ID, &t.Dimension, &t.Name, &t.Slug); err != nil {
			return nil, err
		}
		terms = append(terms, t)
	}
	return terms, rows.Err()
}

// AssignTerms sets the entity's terms in a dimension. Additive assignment
// is idempotent: re-assigning an already assigned term is a no-op.
func (s *SQLiteStore) AssignTerms(entityID, dimension string, termIDs []string, additive bool) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if !additive {
		if _, err := tx.Exec(
			`DELETE FROM entity_terms WHERE entity_id=? AND dimension=?`,
			entityID, dimension,
		); err != nil {
			return fmt.Errorf("clear terms: %w", err)
		}
	}
	for _, tid := range termIDs {
		if _, err := tx.Exec(`
			INSERT INTO entity_terms (entity_id, dimension, term_id) VALUES (?,?,?)
			ON CONFLICT (entity_id, dimension, term_id) DO NOTHING`,
			entityID, dimension, tid,
		); err != nil {
			return fmt.Errorf("assign term %s: %w", tid, err)
		}
	}
	return tx.Commit()
}

// ResolveOrCreateTerm finds a term by name within a dimension, creating it
// when absent. Matching is by slug, so "Club Car" and "club car" resolve
// to the same term.
func (s *SQLiteStore) ResolveOrCreateTerm(dimension, name string) (*Term, error) {
	slug := Slugify(name)
	if slug == "" {
		return nil, fmt.Errorf("term name %q produces empty slug", name)
	}

	var t Term
	err := s.db.QueryRow(
		`SELECT id, dimension, name, slug FROM terms WHERE dimension=? AND slug=?`,
		dimension, slug,
	).Scan(&t.ID, &t.Dimension, &t.Name, &t.Slug)
	if err == nil {
		return &t, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("resolve term: %w", err)
	}

	id, err := newID()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}
	if _, err := s.db.Exec(
		`INSERT INTO terms (id, dimension, name, slug) VALUES (?,?,?,?)`,
		id, dimension, name, slug,
	); err != nil {
		return nil, fmt.Errorf("create term: %w", err)
	}
	return &Term{ID: id, Dimension: dimension, Name: name, Slug: slug}, nil
}

// TermNames returns up to limit term names in a dimension, alphabetical.
func (s *SQLiteStore) TermNames(dimension string, limit int) ([]string, error) {
	q := `SELECT name FROM terms WHERE dimension=? ORDER BY name`
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.Query(q, dimension)
	if err != nil {
		return nil, fmt.Errorf("term names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// EntityIDsByTerms returns IDs of entities matching every filter (any term
// within a filter, all filters together), excluding excludeID.
func (s *SQLiteStore) EntityIDsByTerms(filters []TermFilter, excludeID string, limit int) ([]string, error) {
	if len(filters) == 0 {
		return nil, nil
	}

	q := strings.Builder{}
	q.WriteString("SELECT e.id FROM entities e")
	args := []any{}
	for i, f := range filters {
		if len(f.TermIDs) == 0 {
			return nil, nil
		}
		placeholders := strings.TrimRight(strings.Repeat("?,", len(f.TermIDs)), ",")
		fmt.Fprintf(&q, `
			JOIN entity_terms et%d ON et%d.entity_id = e.id
				AND et%d.dimension = ? AND et%d.term_id IN (%s)`,
			i, i, i, i, placeholders)
		args = append(args, f.Dimension)
		for _, tid := range f.TermIDs {
			args = append(args, tid)
		}
	}
	q.WriteString(" WHERE e.id != ? GROUP BY e.id ORDER BY e.created_at DESC")
	args = append(args, excludeID)
	if limit > 0 {
		fmt.Fprintf(&q, " LIMIT %d", limit)
	}

	return s.queryIDs(q.String(), args...)
}

func (s *SQLiteStore) queryIDs(query string, args ...any) ([]string, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
