/*
Copyright 2025 The memcore Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package docstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	// sqlite driver registration.
	_ "modernc.org/sqlite"
)

// fullBodyColumn holds the complete record when full storage mode is on.
// It is internal to the engine and never addressable from filters.
const fullBodyColumn = "full_doc"

// Config holds the configuration for the document store engine.
type Config struct {
	// Path is the database file path; ":memory:" keeps the store
	// process-local, which is the mode tests run in.
	Path string `json:"path"`
	// FullStorage stores the complete record alongside the lite row. The
	// canonical mode is lite-only.
	FullStorage bool `json:"fullStorage"`
}

// DefaultConfig returns a default configuration for the document store.
func DefaultConfig() *Config {
	return &Config{Path: ":memory:"}
}

// Store is the document store engine: one sqlite database holding a lite
// table per registered document class.
type Store struct {
	db          *sql.DB
	fullStorage bool
}

// Open opens (or creates) the backing database.
func Open(ctx context.Context, cfg *Config) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open document store at %q: %w", path, err)
	}
	// A single connection sidesteps sqlite writer contention and keeps
	// in-memory databases visible across calls.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping document store: %w", err)
	}

	return &Store{db: db, fullStorage: cfg.FullStorage}, nil
}

// Close closes the backing database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Collection materializes the lite table and indexes for a class and
// returns a handle over it.
func (s *Store) Collection(ctx context.Context, schema *LiteSchema) (*Collection, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if err := s.createTable(ctx, schema); err != nil {
		return nil, err
	}
	return &Collection{store: s, schema: schema}, nil
}

//nolint:cyclop // column-type switch plus index DDL
func (s *Store) createTable(ctx context.Context, schema *LiteSchema) error {
	var cols []string
	cols = append(cols,
		quoteIdent(FieldID)+" TEXT PRIMARY KEY",
		quoteIdent(FieldCreatedAt)+" INTEGER NOT NULL",
		quoteIdent(FieldUpdatedAt)+" INTEGER NOT NULL",
		quoteIdent(FieldRevisionID)+" TEXT",
	)
	if schema.SoftDelete {
		cols = append(cols,
			quoteIdent(FieldDeletedAt)+" INTEGER",
			quoteIdent(FieldDeletedBy)+" TEXT",
			quoteIdent(FieldDeletedID)+" TEXT",
		)
	}

	for _, f := range schema.columns() {
		var sqlType string
		switch f.Type {
		case TypeString, TypeJSON:
			sqlType = "TEXT"
		case TypeInt, TypeBool, TypeTime:
			sqlType = "INTEGER"
		case TypeFloat:
			sqlType = "REAL"
		default:
			sqlType = "TEXT"
		}
		cols = append(cols, quoteIdent(f.Name)+" "+sqlType)
	}
	if s.fullStorage {
		cols = append(cols, quoteIdent(fullBodyColumn)+" TEXT")
	}

	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		quoteIdent(schema.Name), strings.Join(cols, ", "))
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create table for class %q: %w", schema.Name, err)
	}

	for _, f := range schema.Indexed {
		stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			quoteIdent("idx_"+schema.Name+"_"+f.Name),
			quoteIdent(schema.Name), quoteIdent(f.Name))
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index on %q.%q: %w", schema.Name, f.Name, err)
		}
	}
	for _, idx := range schema.CompositeIndexes {
		if err := s.createMultiColumnIndex(ctx, schema, idx, false); err != nil {
			return err
		}
	}
	for _, idx := range schema.UniqueIndexes {
		if err := s.createMultiColumnIndex(ctx, schema, idx, true); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) createMultiColumnIndex(ctx context.Context, schema *LiteSchema,
	fields []string, unique bool,
) error {
	kind := "INDEX"
	prefix := "cdx_"
	if unique {
		kind = "UNIQUE INDEX"
		prefix = "udx_"
	}

	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = quoteIdent(f)
	}

	stmt := fmt.Sprintf("CREATE %s IF NOT EXISTS %s ON %s (%s)",
		kind,
		quoteIdent(prefix+schema.Name+"_"+strings.Join(fields, "_")),
		quoteIdent(schema.Name), strings.Join(quoted, ", "))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create index on %q(%s): %w",
			schema.Name, strings.Join(fields, ","), err)
	}
	return nil
}

// Collection is a typed handle over one class's lite table. All filter
// arguments are validated against the class's lite field set before any SQL
// is issued.
type Collection struct {
	store  *Store
	schema *LiteSchema
}

// Schema returns the class declaration backing this collection.
func (c *Collection) Schema() *LiteSchema {
	return c.schema
}

// SortField orders results by one column.
type SortField struct {
	Field      string
	Descending bool
}

// FindOptions bound and order a Find call.
type FindOptions struct {
	Sort   []SortField
	Limit  int
	Offset int
}

// InsertOne writes a lite row, minting the id and audit timestamps when
// absent. full is the complete record body, stored only in full storage
// mode. The stored document (with id and timestamps set) is returned.
func (c *Collection) InsertOne(ctx context.Context, doc Document, full []byte) (Document, error) {
	if err := c.schema.ValidateFilter(fieldsOnly(doc)); err != nil {
		return nil, err
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	stored := make(Document, len(doc)+4)
	for k, v := range doc {
		stored[k] = v
	}
	if stored.ID() == "" {
		stored[FieldID] = uuid.NewString()
	}
	if _, ok := stored[FieldCreatedAt]; !ok {
		stored[FieldCreatedAt] = now
	}
	stored[FieldUpdatedAt] = now
	stored[FieldRevisionID] = uuid.NewString()

	columns := make([]string, 0, len(stored))
	values := make([]any, 0, len(stored))
	for name, value := range stored {
		fieldType, _ := c.schema.fieldType(name)
		normalized, err := normalizeValue(fieldType, value)
		if err != nil {
			return nil, fmt.Errorf("class %q field %q: %w", c.schema.Name, name, err)
		}
		columns = append(columns, quoteIdent(name))
		values = append(values, normalized)
	}
	if c.store.fullStorage && full != nil {
		columns = append(columns, quoteIdent(fullBodyColumn))
		values = append(values, string(full))
	}

	query, args, err := sq.Insert(quoteIdent(c.schema.Name)).
		Columns(columns...).Values(values...).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build insert for class %q: %w", c.schema.Name, err)
	}
	if _, err := c.store.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("insert into class %q failed: %w", c.schema.Name, err)
	}
	return stored, nil
}

// FindByID returns the lite row for id, or absent.
func (c *Collection) FindByID(ctx context.Context, id string) (Document, bool, error) {
	docs, err := c.Find(ctx, Filter{FieldID: id}, &FindOptions{Limit: 1})
	if err != nil {
		return nil, false, err
	}
	if len(docs) == 0 {
		return nil, false, nil
	}
	return docs[0], true, nil
}

// FindOne returns the first lite row matching filter, or absent.
func (c *Collection) FindOne(ctx context.Context, filter Filter) (Document, bool, error) {
	docs, err := c.Find(ctx, filter, &FindOptions{Limit: 1})
	if err != nil {
		return nil, false, err
	}
	if len(docs) == 0 {
		return nil, false, nil
	}
	return docs[0], true, nil
}

// Find returns the lite rows matching filter.
func (c *Collection) Find(ctx context.Context, filter Filter, opts *FindOptions) ([]Document, error) {
	if err := c.schema.ValidateFilter(filter); err != nil {
		return nil, err
	}

	selectCols := c.selectColumns()
	builder := sq.Select(selectCols...).From(quoteIdent(c.schema.Name))

	where, err := c.schema.toSqlizer(filter)
	if err != nil {
		return nil, err
	}
	if where != nil {
		builder = builder.Where(where)
	}

	if opts != nil {
		for _, s := range opts.Sort {
			dir := " ASC"
			if s.Descending {
				dir = " DESC"
			}
			builder = builder.OrderBy(quoteIdent(s.Field) + dir)
		}
		if opts.Limit > 0 {
			builder = builder.Limit(uint64(opts.Limit))
		}
		if opts.Offset > 0 {
			builder = builder.Offset(uint64(opts.Offset))
		}
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query for class %q: %w", c.schema.Name, err)
	}

	rows, err := c.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query on class %q failed: %w", c.schema.Name, err)
	}
	defer rows.Close()

	return c.scanDocuments(rows)
}

// FindIDs returns only the matching ids, in the requested order.
func (c *Collection) FindIDs(ctx context.Context, filter Filter, opts *FindOptions) ([]string, error) {
	docs, err := c.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.ID())
	}
	return ids, nil
}

// ListIDsSince returns ids with created_at >= since, paged. A zero since
// lists the whole table.
func (c *Collection) ListIDsSince(ctx context.Context, since time.Time, limit, offset int) ([]string, error) {
	filter := Filter{}
	if !since.IsZero() {
		filter[FieldCreatedAt] = Filter{"$gte": since}
	}
	return c.FindIDs(ctx, filter, &FindOptions{
		Sort:   []SortField{{Field: FieldCreatedAt}},
		Limit:  limit,
		Offset: offset,
	})
}

// Count returns the number of rows matching filter.
func (c *Collection) Count(ctx context.Context, filter Filter) (int64, error) {
	if err := c.schema.ValidateFilter(filter); err != nil {
		return 0, err
	}

	builder := sq.Select("COUNT(*)").From(quoteIdent(c.schema.Name))
	where, err := c.schema.toSqlizer(filter)
	if err != nil {
		return 0, err
	}
	if where != nil {
		builder = builder.Where(where)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build count for class %q: %w", c.schema.Name, err)
	}

	var count int64
	if err := c.store.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count on class %q failed: %w", c.schema.Name, err)
	}
	return count, nil
}

// UpdateMany applies set to every row matching filter and returns the
// number of rows changed. updated_at and revision_id advance on every
// matched row.
func (c *Collection) UpdateMany(ctx context.Context, filter Filter, set Document) (int64, error) {
	if err := c.schema.ValidateFilter(filter); err != nil {
		return 0, err
	}
	if err := c.schema.ValidateFilter(fieldsOnly(set)); err != nil {
		return 0, err
	}

	builder := sq.Update(quoteIdent(c.schema.Name))
	for name, value := range set {
		fieldType, _ := c.schema.fieldType(name)
		normalized, err := normalizeValue(fieldType, value)
		if err != nil {
			return 0, fmt.Errorf("class %q field %q: %w", c.schema.Name, name, err)
		}
		builder = builder.Set(quoteIdent(name), normalized)
	}
	builder = builder.
		Set(quoteIdent(FieldUpdatedAt), time.Now().UTC().UnixNano()).
		Set(quoteIdent(FieldRevisionID), uuid.NewString())

	where, err := c.schema.toSqlizer(filter)
	if err != nil {
		return 0, err
	}
	if where != nil {
		builder = builder.Where(where)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build update for class %q: %w", c.schema.Name, err)
	}

	result, err := c.store.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("update on class %q failed: %w", c.schema.Name, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// UpdateByID applies set to a single row.
func (c *Collection) UpdateByID(ctx context.Context, id string, set Document) (bool, error) {
	affected, err := c.UpdateMany(ctx, Filter{FieldID: id}, set)
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// SetFullBody replaces the stored complete record. No-op outside full
// storage mode.
func (c *Collection) SetFullBody(ctx context.Context, id string, full []byte) error {
	if !c.store.fullStorage {
		return nil
	}
	query, args, err := sq.Update(quoteIdent(c.schema.Name)).
		Set(quoteIdent(fullBodyColumn), string(full)).
		Where(sq.Eq{quoteIdent(FieldID): id}).ToSql()
	if err != nil {
		return err
	}
	_, err = c.store.db.ExecContext(ctx, query, args...)
	return err
}

// FullBody returns the stored complete record in full storage mode.
func (c *Collection) FullBody(ctx context.Context, id string) ([]byte, bool, error) {
	if !c.store.fullStorage {
		return nil, false, nil
	}
	query, args, err := sq.Select(quoteIdent(fullBodyColumn)).
		From(quoteIdent(c.schema.Name)).
		Where(sq.Eq{quoteIdent(FieldID): id}).ToSql()
	if err != nil {
		return nil, false, err
	}

	var body sql.NullString
	err = c.store.db.QueryRowContext(ctx, query, args...).Scan(&body)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	if !body.Valid || body.String == "" {
		return nil, false, nil
	}
	return []byte(body.String), true, nil
}

// DeleteMany removes every row matching filter and returns the ids removed.
func (c *Collection) DeleteMany(ctx context.Context, filter Filter) ([]string, error) {
	if err := c.schema.ValidateFilter(filter); err != nil {
		return nil, err
	}

	ids, err := c.FindIDs(ctx, filter, nil)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	builder := sq.Delete(quoteIdent(c.schema.Name))
	where, err := c.schema.toSqlizer(filter)
	if err != nil {
		return nil, err
	}
	if where != nil {
		builder = builder.Where(where)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build delete for class %q: %w", c.schema.Name, err)
	}
	if _, err := c.store.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("delete on class %q failed: %w", c.schema.Name, err)
	}
	return ids, nil
}

// DeleteByID removes a single row.
func (c *Collection) DeleteByID(ctx context.Context, id string) (bool, error) {
	ids, err := c.DeleteMany(ctx, Filter{FieldID: id})
	if err != nil {
		return false, err
	}
	return len(ids) > 0, nil
}

func (c *Collection) selectColumns() []string {
	cols := []string{
		quoteIdent(FieldID), quoteIdent(FieldCreatedAt),
		quoteIdent(FieldUpdatedAt), quoteIdent(FieldRevisionID),
	}
	if c.schema.SoftDelete {
		cols = append(cols,
			quoteIdent(FieldDeletedAt), quoteIdent(FieldDeletedBy), quoteIdent(FieldDeletedID))
	}
	for _, f := range c.schema.columns() {
		cols = append(cols, quoteIdent(f.Name))
	}
	return cols
}

func (c *Collection) scanDocuments(rows *sql.Rows) ([]Document, error) {
	names := []string{FieldID, FieldCreatedAt, FieldUpdatedAt, FieldRevisionID}
	if c.schema.SoftDelete {
		names = append(names, FieldDeletedAt, FieldDeletedBy, FieldDeletedID)
	}
	for _, f := range c.schema.columns() {
		names = append(names, f.Name)
	}

	var docs []Document
	for rows.Next() {
		values := make([]any, len(names))
		targets := make([]any, len(names))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("scan on class %q failed: %w", c.schema.Name, err)
		}

		doc := make(Document, len(names))
		for i, name := range names {
			if values[i] == nil {
				continue
			}
			fieldType, _ := c.schema.fieldType(name)
			doc[name] = denormalizeValue(fieldType, values[i])
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration on class %q failed: %w", c.schema.Name, err)
	}
	return docs, nil
}

// fieldsOnly strips operator keys so a document can be validated with the
// filter walker.
func fieldsOnly(doc Document) Filter {
	out := make(Filter, len(doc))
	for name, value := range doc {
		if len(name) > 0 && name[0] == '$' {
			continue
		}
		out[name] = value
	}
	return out
}
