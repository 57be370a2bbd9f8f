package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// fieldNamePattern guards JSONB path construction; field names are developer
// constants, not user input, but the check keeps query building honest.
var fieldNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// PostgresStore implements Store on a single JSONB documents table with a
// NOTIFY trigger feeding live subscriptions.
type PostgresStore struct {
	db     *sql.DB
	logger zerolog.Logger

	watch *watchHub
}

// NewPostgresStore opens the store. connStr is only needed for the LISTEN
// connection; pass "" to disable live subscriptions (one-shot queries and
// writes still work).
func NewPostgresStore(db *sql.DB, connStr string, logger zerolog.Logger) *PostgresStore {
	s := &PostgresStore{
		db:     db,
		logger: logger.With().Str("component", "docstore").Logger(),
	}
	if connStr != "" {
		s.watch = newWatchHub(s, connStr, s.logger)
	}
	return s
}

// Close stops the change listener.
func (s *PostgresStore) Close() error {
	if s.watch != nil {
		return s.watch.close()
	}
	return nil
}

func (s *PostgresStore) QueryDocs(ctx context.Context, collection string, q Query) ([]Document, error) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`SELECT id, fields, created_at FROM portal.documents WHERE collection = $1`)
	args = append(args, collection)

	for _, f := range q.Filters {
		frag, arg, err := filterSQL(f, len(args)+1)
		if err != nil {
			return nil, err
		}
		sb.WriteString(" AND ")
		sb.WriteString(frag)
		args = append(args, arg)
	}

	if q.OrderField != "" {
		frag, err := orderSQL(q.OrderField, q.Descending)
		if err != nil {
			return nil, err
		}
		sb.WriteString(frag)
	}
	if q.Limit > 0 {
		sb.WriteString(fmt.Sprintf(" LIMIT %d", q.Limit))
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, errors.Wrapf(err, "query collection %s", collection)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "query collection %s", collection)
	}
	return docs, nil
}

func (s *PostgresStore) GetDoc(ctx context.Context, collection, id string) (Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, fields, created_at FROM portal.documents WHERE collection = $1 AND id = $2`,
		collection, id)
	doc, err := scanDocument(row)
	if err != nil {
		return Document{}, errors.Wrapf(err, "get %s/%s", collection, id)
	}
	return doc, nil
}

func (s *PostgresStore) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return "", errors.Wrap(err, "marshal document fields")
	}
	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO portal.documents (collection, id, fields) VALUES ($1, $2, $3)`,
		collection, id, raw)
	if err != nil {
		return "", errors.Wrapf(err, "add to collection %s", collection)
	}
	return id, nil
}

func (s *PostgresStore) Watch(ctx context.Context, collection string, filters ...Filter) (<-chan Change, CancelFunc, error) {
	if s.watch == nil {
		return nil, nil, errors.New("docstore: live subscriptions disabled")
	}
	return s.watch.subscribe(ctx, collection, filters)
}

// filterSQL renders one filter as a SQL fragment with a positional argument.
// The createdAt pseudo-field maps to the row column; everything else goes
// through a typed JSONB extraction.
func filterSQL(f Filter, argPos int) (string, any, error) {
	op, err := sqlOp(f.Op)
	if err != nil {
		return "", nil, err
	}
	if f.Field == "createdAt" {
		return fmt.Sprintf("created_at %s $%d", op, argPos), f.Value, nil
	}
	if !fieldNamePattern.MatchString(f.Field) {
		return "", nil, errors.Errorf("docstore: invalid field name %q", f.Field)
	}

	switch v := f.Value.(type) {
	case time.Time:
		return fmt.Sprintf("(fields->>'%s')::timestamptz %s $%d", f.Field, op, argPos), v, nil
	case bool:
		return fmt.Sprintf("(fields->>'%s')::boolean %s $%d", f.Field, op, argPos), v, nil
	case int, int64, float64:
		return fmt.Sprintf("(fields->>'%s')::numeric %s $%d", f.Field, op, argPos), v, nil
	case string:
		return fmt.Sprintf("fields->>'%s' %s $%d", f.Field, op, argPos), v, nil
	default:
		return "", nil, errors.Errorf("docstore: unsupported filter value type %T", f.Value)
	}
}

func orderSQL(field string, descending bool) (string, error) {
	dir := " ASC"
	if descending {
		dir = " DESC"
	}
	if field == "createdAt" {
		return " ORDER BY created_at" + dir, nil
	}
	if !fieldNamePattern.MatchString(field) {
		return "", errors.Errorf("docstore: invalid order field %q", field)
	}
	return fmt.Sprintf(" ORDER BY fields->>'%s'%s", field, dir), nil
}

func sqlOp(op Op) (string, error) {
	switch op {
	case OpEq:
		return "=", nil
	case OpGt:
		return ">", nil
	case OpLt:
		return "<", nil
	}
	return "", errors.Errorf("docstore: unsupported operator %q", op)
}

func scanDocument(scanner interface{ Scan(dest ...any) error }) (Document, error) {
	var (
		doc Document
		raw []byte
	)
	if err := scanner.Scan(&doc.ID, &raw, &doc.CreatedAt); err != nil {
		return Document{}, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &doc.Fields); err != nil {
			return Document{}, errors.Wrap(err, "decode document fields")
		}
	}
	return doc, nil
}
