package persist

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tabflow/tabflow/pkg/batch"
	tferrors "github.com/tabflow/tabflow/pkg/errors"
	"github.com/tabflow/tabflow/pkg/record"
)

// Postgres persists batches with the COPY protocol, one CopyFrom per
// batch. Column names are the schema's field names lower-cased; absent
// fields become NULL.
type Postgres struct {
	pool    *pgxpool.Pool
	table   string
	schema  *record.Schema
	columns []string
}

// NewPostgres connects a pool and prepares the column list.
func NewPostgres(ctx context.Context, dsn, table string, schema *record.Schema) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, tferrors.Wrap(err, tferrors.CodePersistFailed, "connect postgres")
	}
	columns := make([]string, schema.NumFields())
	for i, f := range schema.Fields() {
		columns[i] = strings.ToLower(f.Name)
	}
	return &Postgres{pool: pool, table: table, schema: schema, columns: columns}, nil
}

// SaveBatch implements Persister.
func (p *Postgres) SaveBatch(ctx context.Context, b *batch.Batch) (int, error) {
	n, err := p.pool.CopyFrom(ctx,
		pgx.Identifier{p.table},
		p.columns,
		pgx.CopyFromSlice(b.Len(), func(i int) ([]any, error) {
			rec := b.Records[i]
			row := make([]any, len(p.columns))
			for c := range p.columns {
				if v, ok := rec.Get(c); ok {
					row[c] = nativeValue(v)
				}
			}
			return row, nil
		}),
	)
	if err != nil {
		return int(n), tferrors.Wrap(err, tferrors.CodePersistFailed, "copy batch").
			WithContext("table", p.table).
			WithContext("batch", b.Index)
	}
	return int(n), nil
}

// Count implements the export source side.
func (p *Postgres) Count(ctx context.Context) (int64, error) {
	var n int64
	err := p.pool.QueryRow(ctx, "SELECT count(*) FROM "+pgx.Identifier{p.table}.Sanitize()).Scan(&n)
	if err != nil {
		return 0, tferrors.Wrap(err, tferrors.CodePersistFailed, "count rows").
			WithContext("table", p.table)
	}
	return n, nil
}

// Fetch returns one page of records ordered by the first column, so
// concurrent page fetches partition the table consistently.
func (p *Postgres) Fetch(ctx context.Context, offset, limit int64) ([]*record.Record, error) {
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s OFFSET $1 LIMIT $2",
		strings.Join(p.columns, ", "),
		pgx.Identifier{p.table}.Sanitize(),
		p.columns[0],
	)
	rows, err := p.pool.Query(ctx, query, offset, limit)
	if err != nil {
		return nil, tferrors.Wrap(err, tferrors.CodePersistFailed, "fetch page").
			WithContext("offset", offset)
	}
	defer rows.Close()

	var out []*record.Record
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, tferrors.Wrap(err, tferrors.CodePersistFailed, "scan row")
		}
		rec := record.NewRecord(p.schema)
		for i, v := range vals {
			if v == nil {
				continue
			}
			if rv, ok := recordValue(v); ok {
				rec.Set(i, rv)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, tferrors.Wrap(err, tferrors.CodePersistFailed, "iterate page")
	}
	return out, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// recordValue converts a driver value back into a typed field value.
func recordValue(v any) (record.Value, bool) {
	switch x := v.(type) {
	case string:
		return record.String(x), true
	case int64:
		return record.Int(x), true
	case int32:
		return record.Int(int64(x)), true
	case int16:
		return record.Int(int64(x)), true
	case float64:
		return record.Float(x), true
	case float32:
		return record.Float(float64(x)), true
	case bool:
		return record.Bool(x), true
	case time.Time:
		return record.Time(x), true
	default:
		return record.Value{}, false
	}
}

// nativeValue unwraps a typed value for the driver. Absent fields are
// handled by the caller and map to NULL.
func nativeValue(v record.Value) any {
	switch v.Kind() {
	case record.KindInt:
		return v.Int64()
	case record.KindFloat:
		return v.Float64()
	case record.KindBool:
		return v.Boolean()
	case record.KindTime:
		return v.Timestamp()
	default:
		return v.Str()
	}
}
