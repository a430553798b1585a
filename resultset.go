// Query result sets.
//
// A ResultSet owns one SQL connection for its whole life: virtual tables
// live in the connection's temp schema, so the cursor must stay pinned to
// the connection that created them. The cursor is single-threaded; typed
// accessors read the current row after Next reports true.
package octavo

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
)

// ResultSet is a prepared query cursor with typed column access.
type ResultSet struct {
	conn    *sql.Conn
	rows    *sql.Rows
	labels  []string
	types   []string
	byLabel map[string]int
	current []any
	err     error
}

func newResultSet(ctx context.Context, conn *sql.Conn, query string) (*ResultSet, error) {
	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		conn.Close()
		return nil, wrapSQL(err)
	}

	labels, err := rows.Columns()
	if err != nil {
		rows.Close()
		conn.Close()
		return nil, wrapSQL(err)
	}
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		rows.Close()
		conn.Close()
		return nil, wrapSQL(err)
	}

	rs := &ResultSet{
		conn:    conn,
		rows:    rows,
		labels:  labels,
		types:   make([]string, len(colTypes)),
		byLabel: make(map[string]int, len(labels)),
		current: make([]any, len(labels)),
	}
	for i, ct := range colTypes {
		rs.types[i] = ct.DatabaseTypeName()
	}
	for i, label := range labels {
		rs.byLabel[label] = i
	}
	return rs, nil
}

// Next advances to the next row. It returns false at the end of the result
// or on error; check Err afterwards.
func (rs *ResultSet) Next() bool {
	if !rs.rows.Next() {
		rs.err = rs.rows.Err()
		return false
	}
	dest := make([]any, len(rs.current))
	for i := range dest {
		dest[i] = &rs.current[i]
	}
	if err := rs.rows.Scan(dest...); err != nil {
		rs.err = wrapSQL(err)
		return false
	}
	return true
}

// Err returns the first error hit while iterating.
func (rs *ResultSet) Err() error { return rs.err }

// Close releases the cursor and its connection.
func (rs *ResultSet) Close() error {
	rerr := rs.rows.Close()
	cerr := rs.conn.Close()
	if rerr != nil {
		return wrapSQL(rerr)
	}
	if cerr != nil {
		return wrapSQL(cerr)
	}
	return nil
}

// ColumnCount returns the number of columns.
func (rs *ResultSet) ColumnCount() int { return len(rs.labels) }

// ColumnLabel returns the label of column i.
func (rs *ResultSet) ColumnLabel(i int) (string, error) {
	if i < 0 || i >= len(rs.labels) {
		return "", fmt.Errorf("%w: column %d of %d", ErrInvalidArgument, i, len(rs.labels))
	}
	return rs.labels[i], nil
}

// ColumnType returns the declared SQL type of column i.
func (rs *ResultSet) ColumnType(i int) (string, error) {
	if i < 0 || i >= len(rs.types) {
		return "", fmt.Errorf("%w: column %d of %d", ErrInvalidArgument, i, len(rs.types))
	}
	return rs.types[i], nil
}

// ColumnIndex resolves a column label to its index.
func (rs *ResultSet) ColumnIndex(label string) (int, error) {
	i, ok := rs.byLabel[label]
	if !ok {
		return 0, fmt.Errorf("%w: no column %q", ErrInvalidArgument, label)
	}
	return i, nil
}

// IsNull reports whether the cell at column i of the current row is null.
func (rs *ResultSet) IsNull(i int) (bool, error) {
	v, err := rs.cell(i)
	return v == nil, err
}

// GetInt returns the integer value of column i.
func (rs *ResultSet) GetInt(i int) (int64, error) {
	v, err := rs.cell(i)
	if err != nil {
		return 0, err
	}
	switch val := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return val, nil
	case float64:
		return int64(val), nil
	case []byte:
		return strconv.ParseInt(string(val), 10, 64)
	case string:
		return strconv.ParseInt(val, 10, 64)
	default:
		return 0, fmt.Errorf("%w: column %d holds %T", ErrInvalidArgument, i, v)
	}
}

// GetDouble returns the floating-point value of column i.
func (rs *ResultSet) GetDouble(i int) (float64, error) {
	v, err := rs.cell(i)
	if err != nil {
		return 0, err
	}
	switch val := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return val, nil
	case int64:
		return float64(val), nil
	case []byte:
		return strconv.ParseFloat(string(val), 64)
	case string:
		return strconv.ParseFloat(val, 64)
	default:
		return 0, fmt.Errorf("%w: column %d holds %T", ErrInvalidArgument, i, v)
	}
}

// GetString returns the string value of column i. Null cells return the
// empty string; use IsNull to tell them apart.
func (rs *ResultSet) GetString(i int) (string, error) {
	v, err := rs.cell(i)
	if err != nil {
		return "", err
	}
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	case []byte:
		return string(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64), nil
	default:
		return "", fmt.Errorf("%w: column %d holds %T", ErrInvalidArgument, i, v)
	}
}

// GetBlob returns the raw bytes of column i.
func (rs *ResultSet) GetBlob(i int) ([]byte, error) {
	v, err := rs.cell(i)
	if err != nil {
		return nil, err
	}
	switch val := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return val, nil
	case string:
		return []byte(val), nil
	default:
		return nil, fmt.Errorf("%w: column %d holds %T", ErrInvalidArgument, i, v)
	}
}

func (rs *ResultSet) cell(i int) (any, error) {
	if i < 0 || i >= len(rs.current) {
		return nil, fmt.Errorf("%w: column %d of %d", ErrInvalidArgument, i, len(rs.current))
	}
	return rs.current[i], nil
}
