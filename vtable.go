// Virtual-table query dispatch.
//
// Each collection is exposed to the embedded SQL engine as a virtual table
// whose columns mirror the schema's scalar fields, plus a synthetic _id
// row-ID column. The planner offers its WHERE constraints to BestIndex;
// supported operators on indexed columns are accepted and encoded into the
// plan string, and Filter turns their operand values into bitmap probes:
// constraints on one column combine into ranges, per-column bitmaps are
// AND-folded, and the cursor walks the surviving row IDs.
//
// SQLite re-evaluates every pushed constraint on the rows the cursor
// emits, so a bitmap that over-approximates (double operands against
// integer columns) never leaks wrong rows into results.
//
// Cells are materialised from a covering vector index when the projected
// column has one; otherwise the cursor fetches the document blob once per
// row and serves every remaining column from the parsed document.
package octavo

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	json "github.com/goccy/go-json"
	"github.com/mattn/go-sqlite3"
)

// vtableColumn is one declared column of a collection's virtual table.
type vtableColumn struct {
	path      string
	fieldType FieldType
}

// collectionModule implements sqlite3.Module for one database. The module
// is registered on every SQL connection by the driver's connect hook;
// virtual tables are declared per collection in the temp schema.
type collectionModule struct {
	db *Database
}

func (m *collectionModule) Create(c *sqlite3.SQLiteConn, args []string) (sqlite3.VTab, error) {
	return m.Connect(c, args)
}

func (m *collectionModule) Connect(c *sqlite3.SQLiteConn, args []string) (sqlite3.VTab, error) {
	// args: module name, database name, table name, then module arguments.
	name := args[2]
	if len(args) > 3 {
		name = args[3]
	}
	coll, err := m.db.Collection(name)
	if err != nil {
		return nil, err
	}

	cols := collectionColumns(coll.Schema())
	decl := "CREATE TABLE x ("
	for i, col := range cols {
		if i > 0 {
			decl += ", "
		}
		decl += fmt.Sprintf("%q %s", col.path, sqlColumnType(col.fieldType))
	}
	decl += `, "_id" INTEGER)`
	if err := c.DeclareVTab(decl); err != nil {
		return nil, wrapSQL(err)
	}

	return &collectionVTab{coll: coll, cols: cols}, nil
}

func (m *collectionModule) DestroyModule() {}

// collectionColumns flattens the schema's scalar fields into declaration
// order, using dotted paths as column names.
func collectionColumns(s *Schema) []vtableColumn {
	paths := s.leafPaths()
	cols := make([]vtableColumn, len(paths))
	for i, path := range paths {
		ft, _ := s.FieldType(path)
		cols[i] = vtableColumn{path: path, fieldType: ft}
	}
	return cols
}

func sqlColumnType(ft FieldType) string {
	switch {
	case ft.isInteger():
		return "INTEGER"
	case ft == FieldTypeDouble:
		return "REAL"
	case ft == FieldTypeString:
		return "TEXT"
	default:
		return "BLOB"
	}
}

// planConstraint is one accepted constraint, serialized into the plan
// string. Operand values arrive separately through Filter's vals, in the
// same order.
type planConstraint struct {
	Col int          `json:"c"`
	Op  ConstraintOp `json:"o"`
}

type collectionVTab struct {
	coll *Collection
	cols []vtableColumn
}

func (t *collectionVTab) BestIndex(csts []sqlite3.InfoConstraint, ob []sqlite3.InfoOrderBy) (*sqlite3.IndexResult, error) {
	used := make([]bool, len(csts))
	var plan []planConstraint

	for i, cst := range csts {
		if !cst.Usable {
			continue
		}
		op, ok := constraintOp(cst.Op)
		if !ok {
			continue
		}
		if cst.Column < 0 || cst.Column >= len(t.cols) {
			continue // _id and rowid constraints are left to the engine
		}
		if t.coll.indexerFor(t.cols[cst.Column].path) == nil {
			continue
		}
		used[i] = true
		plan = append(plan, planConstraint{Col: cst.Column, Op: op})
	}

	idxStr := ""
	if len(plan) > 0 {
		enc, err := json.Marshal(plan)
		if err != nil {
			return nil, wrapSQL(err)
		}
		idxStr = string(enc)
	}

	// Index probes are vastly cheaper than a full scan; make sure the
	// planner knows.
	cost := 1e7
	rows := float64(t.coll.rowCount())
	if len(plan) > 0 {
		cost = 1000
		rows = rows/10 + 1
	}
	return &sqlite3.IndexResult{
		Used:          used,
		IdxNum:        0,
		IdxStr:        idxStr,
		EstimatedCost: cost,
		EstimatedRows: rows,
	}, nil
}

// constraintOp maps the engine's operator codes onto the indexers'.
func constraintOp(op sqlite3.Op) (ConstraintOp, bool) {
	switch op {
	case sqlite3.OpEQ:
		return OpEqual, true
	case sqlite3.OpLT:
		return OpLessThan, true
	case sqlite3.OpLE:
		return OpLessThanEqual, true
	case sqlite3.OpGT:
		return OpGreaterThan, true
	case sqlite3.OpGE:
		return OpGreaterThanEqual, true
	default:
		// MATCH included: there is no full-text index to serve it.
		return 0, false
	}
}

func (t *collectionVTab) Disconnect() error { return nil }
func (t *collectionVTab) Destroy() error    { return nil }

func (t *collectionVTab) Open() (sqlite3.VTabCursor, error) {
	return &collectionCursor{vt: t, buf: NewBuffer(0)}, nil
}

type collectionCursor struct {
	vt   *collectionVTab
	rows roaring64.IntIterable64
	cur  uint64
	eof  bool

	// One blob fetch serves every non-covered column of the current row.
	buf    *Buffer
	doc    *Document
	docRow uint64
}

func (cur *collectionCursor) Filter(idxNum int, idxStr string, vals []any) error {
	var rowSet *roaring64.Bitmap

	if idxStr == "" {
		rowSet = cur.vt.coll.allRows()
	} else {
		var plan []planConstraint
		if err := json.Unmarshal([]byte(idxStr), &plan); err != nil {
			return wrapSQL(err)
		}
		if len(plan) != len(vals) {
			return fmt.Errorf("%w: plan carries %d constraints, got %d operands", ErrSQL, len(plan), len(vals))
		}

		// Group by column so two bounds on one column become one range
		// traversal.
		perColumn := make(map[int][]Constraint)
		order := make([]int, 0, len(plan))
		for i, pc := range plan {
			con, err := operandConstraint(pc.Op, vals[i])
			if err != nil {
				return err
			}
			if _, seen := perColumn[pc.Col]; !seen {
				order = append(order, pc.Col)
			}
			perColumn[pc.Col] = append(perColumn[pc.Col], con)
		}

		bitmaps := make([]*roaring64.Bitmap, 0, len(order))
		for _, col := range order {
			bm, err := cur.vt.coll.filterColumn(cur.vt.cols[col].path, perColumn[col])
			if err != nil {
				return err
			}
			bitmaps = append(bitmaps, bm)
		}
		rowSet = reduceAnd(bitmaps)
	}

	cur.rows = rowSet.Iterator()
	cur.doc = nil
	cur.advance()
	return nil
}

// operandConstraint builds a Constraint from an operand value delivered by
// the engine.
func operandConstraint(op ConstraintOp, v any) (Constraint, error) {
	switch val := v.(type) {
	case int64:
		return IntConstraint(op, val), nil
	case float64:
		return DoubleConstraint(op, val), nil
	case string:
		return StringConstraint(op, val), nil
	case []byte:
		return StringConstraint(op, string(val)), nil
	default:
		return Constraint{}, fmt.Errorf("%w: unsupported operand %T", ErrInvalidArgument, v)
	}
}

func (cur *collectionCursor) advance() {
	if cur.rows.HasNext() {
		cur.cur = cur.rows.Next()
		cur.eof = false
		return
	}
	cur.eof = true
}

func (cur *collectionCursor) Next() error {
	cur.advance()
	return nil
}

func (cur *collectionCursor) EOF() bool { return cur.eof }

func (cur *collectionCursor) Rowid() (int64, error) { return int64(cur.cur), nil }

func (cur *collectionCursor) Close() error { return nil }

func (cur *collectionCursor) Column(ctx *sqlite3.SQLiteContext, col int) error {
	if col == len(cur.vt.cols) {
		ctx.ResultInt64(int64(cur.cur))
		return nil
	}
	c := cur.vt.cols[col]

	// Covering read first: a vector index on the column answers without
	// touching the blob.
	if ix := cur.vt.coll.vectorIndexerFor(c.path); ix != nil {
		switch {
		case c.fieldType.isInteger():
			if v, ok := ix.tryGetInt(cur.cur); ok {
				ctx.ResultInt64(v)
				return nil
			}
		case c.fieldType == FieldTypeString:
			if v, ok := ix.tryGetString(cur.cur); ok {
				ctx.ResultText(v)
				return nil
			}
		}
		// Covering miss means the row is null there; the document would
		// say the same.
		ctx.ResultNull()
		return nil
	}

	if cur.doc == nil || cur.docRow != cur.cur {
		doc, err := cur.vt.coll.fetchDocument(cur.cur, cur.buf)
		if err != nil {
			return err
		}
		cur.doc = doc
		cur.docRow = cur.cur
	}
	return resultCell(ctx, cur.doc, c)
}

// resultCell materialises one typed cell from a parsed document.
func resultCell(ctx *sqlite3.SQLiteContext, doc *Document, c vtableColumn) error {
	switch {
	case c.fieldType.isInteger():
		v, present, err := doc.Int(c.path)
		if err != nil {
			return err
		}
		if !present {
			ctx.ResultNull()
			return nil
		}
		ctx.ResultInt64(v)
	case c.fieldType == FieldTypeDouble:
		v, present, err := doc.Double(c.path)
		if err != nil {
			return err
		}
		if !present {
			ctx.ResultNull()
			return nil
		}
		ctx.ResultDouble(v)
	case c.fieldType == FieldTypeString:
		v, present, err := doc.String(c.path)
		if err != nil {
			return err
		}
		if !present {
			ctx.ResultNull()
			return nil
		}
		ctx.ResultText(v)
	default:
		v, present, err := doc.Blob(c.path)
		if err != nil {
			return err
		}
		if !present {
			ctx.ResultNull()
			return nil
		}
		ctx.ResultBlob(v)
	}
	return nil
}
