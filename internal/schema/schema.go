// Package schema loads a corpus of database descriptions and derives the
// renderings used for matching, projection and validation.
package schema

import (
	"fmt"
	"strings"
)

// WildcardTable is the table index the corpus reserves for the "*" column.
const WildcardTable = -1

// Column is one (table_index, column_name) entry of a database.
type Column struct {
	TableIndex int
	Name       string
}

// TypedColumn pairs a column name with its corpus type tag.
type TypedColumn struct {
	Name string
	Type string
}

// ForeignKey references two entries of Database.Columns.
type ForeignKey struct {
	Source int
	Dest   int
}

// Edge is a foreign key resolved to table and column names.
type Edge struct {
	FromTable  string
	FromColumn string
	ToTable    string
	ToColumn   string
}

func (e Edge) String() string {
	return fmt.Sprintf("%s.%s -> %s.%s", e.FromTable, e.FromColumn, e.ToTable, e.ToColumn)
}

// Database is one entry of the corpus plus its derived views. It is never
// mutated after Load returns.
type Database struct {
	ID          string
	Tables      []string
	Columns     []Column
	ColumnTypes []string
	ForeignKeys []ForeignKey

	TableColumns     map[string][]string
	TableColumnTypes map[string][]TypedColumn
	Edges            []Edge
	DescriptiveText  string

	tableSet  map[string]struct{}
	columnSet map[string]struct{}
}

// HasTable reports whether name is a table of the database, ignoring case.
func (d *Database) HasTable(name string) bool {
	_, ok := d.tableSet[strings.ToLower(name)]
	return ok
}

// HasColumn reports whether name is a column of any table, ignoring case.
func (d *Database) HasColumn(name string) bool {
	_, ok := d.columnSet[strings.ToLower(name)]
	return ok
}

// TableFragment renders "{table}: {c1, c2, ...}" for projection scoring.
func (d *Database) TableFragment(table string) string {
	return table + ": " + strings.Join(d.TableColumns[table], ", ")
}

// FineGrainedText renders every table with column types, followed by a blank
// line and one "Foreign key:" line per resolved edge.
func (d *Database) FineGrainedText() string {
	lines := make([]string, 0, len(d.Tables)+len(d.Edges)+1)

	for _, table := range d.Tables {
		cols := d.TableColumnTypes[table]
		parts := make([]string, len(cols))

		for i, c := range cols {
			parts[i] = fmt.Sprintf("%s (%s)", c.Name, c.Type)
		}

		lines = append(lines, fmt.Sprintf("Table %s: %s", table, strings.Join(parts, ", ")))
	}

	if len(d.Edges) > 0 {
		lines = append(lines, "")
		for _, e := range d.Edges {
			lines = append(lines, fmt.Sprintf("Foreign key: %s.%s → %s.%s", e.FromTable, e.FromColumn, e.ToTable, e.ToColumn))
		}
	}

	return strings.Join(lines, "\n")
}

// derive fills the computed views. Indices must already be validated.
func (d *Database) derive() {
	d.TableColumns = make(map[string][]string, len(d.Tables))
	d.TableColumnTypes = make(map[string][]TypedColumn, len(d.Tables))
	d.tableSet = make(map[string]struct{}, len(d.Tables))
	d.columnSet = make(map[string]struct{}, len(d.Columns))

	for _, t := range d.Tables {
		d.TableColumns[t] = []string{}
		d.TableColumnTypes[t] = []TypedColumn{}
		d.tableSet[strings.ToLower(t)] = struct{}{}
	}

	for i, c := range d.Columns {
		if c.TableIndex == WildcardTable {
			continue
		}

		table := d.Tables[c.TableIndex]
		d.TableColumns[table] = append(d.TableColumns[table], c.Name)
		d.TableColumnTypes[table] = append(d.TableColumnTypes[table], TypedColumn{Name: c.Name, Type: d.ColumnTypes[i]})
		d.columnSet[strings.ToLower(c.Name)] = struct{}{}
	}

	for _, fk := range d.ForeignKeys {
		src, dst := d.Columns[fk.Source], d.Columns[fk.Dest]
		if src.TableIndex == WildcardTable || dst.TableIndex == WildcardTable {
			continue
		}

		d.Edges = append(d.Edges, Edge{
			FromTable:  d.Tables[src.TableIndex],
			FromColumn: src.Name,
			ToTable:    d.Tables[dst.TableIndex],
			ToColumn:   dst.Name,
		})
	}

	var lines []string

	for _, t := range d.Tables {
		cols := d.TableColumns[t]
		if len(cols) == 0 {
			continue
		}

		lines = append(lines, fmt.Sprintf("Table %s: %s", t, strings.Join(cols, ", ")))
	}

	d.DescriptiveText = strings.Join(lines, "\n")
}

// Corpus is the ordered, read-only set of databases.
type Corpus struct {
	databases []*Database
	byID      map[string]*Database
}

// NewCorpus validates and indexes databases in the given order.
func NewCorpus(databases []*Database) (*Corpus, error) {
	c := &Corpus{
		databases: make([]*Database, 0, len(databases)),
		byID:      make(map[string]*Database, len(databases)),
	}

	for _, db := range databases {
		if err := db.validate(); err != nil {
			return nil, err
		}

		if _, dup := c.byID[db.ID]; dup {
			return nil, corpusError(db.ID, "duplicate db_id")
		}

		db.derive()
		c.databases = append(c.databases, db)
		c.byID[db.ID] = db
	}

	return c, nil
}

// Databases returns the databases in corpus order. Callers must not modify the slice.
func (c *Corpus) Databases() []*Database {
	return c.databases
}

// Lookup returns the database with the given id.
func (c *Corpus) Lookup(id string) (*Database, bool) {
	db, ok := c.byID[id]
	return db, ok
}

// Len returns the number of databases.
func (c *Corpus) Len() int {
	return len(c.databases)
}

// First returns the first database in corpus order, or nil for an empty corpus.
func (c *Corpus) First() *Database {
	if len(c.databases) == 0 {
		return nil
	}

	return c.databases[0]
}
