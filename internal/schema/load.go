package schema

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/kyleking/text2sql-router/internal/config"
	"github.com/kyleking/text2sql-router/internal/errors"
)

// rawDatabase mirrors one record of a Spider style tables.json file. Fields
// are pointers so an absent field can be told apart from an empty one.
type rawDatabase struct {
	DBID        *string            `json:"db_id"`
	Tables      *[]string          `json:"table_names_original"`
	Columns     *[]json.RawMessage `json:"column_names_original"`
	ColumnTypes *[]string          `json:"column_types"`
	ForeignKeys *[][]int           `json:"foreign_keys"`
}

// LoadFile reads and parses the corpus file at path.
func LoadFile(path string) (*Corpus, error) {
	f, err := os.Open(config.ExpandPath(path))
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrTypeFileSystem, "failed to open corpus %s", path).
			WithSuggestion("Set corpus.path or TEXT2SQL_CORPUS_PATH to a tables.json file")
	}
	defer f.Close()

	return Load(f)
}

// Load parses a corpus from r. Any structural problem yields a corpus_format error.
func Load(r io.Reader) (*Corpus, error) {
	var raws []rawDatabase

	if err := json.NewDecoder(r).Decode(&raws); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeCorpusFormat, "failed to decode corpus JSON")
	}

	databases := make([]*Database, 0, len(raws))

	for i, raw := range raws {
		db, err := raw.toDatabase(i)
		if err != nil {
			return nil, err
		}

		databases = append(databases, db)
	}

	return NewCorpus(databases)
}

func (raw rawDatabase) toDatabase(position int) (*Database, error) {
	if raw.DBID == nil || strings.TrimSpace(*raw.DBID) == "" {
		return nil, corpusError("", "record %d has no db_id", position)
	}

	id := *raw.DBID

	switch {
	case raw.Tables == nil:
		return nil, corpusError(id, "missing table_names_original")
	case raw.Columns == nil:
		return nil, corpusError(id, "missing column_names_original")
	case raw.ColumnTypes == nil:
		return nil, corpusError(id, "missing column_types")
	case raw.ForeignKeys == nil:
		return nil, corpusError(id, "missing foreign_keys")
	}

	db := &Database{
		ID:          id,
		Tables:      *raw.Tables,
		ColumnTypes: *raw.ColumnTypes,
		Columns:     make([]Column, 0, len(*raw.Columns)),
		ForeignKeys: make([]ForeignKey, 0, len(*raw.ForeignKeys)),
	}

	for i, entry := range *raw.Columns {
		col, err := parseColumn(entry)
		if err != nil {
			return nil, corpusError(id, "column %d: %v", i, err)
		}

		db.Columns = append(db.Columns, col)
	}

	for i, pair := range *raw.ForeignKeys {
		if len(pair) != 2 {
			return nil, corpusError(id, "foreign key %d is not a [source, dest] pair", i)
		}

		db.ForeignKeys = append(db.ForeignKeys, ForeignKey{Source: pair[0], Dest: pair[1]})
	}

	return db, nil
}

func parseColumn(entry json.RawMessage) (Column, error) {
	var pair []any
	if err := json.Unmarshal(entry, &pair); err != nil || len(pair) != 2 {
		return Column{}, fmt.Errorf("expected [table_index, column_name], got %s", string(entry))
	}

	idx, ok := pair[0].(float64)
	if !ok || idx != math.Trunc(idx) {
		return Column{}, fmt.Errorf("table index %v is not an integer", pair[0])
	}

	name, ok := pair[1].(string)
	if !ok {
		return Column{}, fmt.Errorf("column name %v is not a string", pair[1])
	}

	return Column{TableIndex: int(idx), Name: name}, nil
}

// validate checks the index invariants derive relies on.
func (d *Database) validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return corpusError("", "db_id is empty")
	}

	if len(d.ColumnTypes) != len(d.Columns) {
		return corpusError(d.ID, "column_types has %d entries, column_names_original has %d",
			len(d.ColumnTypes), len(d.Columns))
	}

	seen := make(map[string]struct{}, len(d.Tables))

	for _, t := range d.Tables {
		key := strings.ToLower(t)
		if _, dup := seen[key]; dup {
			return corpusError(d.ID, "duplicate table name %q", t)
		}

		seen[key] = struct{}{}
	}

	for i, c := range d.Columns {
		if c.TableIndex == WildcardTable {
			continue
		}

		if c.TableIndex < 0 || c.TableIndex >= len(d.Tables) {
			return corpusError(d.ID, "column %d (%s) has table index %d out of range", i, c.Name, c.TableIndex)
		}
	}

	for i, fk := range d.ForeignKeys {
		for _, idx := range []int{fk.Source, fk.Dest} {
			if idx < 0 || idx >= len(d.Columns) {
				return corpusError(d.ID, "foreign key %d references column index %d out of range", i, idx)
			}
		}
	}

	return nil
}

func corpusError(dbID, format string, args ...any) error {
	return errors.NewCorpusError(dbID, format, args...)
}
