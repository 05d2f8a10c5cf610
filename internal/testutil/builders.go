package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kyleking/text2sql-router/internal/schema"
)

// DatabaseRecord mirrors one entry of a tables.json corpus file
type DatabaseRecord struct {
	DBID        string   `json:"db_id"`
	Tables      []string `json:"table_names_original"`
	Columns     [][]any  `json:"column_names_original"`
	ColumnTypes []string `json:"column_types"`
	ForeignKeys [][]int  `json:"foreign_keys"`
}

// DatabaseOption is a functional option for configuring test databases
type DatabaseOption func(*DatabaseRecord)

// WithTable appends a table. Columns are "name" or "name:type"; the type
// defaults to text.
func WithTable(name string, columns ...string) DatabaseOption {
	return func(d *DatabaseRecord) {
		d.Tables = append(d.Tables, name)
		idx := len(d.Tables) - 1

		for _, col := range columns {
			colName, colType, found := strings.Cut(col, ":")
			if !found {
				colType = "text"
			}

			d.Columns = append(d.Columns, []any{idx, colName})
			d.ColumnTypes = append(d.ColumnTypes, colType)
		}
	}
}

// WithForeignKey links two existing columns by table and column name
func WithForeignKey(fromTable, fromColumn, toTable, toColumn string) DatabaseOption {
	return func(d *DatabaseRecord) {
		d.ForeignKeys = append(d.ForeignKeys, []int{
			d.columnIndex(fromTable, fromColumn),
			d.columnIndex(toTable, toColumn),
		})
	}
}

// WithRawForeignKey appends a foreign key by column index, including the wildcard at 0
func WithRawForeignKey(source, dest int) DatabaseOption {
	return func(d *DatabaseRecord) {
		d.ForeignKeys = append(d.ForeignKeys, []int{source, dest})
	}
}

func (d *DatabaseRecord) columnIndex(table, column string) int {
	for i, t := range d.Tables {
		if t != table {
			continue
		}

		for j, c := range d.Columns {
			if c[0] == i && c[1] == column {
				return j
			}
		}
	}

	return -1
}

// NewTestDatabase creates a corpus record with the leading wildcard column
// and applies any provided options.
func NewTestDatabase(id string, opts ...DatabaseOption) DatabaseRecord {
	db := DatabaseRecord{
		DBID:        id,
		Tables:      []string{},
		Columns:     [][]any{{schema.WildcardTable, "*"}},
		ColumnTypes: []string{"text"},
		ForeignKeys: [][]int{},
	}

	for _, opt := range opts {
		opt(&db)
	}

	return db
}

// ConcertSinger is the Spider concert_singer database
func ConcertSinger() DatabaseRecord {
	return NewTestDatabase(ConcertSingerID,
		WithTable("stadium",
			"Stadium_ID:number", "Location", "Name", "Capacity:number",
			"Highest:number", "Lowest:number", "Average:number"),
		WithTable("singer",
			"Singer_ID:number", "Name", "Country", "Song_Name",
			"Song_release_year", "Age:number", "Is_male:others"),
		WithTable("concert",
			"concert_ID:number", "concert_Name", "Theme", "Stadium_ID", "Year"),
		WithTable("singer_in_concert", "concert_ID:number", "Singer_ID"),
		WithForeignKey("concert", "Stadium_ID", "stadium", "Stadium_ID"),
		WithForeignKey("singer_in_concert", "Singer_ID", "singer", "Singer_ID"),
		WithForeignKey("singer_in_concert", "concert_ID", "concert", "concert_ID"),
	)
}

// Pets is the Spider pets_1 database
func Pets() DatabaseRecord {
	return NewTestDatabase(PetsID,
		WithTable("Student",
			"StuID:number", "LName", "Fname", "Age:number", "Sex",
			"Major:number", "Advisor:number", "city_code"),
		WithTable("Has_Pet", "StuID:number", "PetID:number"),
		WithTable("Pets", "PetID:number", "PetType", "pet_age:number", "weight:number"),
		WithForeignKey("Has_Pet", "StuID", "Student", "StuID"),
		WithForeignKey("Has_Pet", "PetID", "Pets", "PetID"),
	)
}

// Flights is the Spider flight_2 database
func Flights() DatabaseRecord {
	return NewTestDatabase(FlightsID,
		WithTable("airlines", "uid:number", "Airline", "Abbreviation", "Country"),
		WithTable("airports", "City", "AirportCode", "AirportName", "Country", "CountryAbbrev"),
		WithTable("flights", "Airline:number", "FlightNo:number", "SourceAirport", "DestAirport"),
		WithForeignKey("flights", "DestAirport", "airports", "AirportCode"),
		WithForeignKey("flights", "SourceAirport", "airports", "AirportCode"),
	)
}

// DefaultRecords returns the fixture databases in corpus order
func DefaultRecords() []DatabaseRecord {
	return []DatabaseRecord{ConcertSinger(), Pets(), Flights()}
}

// CorpusJSON encodes records as a tables.json document
func CorpusJSON(t testing.TB, records ...DatabaseRecord) []byte {
	t.Helper()

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		t.Fatalf("failed to encode corpus: %v", err)
	}

	return data
}

// WriteCorpusFile writes records to a tables.json file in a temp directory
// and returns its path. With no records the default fixture is written.
func WriteCorpusFile(t testing.TB, records ...DatabaseRecord) string {
	t.Helper()

	if len(records) == 0 {
		records = DefaultRecords()
	}

	path := filepath.Join(t.TempDir(), "tables.json")
	if err := os.WriteFile(path, CorpusJSON(t, records...), 0o600); err != nil {
		t.Fatalf("failed to write corpus: %v", err)
	}

	return path
}

// LoadCorpus parses records (default fixture when empty) into a corpus
func LoadCorpus(t testing.TB, records ...DatabaseRecord) *schema.Corpus {
	t.Helper()

	corpus, err := schema.LoadFile(WriteCorpusFile(t, records...))
	if err != nil {
		t.Fatalf("failed to load corpus: %v", err)
	}

	return corpus
}

// MustDatabase looks up id in corpus or fails the test
func MustDatabase(t testing.TB, corpus *schema.Corpus, id string) *schema.Database {
	t.Helper()

	db, ok := corpus.Lookup(id)
	if !ok {
		t.Fatalf("database %q not in corpus", id)
	}

	return db
}
