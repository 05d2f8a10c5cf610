package sqlcheck

import (
	"slices"
	"strings"
)

// Mentions are the lower-cased table and column names a statement refers to
type Mentions struct {
	Tables  []string `json:"tables"`
	Columns []string `json:"columns"`
}

// tableIntroducers are keywords whose next identifier names a table
var tableIntroducers = toSet("FROM", "JOIN", "INTO", "UPDATE")

// datetimeFields name the part EXTRACT takes before FROM
var datetimeFields = toSet(
	"CENTURY", "DAY", "DECADE", "DOW", "DOY", "EPOCH", "HOUR", "ISODOW",
	"ISOYEAR", "MICROSECONDS", "MILLENNIUM", "MILLISECONDS", "MINUTE", "MONTH",
	"QUARTER", "SECOND", "TIMEZONE", "WEEK", "YEAR",
)

// Extract walks the token tree of sql and collects table and column mentions.
// Tables are the names after FROM (single or comma list) or JOIN of a
// statement or subquery. Every other identifier counts as a column, including
// function arguments and SELECT-list aliases; qualified names contribute
// their last part. FROM inside function arguments, as in
// extract(year from d), introduces no table.
func Extract(sql string) Mentions {
	v := &visitor{tables: map[string]struct{}{}, columns: map[string]struct{}{}}
	v.visitAll(Parse(sql).Children, true)

	return Mentions{Tables: sortedKeys(v.tables), Columns: sortedKeys(v.columns)}
}

type visitor struct {
	tables  map[string]struct{}
	columns map[string]struct{}
}

// visitAll visits one level of the tree. tables is false inside function
// arguments, where FROM belongs to the function's own syntax.
func (v *visitor) visitAll(nodes []Node, tables bool) {
	expectTable := false

	for _, node := range nodes {
		switch n := node.(type) {
		case *Leaf:
			if n.kind == KindKeyword {
				_, expectTable = tableIntroducers[n.Text]
				expectTable = expectTable && tables

				continue
			}
		case *Identifier:
			if expectTable {
				v.table(n)
			} else {
				v.column(n)
			}
		case *IdentifierList:
			for _, item := range n.Items {
				if id, ok := item.(*Identifier); ok && expectTable {
					v.table(id)
					continue
				}

				v.visitAll([]Node{item}, tables)
			}
		case *Function:
			v.visitAll(functionArgs(n), isSubquery(n.Args))

			if n.Alias != "" {
				v.add(v.columns, n.Alias)
			}
		case *Group:
			v.visitAll(n.Children, tables || isSubquery(n))
		}

		expectTable = false
	}
}

// functionArgs drops the datetime field of extract(field from expr)
func functionArgs(fn *Function) []Node {
	args := fn.Args.Children
	if !strings.EqualFold(fn.Name, "EXTRACT") || len(args) < 2 {
		return args
	}

	field, ok := args[0].(*Identifier)
	if !ok || len(field.Parts) != 1 {
		return args
	}

	if _, known := datetimeFields[strings.ToUpper(field.Parts[0])]; !known {
		return args
	}

	if from, ok := args[1].(*Leaf); ok && from.kind == KindKeyword && from.Text == "FROM" {
		return args[1:]
	}

	return args
}

// isSubquery reports whether g starts with SELECT or WITH
func isSubquery(g *Group) bool {
	if len(g.Children) == 0 {
		return false
	}

	l, ok := g.Children[0].(*Leaf)

	return ok && l.kind == KindKeyword && (l.Text == "SELECT" || l.Text == "WITH")
}

func (v *visitor) table(id *Identifier) {
	v.add(v.tables, id.RealName())
}

func (v *visitor) column(id *Identifier) {
	v.add(v.columns, id.RealName())

	if id.Alias != "" {
		v.add(v.columns, id.Alias)
	}
}

func (v *visitor) add(set map[string]struct{}, name string) {
	if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
		set[name] = struct{}{}
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	return keys
}
