package sqlcheck

import "strings"

// Kind tags the variants of the token tree
type Kind int

const (
	KindKeyword Kind = iota
	KindIdentifier
	KindIdentifierList
	KindFunction
	KindGroup
	KindLiteral
	KindPunct
	KindOperator
	KindWildcard
	KindType
)

var kindNames = [...]string{
	KindKeyword:        "keyword",
	KindIdentifier:     "identifier",
	KindIdentifierList: "identifier_list",
	KindFunction:       "function",
	KindGroup:          "group",
	KindLiteral:        "literal",
	KindPunct:          "punct",
	KindOperator:       "operator",
	KindWildcard:       "wildcard",
	KindType:           "type",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}

	return "unknown"
}

// Node is one element of the token tree
type Node interface {
	Kind() Kind
}

// Leaf is a keyword, literal, punctuation, operator, wildcard or type name
// token. Keywords and type names are upper-cased.
type Leaf struct {
	kind Kind
	Text string
}

func (l *Leaf) Kind() Kind { return l.kind }

// Identifier is a possibly qualified name with an optional alias
type Identifier struct {
	Parts []string
	Alias string
}

func (*Identifier) Kind() Kind { return KindIdentifier }

// RealName is the last part of a qualified name, so s.name is name
func (i *Identifier) RealName() string {
	return i.Parts[len(i.Parts)-1]
}

// IdentifierList is a comma-separated run of items
type IdentifierList struct {
	Items []Node
}

func (*IdentifierList) Kind() Kind { return KindIdentifierList }

// Function is a name applied to a parenthesized argument group
type Function struct {
	Name  string
	Args  *Group
	Alias string
}

func (*Function) Kind() Kind { return KindFunction }

// Group is a parenthesized run of nodes, or the whole statement at top level.
// A subquery in FROM may carry an alias.
type Group struct {
	Children []Node
	Alias    string
}

func (*Group) Kind() Kind { return KindGroup }

// keywords never name a column. Words that are also common column names
// (year, date, name, type, ...) are left out and recognized by position.
var keywords = toSet(
	"ALL", "ALTER", "AND", "ANY", "ARRAY", "AS", "ASC", "ASYMMETRIC", "BETWEEN",
	"BOTH", "BY", "CASE", "CHECK", "COLLATE", "COLUMN", "CONSTRAINT",
	"CREATE", "CROSS", "CURRENT", "CURRENT_DATE", "CURRENT_TIME",
	"CURRENT_TIMESTAMP", "CURRENT_USER", "DEFAULT", "DELETE", "DESC", "DISTINCT",
	"DO", "DROP", "ELSE", "END", "ESCAPE", "EXCEPT", "EXCLUDE", "EXISTS",
	"EXPLAIN", "FALSE", "FETCH", "FILTER", "FIRST", "FOLLOWING", "FOR", "FOREIGN",
	"FROM", "FULL", "GLOB", "GRANT", "GROUP", "HAVING", "IF", "ILIKE", "IN",
	"INNER", "INSERT", "INTERSECT", "INTERVAL", "INTO", "IS", "ISNULL", "JOIN",
	"LAST", "LATERAL", "LEADING", "LEFT", "LIKE", "LIMIT", "LOCALTIME",
	"LOCALTIMESTAMP", "NATURAL", "NEXT", "NOT", "NOTNULL", "NULL", "NULLS",
	"OFFSET", "ON", "ONLY", "OR", "ORDER", "OTHERS", "OUTER", "OVER", "PARTITION",
	"PRECEDING", "PRIMARY", "RANGE", "RECURSIVE", "REFERENCES", "REGEXP",
	"RETURNING", "RIGHT", "ROW", "ROWS", "SELECT", "SESSION_USER", "SET",
	"SIMILAR", "SOME", "SYMMETRIC", "TABLE", "THEN", "TIES", "TO", "TOP",
	"TRAILING", "TRUE", "UNBOUNDED", "UNION", "UNIQUE", "UPDATE", "USING",
	"VALUES", "VARIADIC", "WHEN", "WHERE", "WINDOW", "WITH", "WITHIN", "WITHOUT",
)

// typeNames are recognized after "::", after AS inside CAST and before a
// string in typed literals such as DATE '2020-01-01'
var typeNames = toSet(
	"BIGINT", "BOOL", "BOOLEAN", "CHAR", "CHARACTER", "DATE", "DATETIME",
	"DECIMAL", "DOUBLE", "FLOAT", "FLOAT4", "FLOAT8", "INT", "INT2", "INT4",
	"INT8", "INTEGER", "INTERVAL", "JSON", "JSONB", "NUMERIC", "PRECISION",
	"REAL", "SIGNED", "SMALLINT", "STRING", "TEXT", "TIME", "TIMESTAMP",
	"TIMESTAMPTZ", "UNSIGNED", "UUID", "VARCHAR", "VARYING", "ZONE",
)

// castFunctions take "expr AS type" arguments
var castFunctions = toSet("CAST", "TRY_CAST")

// functions are recognized even when whitespace separates the name from "("
var functions = toSet(
	"AVG", "COUNT", "MAX", "MIN", "SUM", "COALESCE", "LOWER", "UPPER", "LENGTH",
	"ROUND", "ABS", "SUBSTR", "SUBSTRING", "TRIM", "IFNULL", "NULLIF",
	"EXTRACT", "DATE_PART", "STRFTIME", "REPLACE", "INSTR", "POSITION",
)

func toSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}

	return set
}

func isKeyword(word string) bool {
	_, ok := keywords[strings.ToUpper(word)]
	return ok
}

func isTypeName(word string) bool {
	_, ok := typeNames[strings.ToUpper(word)]
	return ok
}

// Parse builds the token tree for sql. It never fails; unbalanced
// parentheses close at end of input.
func Parse(sql string) *Group {
	p := &treeParser{tokens: lex(sql)}
	return &Group{Children: p.parseLevel(false)}
}

type treeParser struct {
	tokens []token
	pos    int
	// inCast is set while reading the arguments of CAST
	inCast bool
}

func (p *treeParser) peek(offset int) (token, bool) {
	if p.pos+offset >= len(p.tokens) {
		return token{}, false
	}

	return p.tokens[p.pos+offset], true
}

func (p *treeParser) next() token {
	t := p.tokens[p.pos]
	p.pos++

	return t
}

// parseLevel reads nodes until the matching ")" when nested, or to the end.
func (p *treeParser) parseLevel(nested bool) []Node {
	var nodes []Node

	for p.pos < len(p.tokens) {
		t := p.next()

		switch t.typ {
		case tokRParen:
			if nested {
				return groupLists(nodes)
			}

			nodes = append(nodes, &Leaf{kind: KindPunct, Text: t.text})
		case tokLParen:
			g := &Group{Children: p.parseLevel(true)}
			g.Alias = p.parseAlias()
			nodes = append(nodes, g)
		case tokWord:
			nodes = append(nodes, p.parseWord(t))
		case tokQuoted:
			nodes = append(nodes, p.parseName(t.text))
		case tokString, tokNumber:
			nodes = append(nodes, &Leaf{kind: KindLiteral, Text: t.text})
		case tokStar:
			nodes = append(nodes, &Leaf{kind: KindWildcard, Text: t.text})
		case tokOperator:
			nodes = append(nodes, &Leaf{kind: KindOperator, Text: t.text})

			if t.text == "::" {
				if typ := p.parseType(true); typ != nil {
					nodes = append(nodes, typ)
				}
			}
		default:
			nodes = append(nodes, &Leaf{kind: KindPunct, Text: t.text})
		}
	}

	return groupLists(nodes)
}

func (p *treeParser) parseWord(t token) Node {
	if isKeyword(t.text) {
		return &Leaf{kind: KindKeyword, Text: strings.ToUpper(t.text)}
	}

	next, ok := p.peek(0)

	if ok && next.typ == tokString && isTypeName(t.text) {
		return &Leaf{kind: KindType, Text: strings.ToUpper(t.text)}
	}

	if ok && next.typ == tokLParen {
		name := strings.ToUpper(t.text)
		_, known := functions[name]
		_, cast := castFunctions[name]

		if !next.spaceBefore || known || cast {
			p.next()

			outer := p.inCast
			p.inCast = cast
			args := &Group{Children: p.parseLevel(true)}
			p.inCast = outer

			fn := &Function{Name: t.text, Args: args}
			fn.Alias = p.parseAlias()

			return fn
		}
	}

	return p.parseName(t.text)
}

// parseType reads a type name such as "double precision" or
// "varchar(20)". With force the first word is taken even when it is not a
// known type name.
func (p *treeParser) parseType(force bool) Node {
	var words []string

	for {
		t, ok := p.peek(0)
		if ok && len(words) > 0 && t.typ == tokWord && (strings.EqualFold(t.text, "WITH") || strings.EqualFold(t.text, "WITHOUT")) {
			// "timestamp with time zone"
			if zone, ok := p.peek(1); ok && zone.typ == tokWord && strings.EqualFold(zone.text, "TIME") {
				p.pos++
				words = append(words, strings.ToUpper(t.text))

				continue
			}
		}

		if !ok || t.typ != tokWord || (!isTypeName(t.text) && !(force && len(words) == 0)) {
			break
		}

		p.pos++
		words = append(words, strings.ToUpper(t.text))
	}

	if len(words) == 0 {
		return nil
	}

	if t, ok := p.peek(0); ok && t.typ == tokLParen {
		p.pos++
		p.parseLevel(true)
	}

	return &Leaf{kind: KindType, Text: strings.Join(words, " ")}
}

// parseName reads the rest of a dotted name and its alias. A trailing ".*"
// makes the whole name a wildcard.
func (p *treeParser) parseName(first string) Node {
	id := &Identifier{Parts: []string{first}}

	for {
		dot, ok := p.peek(0)
		if !ok || dot.typ != tokDot {
			break
		}

		part, ok := p.peek(1)
		if !ok {
			break
		}

		switch part.typ {
		case tokWord, tokQuoted:
			p.pos += 2
			id.Parts = append(id.Parts, part.text)

			continue
		case tokStar:
			p.pos += 2

			return &Leaf{kind: KindWildcard, Text: strings.Join(id.Parts, ".") + ".*"}
		}

		break
	}

	id.Alias = p.parseAlias()

	return id
}

// parseAlias consumes "AS name" or a bare non-keyword name.
func (p *treeParser) parseAlias() string {
	t, ok := p.peek(0)
	if !ok {
		return ""
	}

	if t.typ == tokWord && strings.EqualFold(t.text, "AS") {
		if p.inCast {
			if after, ok := p.peek(1); ok && after.typ == tokWord {
				p.pos++
				p.parseType(true)

				return ""
			}
		}

		name, ok := p.peek(1)
		if ok && (name.typ == tokQuoted || (name.typ == tokWord && !isKeyword(name.text))) {
			p.pos += 2
			return name.text
		}

		return ""
	}

	if t.typ == tokQuoted || (t.typ == tokWord && !isKeyword(t.text)) {
		if next, ok := p.peek(1); ok && next.typ == tokLParen && !next.spaceBefore {
			return ""
		}

		p.pos++

		return t.text
	}

	return ""
}

func listable(n Node) bool {
	switch n.Kind() {
	case KindIdentifier, KindFunction, KindLiteral, KindWildcard, KindGroup:
		return true
	default:
		return false
	}
}

func isComma(n Node) bool {
	l, ok := n.(*Leaf)
	return ok && l.kind == KindPunct && l.Text == ","
}

// groupLists folds "a, b, c" runs into IdentifierList nodes.
func groupLists(nodes []Node) []Node {
	out := make([]Node, 0, len(nodes))

	for i := 0; i < len(nodes); {
		if !listable(nodes[i]) || i+2 >= len(nodes) || !isComma(nodes[i+1]) || !listable(nodes[i+2]) {
			out = append(out, nodes[i])
			i++

			continue
		}

		list := &IdentifierList{Items: []Node{nodes[i]}}
		i++

		for i+1 < len(nodes) && isComma(nodes[i]) && listable(nodes[i+1]) {
			list.Items = append(list.Items, nodes[i+1])
			i += 2
		}

		out = append(out, list)
	}

	return out
}
