// Package sqlcheck checks generated SQL against the schema it was generated
// for: every table and column it mentions must exist.
package sqlcheck

import (
	"strings"
	"unicode"
)

type tokenType int

const (
	tokWord tokenType = iota
	tokQuoted
	tokString
	tokNumber
	tokLParen
	tokRParen
	tokComma
	tokDot
	tokSemicolon
	tokStar
	tokOperator
)

type token struct {
	typ  tokenType
	text string
	// spaceBefore is set when whitespace or a comment preceded the token
	spaceBefore bool
	// open marks a string or quoted name that runs to the end of input
	open bool
}

// lex splits sql into tokens. It never fails: unterminated strings and
// quoted names run to the end of input and unknown characters become
// operators.
func lex(sql string) []token {
	var (
		tokens []token
		space  bool
	)

	runes := []rune(sql)

	emit := func(typ tokenType, text string) {
		tokens = append(tokens, token{typ: typ, text: text, spaceBefore: space})
		space = false
	}

	emitQuoted := func(typ tokenType, start int, closing rune) int {
		text, next, closed := scanQuoted(runes, start, closing)
		emit(typ, text)
		tokens[len(tokens)-1].open = !closed

		return next
	}

	for i := 0; i < len(runes); {
		r := runes[i]

		switch {
		case unicode.IsSpace(r):
			space = true
			i++
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}

			space = true
		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			i += 2
			for i < len(runes) && (runes[i] != '*' || i+1 >= len(runes) || runes[i+1] != '/') {
				i++
			}

			i = min(i+2, len(runes))
			space = true
		case r == '\'':
			i = emitQuoted(tokString, i, '\'')
		case r == '"' || r == '`':
			i = emitQuoted(tokQuoted, i, r)
		case r == '[':
			i = emitQuoted(tokQuoted, i, ']')
		case isWordStart(r):
			start := i
			for i < len(runes) && isWordPart(runes[i]) {
				i++
			}

			emit(tokWord, string(runes[start:i]))
		case unicode.IsDigit(r) || (r == '.' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			start := i
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.' || runes[i] == 'e' || runes[i] == 'E') {
				i++
			}

			emit(tokNumber, string(runes[start:i]))
		case r == '(':
			emit(tokLParen, "(")
			i++
		case r == ')':
			emit(tokRParen, ")")
			i++
		case r == ',':
			emit(tokComma, ",")
			i++
		case r == '.':
			emit(tokDot, ".")
			i++
		case r == ';':
			emit(tokSemicolon, ";")
			i++
		case r == '*':
			emit(tokStar, "*")
			i++
		default:
			start := i
			for i < len(runes) && strings.ContainsRune("<>=!|&+-/%^~:", runes[i]) && i-start < 2 {
				i++
			}

			if i == start {
				i++
			}

			emit(tokOperator, string(runes[start:i]))
		}
	}

	return tokens
}

// scanQuoted reads a quoted run starting at runes[start]. A doubled closing
// quote is an escaped quote. It returns the unquoted text, the index after
// the closing quote and whether the closing quote was found.
func scanQuoted(runes []rune, start int, closing rune) (string, int, bool) {
	var b strings.Builder

	i := start + 1
	for i < len(runes) {
		if runes[i] == closing {
			if closing != ']' && i+1 < len(runes) && runes[i+1] == closing {
				b.WriteRune(closing)
				i += 2

				continue
			}

			return b.String(), i + 1, true
		}

		b.WriteRune(runes[i])
		i++
	}

	return b.String(), i, false
}

func isWordStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_'
}

func isWordPart(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '$'
}

// CountStatements returns the number of non-empty statements in sql.
// Semicolons inside strings, quoted names and comments do not separate
// statements.
func CountStatements(sql string) int {
	count, pending := 0, false

	for _, t := range lex(sql) {
		if t.typ != tokSemicolon {
			pending = true
			continue
		}

		if pending {
			count++
			pending = false
		}
	}

	if pending {
		count++
	}

	return count
}
