package guard

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokenKeyword tokenKind = iota
	tokenIdentifier
	tokenNumber
	tokenString
	tokenPunct
)

type token struct {
	kind tokenKind
	text string // keywords are upper-cased, identifiers keep their case
	pos  int    // byte offset in the statement
}

// allowedKeywords is the complete allow-list of barewords the guard will
// accept. Everything else that lexes as a word must resolve against the
// catalog or a bound alias. Mutating and schema-modifying keywords are
// absent on purpose; there is no block-list anywhere in the guard.
var allowedKeywords = map[string]bool{
	// clause structure
	"SELECT": true, "FROM": true, "WHERE": true, "GROUP": true, "BY": true,
	"HAVING": true, "ORDER": true, "LIMIT": true, "OFFSET": true,
	"AS": true, "DISTINCT": true, "ALL": true,
	// joins
	"JOIN": true, "INNER": true, "LEFT": true, "RIGHT": true, "FULL": true,
	"OUTER": true, "CROSS": true, "ON": true, "USING": true,
	// predicates
	"AND": true, "OR": true, "NOT": true, "IN": true, "IS": true,
	"NULL": true, "LIKE": true, "GLOB": true, "BETWEEN": true, "EXISTS": true,
	// expressions
	"CASE": true, "WHEN": true, "THEN": true, "ELSE": true, "END": true,
	"ASC": true, "DESC": true, "CAST": true,
	// compound selects (still read-only)
	"UNION": true, "INTERSECT": true, "EXCEPT": true,
	// aggregate and scalar functions
	"COUNT": true, "SUM": true, "AVG": true, "MIN": true, "MAX": true,
	"TOTAL": true, "GROUP_CONCAT": true,
	"ABS": true, "ROUND": true, "LENGTH": true, "UPPER": true, "LOWER": true,
	"SUBSTR": true, "TRIM": true, "COALESCE": true, "IFNULL": true, "NULLIF": true,
	"DATE": true, "TIME": true, "DATETIME": true, "JULIANDAY": true,
	"STRFTIME": true, "TYPEOF": true,
	// cast targets
	"INTEGER": true, "INT": true, "REAL": true, "TEXT": true, "NUMERIC": true,
}

// allowedPunct lists the punctuation and operators a SELECT may contain.
var allowedPunct = map[string]bool{
	"(": true, ")": true, ",": true, ".": true, "*": true,
	"=": true, "<": true, ">": true, "<=": true, ">=": true,
	"!=": true, "<>": true, "+": true, "-": true, "/": true, "%": true,
	"||": true,
}

func isWordStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isWordChar(ch byte) bool {
	return isWordStart(ch) || (ch >= '0' && ch <= '9')
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

// lex tokenizes a statement. Any byte sequence the lexer does not
// recognize is a rejection: the guard never passes through what it cannot
// classify.
func lex(sql string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(sql) {
		ch := sql[i]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			i++

		case isWordStart(ch):
			start := i
			for i < len(sql) && isWordChar(sql[i]) {
				i++
			}
			word := sql[start:i]
			upper := strings.ToUpper(word)
			if allowedKeywords[upper] {
				tokens = append(tokens, token{kind: tokenKeyword, text: upper, pos: start})
			} else {
				tokens = append(tokens, token{kind: tokenIdentifier, text: word, pos: start})
			}

		case ch == '"' || ch == '`':
			// Quoted identifier.
			quote := ch
			start := i
			i++
			for i < len(sql) && sql[i] != quote {
				i++
			}
			if i >= len(sql) {
				return nil, fmt.Errorf("unterminated quoted identifier at offset %d", start)
			}
			tokens = append(tokens, token{kind: tokenIdentifier, text: sql[start+1 : i], pos: start})
			i++

		case ch == '\'':
			start := i
			i++
			for i < len(sql) {
				if sql[i] == '\'' {
					if i+1 < len(sql) && sql[i+1] == '\'' {
						i += 2
						continue
					}
					break
				}
				i++
			}
			if i >= len(sql) {
				return nil, fmt.Errorf("unterminated string literal at offset %d", start)
			}
			i++
			tokens = append(tokens, token{kind: tokenString, text: sql[start:i], pos: start})

		case isDigit(ch):
			start := i
			for i < len(sql) && (isDigit(sql[i]) || sql[i] == '.') {
				i++
			}
			tokens = append(tokens, token{kind: tokenNumber, text: sql[start:i], pos: start})

		default:
			// Two-character operators first.
			if i+1 < len(sql) {
				two := sql[i : i+2]
				if allowedPunct[two] {
					tokens = append(tokens, token{kind: tokenPunct, text: two, pos: i})
					i += 2
					continue
				}
			}
			one := string(ch)
			if allowedPunct[one] {
				tokens = append(tokens, token{kind: tokenPunct, text: one, pos: i})
				i++
				continue
			}
			return nil, fmt.Errorf("disallowed character %q at offset %d", ch, i)
		}
	}
	return tokens, nil
}
