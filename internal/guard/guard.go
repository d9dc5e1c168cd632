// Package guard validates translated SQL before execution. It is the only
// gate between the model's untrusted output and the database, so it works
// strictly by allow-list: a statement passes only if every token is a
// known keyword, a catalog identifier, a bound alias, a literal, or
// permitted punctuation. Obfuscation cannot smuggle anything through
// because unclassifiable input is rejected outright.
package guard

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/logging"
	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/schema"
	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/types"
)

// Reason classifies why a statement was rejected.
type Reason string

const (
	ReasonNotSelect       Reason = "not_select"
	ReasonMultipleStmts   Reason = "multiple_statements"
	ReasonLexRejected     Reason = "lex_rejected"
	ReasonUnknownTable    Reason = "unknown_table"
	ReasonUnknownColumn   Reason = "unknown_column"
	ReasonUnknownIdent    Reason = "unknown_identifier"
	ReasonEmptyStatement  Reason = "empty_statement"
	ReasonMalformedClause Reason = "malformed_clause"
)

// UnsafeStatementError indicates a statement failed the safety policy.
type UnsafeStatementError struct {
	Reason Reason
	Detail string
}

func (e *UnsafeStatementError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("unsafe statement (%s): %s", e.Reason, e.Detail)
	}
	return fmt.Sprintf("unsafe statement (%s)", e.Reason)
}

// Guard validates statements against a catalog and a row limit.
type Guard struct {
	catalog  *schema.Catalog
	rowLimit int
}

// New creates a Guard. rowLimit is the maximum row count any certified
// statement may return; the guard injects or clamps a LIMIT clause to
// enforce it.
func New(catalog *schema.Catalog, rowLimit int) *Guard {
	return &Guard{catalog: catalog, rowLimit: rowLimit}
}

// Validate applies the safety policy and returns the statement certified
// and stamped with the catalog fingerprint, with its LIMIT clause injected
// or clamped. The input value is unchanged on failure.
func (g *Guard) Validate(stmt types.SqlStatement) (types.SqlStatement, error) {
	timer := logging.StartTimer(logging.CategoryGuard, "Validate")
	defer timer.Stop()

	text := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(stmt.Text), ";"))
	if text == "" {
		return stmt, &UnsafeStatementError{Reason: ReasonEmptyStatement}
	}
	if strings.ContainsRune(text, ';') {
		// A semicolon anywhere after trimming the trailing one means a
		// second statement.
		if outsideString(text, ';') {
			logging.GuardWarn("rejected: embedded statement separator")
			return stmt, &UnsafeStatementError{Reason: ReasonMultipleStmts}
		}
	}

	tokens, err := lex(text)
	if err != nil {
		logging.GuardWarn("rejected at lexer: %v", err)
		return stmt, &UnsafeStatementError{Reason: ReasonLexRejected, Detail: err.Error()}
	}
	if len(tokens) == 0 {
		return stmt, &UnsafeStatementError{Reason: ReasonEmptyStatement}
	}
	if tokens[0].kind != tokenKeyword || tokens[0].text != "SELECT" {
		logging.GuardWarn("rejected: statement is not a SELECT")
		return stmt, &UnsafeStatementError{Reason: ReasonNotSelect}
	}

	if uerr := g.resolveIdentifiers(tokens); uerr != nil {
		logging.GuardWarn("rejected: %v", uerr)
		return stmt, uerr
	}

	limited, uerr := g.applyRowLimit(text, tokens)
	if uerr != nil {
		return stmt, uerr
	}

	certified := types.SqlStatement{
		Text:              limited,
		Kind:              types.StatementSelect,
		SchemaFingerprint: g.catalog.Fingerprint(),
		Certified:         true,
	}
	logging.Guard("certified: %q", certified.Text)
	return certified, nil
}

// resolveIdentifiers checks every identifier against the catalog and the
// aliases the statement itself binds.
func (g *Guard) resolveIdentifiers(tokens []token) *UnsafeStatementError {
	aliases := collectAliases(tokens)

	// Table references after FROM/JOIN must be catalog tables.
	for i, tok := range tokens {
		if tok.kind != tokenKeyword || (tok.text != "FROM" && tok.text != "JOIN") {
			continue
		}
		if i+1 >= len(tokens) {
			return &UnsafeStatementError{Reason: ReasonMalformedClause, Detail: tok.text + " with no table"}
		}
		next := tokens[i+1]
		if next.kind == tokenPunct && next.text == "(" {
			// Subquery; its own FROM clauses are checked by this same loop.
			continue
		}
		if next.kind != tokenIdentifier {
			return &UnsafeStatementError{Reason: ReasonMalformedClause, Detail: tok.text + " not followed by a table name"}
		}
		if !g.catalog.HasTable(next.text) {
			return &UnsafeStatementError{Reason: ReasonUnknownTable, Detail: next.text}
		}
	}

	for i, tok := range tokens {
		if tok.kind != tokenIdentifier {
			continue
		}
		name := tok.text

		// Qualified reference: check table part and column part together.
		if i+2 < len(tokens) && tokens[i+1].kind == tokenPunct && tokens[i+1].text == "." {
			table := name
			if resolved, ok := aliases[strings.ToLower(table)]; ok {
				table = resolved
			}
			if !g.catalog.HasTable(table) {
				return &UnsafeStatementError{Reason: ReasonUnknownTable, Detail: name}
			}
			col := tokens[i+2]
			if col.kind == tokenPunct && col.text == "*" {
				continue
			}
			if col.kind != tokenIdentifier || !g.catalog.HasColumn(table, col.text) {
				return &UnsafeStatementError{Reason: ReasonUnknownColumn, Detail: name + "." + col.text}
			}
			continue
		}

		// Skip the column part of a qualified reference; handled above.
		if i >= 2 && tokens[i-1].kind == tokenPunct && tokens[i-1].text == "." {
			continue
		}

		lower := strings.ToLower(name)
		if _, ok := aliases[lower]; ok {
			continue
		}
		if g.catalog.KnownIdentifier(name) {
			continue
		}
		return &UnsafeStatementError{Reason: ReasonUnknownIdent, Detail: name}
	}
	return nil
}

// collectAliases gathers the identifiers a statement binds itself: table
// aliases in FROM/JOIN clauses and column aliases after AS.
func collectAliases(tokens []token) map[string]string {
	aliases := make(map[string]string)

	for i, tok := range tokens {
		// "AS alias" anywhere binds the alias. For table aliases record the
		// table it stands for; for expression aliases record an empty target.
		if tok.kind == tokenKeyword && tok.text == "AS" && i+1 < len(tokens) && tokens[i+1].kind == tokenIdentifier {
			target := ""
			if i >= 1 && tokens[i-1].kind == tokenIdentifier {
				target = tokens[i-1].text
			}
			aliases[strings.ToLower(tokens[i+1].text)] = target
		}

		// "FROM table alias" / "JOIN table alias" without AS.
		if tok.kind == tokenKeyword && (tok.text == "FROM" || tok.text == "JOIN") {
			if i+2 < len(tokens) &&
				tokens[i+1].kind == tokenIdentifier &&
				tokens[i+2].kind == tokenIdentifier {
				aliases[strings.ToLower(tokens[i+2].text)] = tokens[i+1].text
			}
		}
	}
	return aliases
}

// applyRowLimit bounds a statement's top-level LIMIT. The injected or
// clamped value is rowLimit+1, one past the cap the executor keeps: the
// sentinel row lets the executor see that the source had more rows than
// the maximum and set the truncation flag instead of dropping them
// silently. A smaller LIMIT the statement asked for itself is kept. The
// comma form "LIMIT offset, count" bounds its count the same way.
func (g *Guard) applyRowLimit(text string, tokens []token) (string, *UnsafeStatementError) {
	sentinel := g.rowLimit + 1
	depth := 0
	for i, tok := range tokens {
		if tok.kind == tokenPunct {
			switch tok.text {
			case "(":
				depth++
			case ")":
				depth--
			}
			continue
		}
		if tok.kind != tokenKeyword || tok.text != "LIMIT" || depth != 0 {
			continue
		}
		if i+1 >= len(tokens) || tokens[i+1].kind != tokenNumber {
			return "", &UnsafeStatementError{Reason: ReasonMalformedClause, Detail: "LIMIT without a literal value"}
		}
		countTok := tokens[i+1]
		// "LIMIT x, y" means LIMIT y OFFSET x; the second number is the
		// count the policy has to bound.
		if i+3 < len(tokens) && tokens[i+2].kind == tokenPunct && tokens[i+2].text == "," {
			if tokens[i+3].kind != tokenNumber {
				return "", &UnsafeStatementError{Reason: ReasonMalformedClause, Detail: "LIMIT offset without a count"}
			}
			countTok = tokens[i+3]
		}
		n, err := strconv.Atoi(countTok.text)
		if err != nil {
			return "", &UnsafeStatementError{Reason: ReasonMalformedClause, Detail: "non-integer LIMIT"}
		}
		if n <= g.rowLimit {
			return text, nil
		}
		// Clamp in place.
		clamped := text[:countTok.pos] + strconv.Itoa(sentinel) + text[countTok.pos+len(countTok.text):]
		logging.GuardDebug("clamped LIMIT %d -> %d", n, sentinel)
		return clamped, nil
	}
	return text + " LIMIT " + strconv.Itoa(sentinel), nil
}

// outsideString reports whether ch occurs outside single-quoted string
// literals.
func outsideString(text string, ch rune) bool {
	inString := false
	for i := 0; i < len(text); i++ {
		if text[i] == '\'' {
			if inString && i+1 < len(text) && text[i+1] == '\'' {
				i++
				continue
			}
			inString = !inString
			continue
		}
		if rune(text[i]) == ch && !inString {
			return true
		}
	}
	return false
}
