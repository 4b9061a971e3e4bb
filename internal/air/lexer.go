package air

import (
	"fmt"
	"strconv"
	"strings"
)

// tokenKind is the kind of a lexical token.
type tokenKind int

const (
	tokEOF tokenKind = iota
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokString
	tokWord
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of script"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	case tokLBracket:
		return "'['"
	case tokRBracket:
		return "']'"
	case tokString:
		return "string"
	}
	return "word"
}

// token is a lexical token. Text holds the unquoted string for tokString.
type token struct {
	Kind tokenKind
	Text string
	Pos  int
}

// ParseError reports a malformed script.
type ParseError struct {
	Pos    int
	Line   int
	Column int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("air:%d:%d: %s", e.Line, e.Column, e.Msg)
}

func newParseError(src string, pos int, format string, args ...any) *ParseError {
	line, col := 1, 1
	for i := 0; i < pos && i < len(src); i++ {
		if src[i] == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return &ParseError{Pos: pos, Line: line, Column: col, Msg: fmt.Sprintf(format, args...)}
}

// lex splits the script into tokens. Comments run from ';' to end of line.
// A word may contain brackets only inside a lambda step, as in x.$.[0].
func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == ';':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case c == '(':
			toks = append(toks, token{Kind: tokLParen, Pos: i})
			i++
		case c == ')':
			toks = append(toks, token{Kind: tokRParen, Pos: i})
			i++
		case c == '[':
			toks = append(toks, token{Kind: tokLBracket, Pos: i})
			i++
		case c == ']':
			toks = append(toks, token{Kind: tokRBracket, Pos: i})
			i++
		case c == '"':
			end, err := scanString(src, i)
			if err != nil {
				return nil, err
			}
			text, uerr := strconv.Unquote(src[i:end])
			if uerr != nil {
				return nil, newParseError(src, i, "invalid string literal %s", src[i:end])
			}
			toks = append(toks, token{Kind: tokString, Text: text, Pos: i})
			i = end
		default:
			start := i
			depth := 0
			for i < len(src) {
				c := src[i]
				if c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '(' || c == ')' || c == '"' || c == ';' {
					break
				}
				if c == '[' {
					if i == start || src[i-1] != '.' {
						break
					}
					depth++
				}
				if c == ']' {
					if depth == 0 {
						break
					}
					depth--
				}
				i++
			}
			if depth != 0 {
				return nil, newParseError(src, start, "unterminated lambda in %q", src[start:i])
			}
			toks = append(toks, token{Kind: tokWord, Text: src[start:i], Pos: start})
		}
	}
	toks = append(toks, token{Kind: tokEOF, Pos: len(src)})
	return toks, nil
}

func scanString(src string, start int) (int, error) {
	i := start + 1
	for i < len(src) {
		switch src[i] {
		case '\\':
			i += 2
			continue
		case '"':
			return i + 1, nil
		case '\n':
			return 0, newParseError(src, start, "newline in string literal")
		}
		i++
	}
	return 0, newParseError(src, start, "unterminated string literal")
}

// isNumber reports whether a word looks like a number literal.
func isNumber(w string) bool {
	w = strings.TrimPrefix(w, "-")
	return w != "" && w[0] >= '0' && w[0] <= '9'
}
