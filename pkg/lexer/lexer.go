package lexer

import (
	"strings"

	"github.com/neurodesk/quill/pkg/token"
)

// The lexer scans template source and yields tokens for text runs and the
// three delimiter forms: encoded properties {{ }}, raw properties {{{ }}} and
// expression tags {% %}. Comments open with {%-- and close with --%}; they may
// nest, so the lexer tracks how many are open.

const (
	rawOpen      = "{{{"
	rawClose     = "}}}"
	propOpen     = "{{"
	propClose    = "}}"
	exprOpen     = "{%"
	exprClose    = "%}"
	commentOpen  = "--"
	commentClose = "--%}"
)

type lexer struct {
	src   string
	i     int
	n     int
	depth int
	toks  []token.Token
}

// Lex splits src into tokens. It never fails: an unterminated tag simply ends
// the token stream and the parser decides whether that is fatal.
func Lex(src string) []token.Token {
	l := &lexer{src: src, n: len(src)}
	for l.i < l.n {
		l.lexText()
	}
	return l.toks
}

func (l *lexer) emit(kind token.Kind, start, end int) {
	l.toks = append(l.toks, token.Token{Kind: kind, Text: l.src[start:end], Pos: start})
}

func (l *lexer) hasPrefixAt(j int, s string) bool {
	return strings.HasPrefix(l.src[j:], s)
}

// lexText scans literal text up to the next delimiter, emits it, then hands
// the delimiter to the matching tag scanner.
func (l *lexer) lexText() {
	start := l.i
	flush := func() {
		if l.i > start {
			l.emit(token.Text, start, l.i)
		}
	}
	for l.i < l.n {
		switch {
		case l.depth > 0 && l.hasPrefixAt(l.i, commentClose):
			flush()
			l.emit(token.CommentEnd, l.i, l.i+len(commentClose))
			l.i += len(commentClose)
			l.depth--
			return
		case l.hasPrefixAt(l.i, rawOpen):
			flush()
			l.emit(token.RawStart, l.i, l.i+len(rawOpen))
			l.i += len(rawOpen)
			l.lexTag(token.RawEnd, rawClose, false)
			return
		case l.hasPrefixAt(l.i, propOpen):
			flush()
			l.emit(token.PropertyStart, l.i, l.i+len(propOpen))
			l.i += len(propOpen)
			l.lexTag(token.PropertyEnd, propClose, false)
			return
		case l.hasPrefixAt(l.i, exprOpen):
			flush()
			l.lexExprOpen()
			return
		}
		l.i++
	}
	flush()
}

// lexExprOpen handles everything that starts with {%: the closing tags that
// are emitted whole, comment openers and ordinary expression tags.
func (l *lexer) lexExprOpen() {
	if kind, end, ok := l.matchEndTag(); ok {
		l.emit(kind, l.i, end)
		l.i = end
		return
	}
	l.emit(token.ExprStart, l.i, l.i+len(exprOpen))
	l.i += len(exprOpen)
	if l.hasPrefixAt(l.i, commentOpen) {
		l.emit(token.Comment, l.i, l.i+len(commentOpen))
		l.i += len(commentOpen)
		l.depth++
		return
	}
	l.lexTag(token.ExprEnd, exprClose, true)
}

// matchEndTag recognizes {% endif %} and {% endeach %} with arbitrary inner
// whitespace and returns the offset just past the closing %}.
func (l *lexer) matchEndTag() (token.Kind, int, bool) {
	j := l.i + len(exprOpen)
	for j < l.n && isBlank(l.src[j]) {
		j++
	}
	var kind token.Kind
	switch {
	case l.hasPrefixAt(j, "endif"):
		kind = token.EndIf
		j += len("endif")
	case l.hasPrefixAt(j, "endeach"):
		kind = token.EndEach
		j += len("endeach")
	default:
		return 0, 0, false
	}
	for j < l.n && isBlank(l.src[j]) {
		j++
	}
	if !l.hasPrefixAt(j, exprClose) {
		return 0, 0, false
	}
	return kind, j + len(exprClose), true
}

// lexTag scans the inside of a tag until its closing delimiter. keywords
// enables keyword recognition, which only applies to {% %} tags.
func (l *lexer) lexTag(closeKind token.Kind, closer string, keywords bool) {
	for l.i < l.n {
		c := l.src[l.i]
		start := l.i
		switch {
		case l.depth > 0 && l.hasPrefixAt(l.i, commentClose):
			l.emit(token.CommentEnd, l.i, l.i+len(commentClose))
			l.i += len(commentClose)
			l.depth--
			return
		case l.hasPrefixAt(l.i, closer):
			l.emit(closeKind, l.i, l.i+len(closer))
			l.i += len(closer)
			return
		case isSeparator(c):
			for l.i < l.n && isSeparator(l.src[l.i]) {
				l.i++
			}
			l.emit(token.Whitespace, start, l.i)
		case c == '|':
			l.i++
			l.emit(token.FilterSep, start, l.i)
		case l.hasPrefixAt(l.i, "=="):
			l.i += 2
			l.emit(token.Equal, start, l.i)
		case l.hasPrefixAt(l.i, "!="):
			l.i += 2
			l.emit(token.NotEqual, start, l.i)
		case l.hasPrefixAt(l.i, "<="):
			l.i += 2
			l.emit(token.LessEqual, start, l.i)
		case l.hasPrefixAt(l.i, ">="):
			l.i += 2
			l.emit(token.GreaterEqual, start, l.i)
		case c == '<':
			l.i++
			l.emit(token.Less, start, l.i)
		case c == '>':
			l.i++
			l.emit(token.Greater, start, l.i)
		case c == '!':
			l.i++
			l.emit(token.Not, start, l.i)
		case c == '"' || c == '\'':
			l.scanQuoted(c)
			l.emit(token.Other, start, l.i)
		default:
			l.scanWord(closer)
			kind := token.Other
			if keywords {
				if k, ok := token.Keywords[l.src[start:l.i]]; ok {
					kind = k
				}
			}
			l.emit(kind, start, l.i)
		}
	}
}

// scanQuoted advances past a quoted string including both quotes. A missing
// closing quote consumes the rest of the input.
func (l *lexer) scanQuoted(q byte) {
	l.i++
	for l.i < l.n {
		switch l.src[l.i] {
		case '\\':
			l.i += 2
			continue
		case q:
			l.i++
			return
		}
		l.i++
	}
	l.i = l.n
}

func (l *lexer) scanWord(closer string) {
	l.i++
	for l.i < l.n {
		c := l.src[l.i]
		if isSeparator(c) || c == '|' || c == '!' || c == '<' || c == '>' || c == '"' || c == '\'' {
			return
		}
		if l.hasPrefixAt(l.i, "==") || l.hasPrefixAt(l.i, closer) {
			return
		}
		if l.depth > 0 && l.hasPrefixAt(l.i, commentClose) {
			return
		}
		l.i++
	}
}

func isBlank(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func isSeparator(b byte) bool {
	return isBlank(b) || b == ',' || b == '(' || b == ')'
}
