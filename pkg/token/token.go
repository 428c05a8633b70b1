package token

import "fmt"

// Kind identifies the lexical class of a token.
type Kind int

const (
	Text Kind = iota
	RawStart
	RawEnd
	PropertyStart
	PropertyEnd
	ExprStart
	ExprEnd
	Whitespace
	FilterSep
	Each
	EndEach
	If
	ElsIf
	Else
	EndIf
	Not
	Equal
	NotEqual
	Less
	Greater
	LessEqual
	GreaterEqual
	Assign
	Comment
	CommentEnd
	Partial
	Other
)

var kindNames = [...]string{
	Text:          "Text",
	RawStart:      "RawStart",
	RawEnd:        "RawEnd",
	PropertyStart: "PropertyStart",
	PropertyEnd:   "PropertyEnd",
	ExprStart:     "ExprStart",
	ExprEnd:       "ExprEnd",
	Whitespace:    "Whitespace",
	FilterSep:     "FilterSep",
	Each:          "Each",
	EndEach:       "EndEach",
	If:            "If",
	ElsIf:         "ElsIf",
	Else:          "Else",
	EndIf:         "EndIf",
	Not:           "Not",
	Equal:         "Equal",
	NotEqual:      "NotEqual",
	Less:          "Less",
	Greater:       "Greater",
	LessEqual:     "LessEqual",
	GreaterEqual:  "GreaterEqual",
	Assign:        "Assign",
	Comment:       "Comment",
	CommentEnd:    "CommentEnd",
	Partial:       "Partial",
	Other:         "Other",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// IsComparison reports whether k is one of the six comparison operators.
func (k Kind) IsComparison() bool {
	switch k {
	case Equal, NotEqual, Less, Greater, LessEqual, GreaterEqual:
		return true
	}
	return false
}

// Token is a single lexeme. Text holds the exact captured source text and Pos
// its byte offset.
type Token struct {
	Kind Kind
	Text string
	Pos  int
}

func (t Token) String() string {
	return fmt.Sprintf("%s(%q)@%d", t.Kind, t.Text, t.Pos)
}

// Keywords maps words that carry meaning inside {% %} tags.
var Keywords = map[string]Kind{
	"if":      If,
	"elsif":   ElsIf,
	"else":    Else,
	"each":    Each,
	"partial": Partial,
	"as":      Assign,
	"not":     Not,
}
