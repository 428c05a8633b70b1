package ast

// Node is any AST node in a parsed template.
type Node interface {
	node()
}

// Template is the root node produced by the parser.
type Template struct {
	Nodes []Node
}

func (*Template) node() {}

// Text represents literal text between tags. The parser never produces two
// adjacent Text siblings.
type Text struct {
	Value string
}

func (*Text) node() {}

// Interpolation is the shared shape of encoded and raw properties: an
// identifier path (or a single literal) and the filters applied to it in
// order.
type Interpolation struct {
	Value   string
	Filters []*Filter
}

// Property is an encoded interpolation: {{ path | filter }}.
type Property struct {
	Interpolation
}

func (*Property) node() {}

// RawProperty is an interpolation whose value is written unescaped:
// {{{ path | filter }}}.
type RawProperty struct {
	Interpolation
}

func (*RawProperty) node() {}

// Filter is a named transform applied to a property value.
type Filter struct {
	Name string
	Args []Operand
}

func (*Filter) node() {}

// Operand is an eagerly classified argument: either a literal value or an
// identifier path resolved at render time.
type Operand struct {
	Literal bool
	Text    string
	Value   any
}

// NewOperand classifies text as a literal or an identifier path.
func NewOperand(text string) Operand {
	if v, ok := ParseLiteral(text); ok {
		return Operand{Literal: true, Text: text, Value: v}
	}
	return Operand{Text: text}
}

// ConditionKind classifies a single condition token.
type ConditionKind int

const (
	CondIdentifier ConditionKind = iota
	CondNot
	CondLiteral
	CondEquality
)

func (k ConditionKind) String() string {
	switch k {
	case CondIdentifier:
		return "Identifier"
	case CondNot:
		return "Not"
	case CondLiteral:
		return "Literal"
	case CondEquality:
		return "Equality"
	}
	return "Unknown"
}

// Condition is one element of a conditional header. Text holds the captured
// text (the operator for CondEquality); Value holds the parsed literal for
// CondLiteral.
type Condition struct {
	Kind  ConditionKind
	Text  string
	Value any
}

// Conditional represents an if/elsif/else chain. At most one of Else and
// ElsIf is set.
type Conditional struct {
	Conditions []Condition
	Body       []Node
	Else       []Node
	ElsIf      *Conditional
	hasElse    bool
}

func (*Conditional) node() {}

// SetElse attaches an else body. An empty else body still counts as present.
func (c *Conditional) SetElse(body []Node) {
	c.Else = body
	c.hasElse = true
}

// HasElse reports whether an else branch was attached.
func (c *Conditional) HasElse() bool { return c.hasElse }

const (
	DefaultValueAlias = "."
	DefaultKeyAlias   = "i"
)

// Loop iterates Source (the current data when empty), binding each element
// to ValueAlias and its index or key to KeyAlias.
type Loop struct {
	Source     string
	ValueAlias string
	KeyAlias   string
	Body       []Node
}

func (*Loop) node() {}

// Partial renders a registered sub-template, optionally with a context path.
type Partial struct {
	Name string
	Args []string
}

func (*Partial) node() {}

// Context returns the identifier path used as the partial's data, if any.
// Only the first argument is meaningful.
func (p *Partial) Context() (string, bool) {
	if len(p.Args) == 0 {
		return "", false
	}
	return p.Args[0], true
}
