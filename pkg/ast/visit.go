package ast

import (
	"bytes"
	"fmt"
	"strings"
)

type Visitor interface {
	Visit(n Node) error
}

// Walk visits n and then every node below it in document order. Else bodies
// are visited before a chained elsif.
func Walk(v Visitor, n Node) error {
	if err := v.Visit(n); err != nil {
		return err
	}
	switch t := n.(type) {
	case *Template:
		return walkAll(v, t.Nodes)
	case *Property:
		return walkFilters(v, t.Filters)
	case *RawProperty:
		return walkFilters(v, t.Filters)
	case *Conditional:
		if err := walkAll(v, t.Body); err != nil {
			return err
		}
		if err := walkAll(v, t.Else); err != nil {
			return err
		}
		if t.ElsIf != nil {
			return Walk(v, t.ElsIf)
		}
	case *Loop:
		return walkAll(v, t.Body)
	case *Text, *Filter, *Partial:
	default:
		return fmt.Errorf("unhandled node type: %T", n)
	}
	return nil
}

func walkAll(v Visitor, nodes []Node) error {
	for _, c := range nodes {
		if err := Walk(v, c); err != nil {
			return err
		}
	}
	return nil
}

func walkFilters(v Visitor, filters []*Filter) error {
	for _, f := range filters {
		if err := Walk(v, f); err != nil {
			return err
		}
	}
	return nil
}

// VisitorFunc adapts a function to the Visitor interface.
type VisitorFunc func(n Node) error

func (f VisitorFunc) Visit(n Node) error { return f(n) }

// Pretty returns a line-oriented string representation of the AST.
func Pretty(t *Template) string {
	var buf bytes.Buffer
	ppNode(&buf, 0, t)
	return buf.String()
}

func ppNode(buf *bytes.Buffer, indent int, n Node) {
	ind := func() { buf.WriteString(strings.Repeat(" ", indent)) }
	switch t := n.(type) {
	case *Template:
		ind()
		buf.WriteString("Template\n")
		ppNodes(buf, indent+2, t.Nodes)
	case *Text:
		ind()
		fmt.Fprintf(buf, "Text(%q)\n", t.Value)
	case *Property:
		ind()
		fmt.Fprintf(buf, "Property(%q)\n", t.Value)
		ppFilters(buf, indent+2, t.Filters)
	case *RawProperty:
		ind()
		fmt.Fprintf(buf, "RawProperty(%q)\n", t.Value)
		ppFilters(buf, indent+2, t.Filters)
	case *Filter:
		ind()
		args := make([]string, len(t.Args))
		for i, a := range t.Args {
			args[i] = a.Text
		}
		fmt.Fprintf(buf, "Filter(%s)\n", strings.Join(append([]string{t.Name}, args...), " "))
	case *Conditional:
		ind()
		fmt.Fprintf(buf, "If(%s)\n", conditionString(t.Conditions))
		ppNodes(buf, indent+2, t.Body)
		if t.HasElse() {
			ind()
			buf.WriteString("Else\n")
			ppNodes(buf, indent+2, t.Else)
		}
		for c := t.ElsIf; c != nil; c = c.ElsIf {
			ind()
			fmt.Fprintf(buf, "ElsIf(%s)\n", conditionString(c.Conditions))
			ppNodes(buf, indent+2, c.Body)
			if c.HasElse() {
				ind()
				buf.WriteString("Else\n")
				ppNodes(buf, indent+2, c.Else)
			}
		}
	case *Loop:
		ind()
		src := t.Source
		if src == "" {
			src = "."
		}
		fmt.Fprintf(buf, "Each(%s as %s, %s)\n", src, t.ValueAlias, t.KeyAlias)
		ppNodes(buf, indent+2, t.Body)
	case *Partial:
		ind()
		fmt.Fprintf(buf, "Partial(%s)\n", strings.Join(append([]string{t.Name}, t.Args...), " "))
	}
}

func ppNodes(buf *bytes.Buffer, indent int, nodes []Node) {
	for _, c := range nodes {
		ppNode(buf, indent, c)
	}
}

func ppFilters(buf *bytes.Buffer, indent int, filters []*Filter) {
	for _, f := range filters {
		ppNode(buf, indent, f)
	}
}

func conditionString(conds []Condition) string {
	parts := make([]string, len(conds))
	for i, c := range conds {
		parts[i] = c.Text
	}
	return strings.Join(parts, " ")
}
