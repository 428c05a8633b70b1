package ast

import (
	"strconv"
	"strings"
)

// ParseLiteral classifies text as a boolean, numeric or quoted string literal
// and returns its value. Numbers are returned as float64.
func ParseLiteral(text string) (any, bool) {
	s := strings.TrimSpace(text)
	if s == "" {
		return nil, false
	}
	switch s {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	if str, ok := unquote(s); ok {
		return str, true
	}
	if isNumeric(s) {
		f, err := strconv.ParseFloat(s, 64)
		if err == nil {
			return f, true
		}
	}
	return nil, false
}

// isNumeric accepts plain decimal notation only, so identifiers such as
// "Inf" or "NaN" stay identifiers.
func isNumeric(s string) bool {
	i := 0
	if s[0] == '-' || s[0] == '+' {
		i++
	}
	digits, dot := 0, false
	for ; i < len(s); i++ {
		switch c := s[i]; {
		case c >= '0' && c <= '9':
			digits++
		case c == '.' && !dot:
			dot = true
		default:
			return false
		}
	}
	return digits > 0
}

func unquote(s string) (string, bool) {
	if len(s) < 2 {
		return "", false
	}
	q := s[0]
	if (q != '"' && q != '\'') || s[len(s)-1] != q {
		return "", false
	}
	if q == '"' {
		if v, err := strconv.Unquote(s); err == nil {
			return v, true
		}
	}
	inner := s[1 : len(s)-1]
	return strings.ReplaceAll(inner, `\`+string(q), string(q)), true
}
