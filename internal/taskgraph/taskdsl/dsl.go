// Package taskdsl parses task statements such as
//
//	left_pressed = rising(mouse.left, 0.5)
//	left_released = falling(mouse.left, level=0.5)
package taskdsl

import (
	"fmt"
	"strconv"
	"strings"
)

func ParseStatement(stmt string) (Statement, error) {
	result, err := statementParser.ParseString("", stmt)
	if err != nil {
		return Statement{}, err
	}
	return *result, nil
}

// Inputs returns the node references in argument order.
func (s Statement) Inputs() []string {
	var inputs []string
	for _, arg := range s.Call.Arguments {
		if arg.Node != nil {
			inputs = append(inputs, *arg.Node)
		}
	}
	return inputs
}

// Param returns a numeric parameter by name, falling back to the positional
// number at position (counting numeric arguments only). Position -1 disables
// the fallback.
func (s Statement) Param(name string, position int) (float64, bool) {
	for _, arg := range s.Call.Arguments {
		if arg.Named != nil && arg.Named.Name == name {
			return arg.Named.Value, true
		}
	}
	if position < 0 {
		return 0, false
	}
	n := 0
	for _, arg := range s.Call.Arguments {
		if arg.Number == nil {
			continue
		}
		if n == position {
			return *arg.Number, true
		}
		n++
	}
	return 0, false
}

// NamedParams lists the names of named arguments.
func (s Statement) NamedParams() []string {
	var names []string
	for _, arg := range s.Call.Arguments {
		if arg.Named != nil {
			names = append(names, arg.Named.Name)
		}
	}
	return names
}

func (s Statement) String() string {
	args := make([]string, 0, len(s.Call.Arguments))
	for _, arg := range s.Call.Arguments {
		switch {
		case arg.Named != nil:
			args = append(args, fmt.Sprintf("%s=%s", arg.Named.Name, formatNumber(arg.Named.Value)))
		case arg.Number != nil:
			args = append(args, formatNumber(*arg.Number))
		case arg.Node != nil:
			args = append(args, *arg.Node)
		}
	}
	return fmt.Sprintf("%s = %s(%s)", s.Output, s.Call.Op, strings.Join(args, ", "))
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
