// Package render evaluates the small expression language workflows use:
// expr expressions over a named tree of context providers, either embedded in
// text between "{{ }}" delimiters or standing alone as one raw expression.
package render

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
)

// A Provider yields a structured value on demand; the tree it returns is
// addressed by the provider's registration name.
type Provider func() any

// Context is the named provider map consulted during evaluation. Order is
// irrelevant at evaluation time; names must be unique.
type Context map[string]Provider

// Static wraps a fixed value as a Provider.
func Static(v any) Provider {
	return func() any { return v }
}

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

// Render evaluates input against ctx. In raw mode the whole input is one
// expression and the structured result is returned as-is. In text mode every
// delimited expression is evaluated and stringified into the surrounding
// text.
func Render(input string, raw bool, ctx Context) (any, error) {
	env := make(map[string]any, len(ctx))
	for name, provide := range ctx {
		env[name] = provide()
	}

	if raw {
		return eval(strings.TrimSpace(input), env)
	}

	var b strings.Builder
	rest := input
	for {
		start := strings.Index(rest, openDelim)
		if start < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		end := strings.Index(rest[start:], closeDelim)
		if end < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		end += start

		b.WriteString(rest[:start])
		exprText := strings.TrimSpace(rest[start+len(openDelim) : end])
		v, err := eval(exprText, env)
		if err != nil {
			return nil, err
		}
		b.WriteString(stringify(v))
		rest = rest[end+len(closeDelim):]
	}
}

func eval(code string, env map[string]any) (any, error) {
	if code == "" {
		return nil, nil
	}
	program, err := expr.Compile(code, expr.Env(env), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile expression %q: %w", code, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("evaluate expression %q: %w", code, err)
	}
	return out, nil
}

// IsFalsy implements the workflow condition contract: only false, nil and
// integer zero are falsy.
func IsFalsy(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case bool:
		return !t
	case int:
		return t == 0
	case int64:
		return t == 0
	case float64:
		// Numbers arriving through JSON decoding carry integer zero as 0.0.
		return t == 0
	case uint64:
		return t == 0
	}
	return false
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}
