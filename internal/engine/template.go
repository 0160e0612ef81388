// Package engine implements prompt rendering, output discretization, and
// sequence execution.
package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
)

// placeholderRe matches {{ ... }} spans; the inner expression is evaluated
// against the render context.
var placeholderRe = regexp.MustCompile(`\{\{(.*?)\}\}`)

// TemplateUndefinedError reports a placeholder referencing a name absent from
// the render context.
type TemplateUndefinedError struct {
	Name string
}

func (e *TemplateUndefinedError) Error() string {
	return fmt.Sprintf("missing variable in prompt: %s", e.Name)
}

// RenderTemplate substitutes every {{expr}} placeholder with the evaluated,
// stringified result. Expressions support identifier, attribute, and index
// access. A referenced name missing from ctx fails with
// TemplateUndefinedError; it never renders as an empty string.
func RenderTemplate(template string, ctx map[string]any) (string, error) {
	var renderErr error
	rendered := placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		if renderErr != nil {
			return match
		}
		src := strings.TrimSpace(placeholderRe.FindStringSubmatch(match)[1])
		if src == "" {
			return ""
		}

		names, err := exprIdentifiers(src)
		if err != nil {
			renderErr = fmt.Errorf("parse placeholder %q: %w", src, err)
			return match
		}
		for _, name := range names {
			if _, ok := ctx[name]; !ok {
				renderErr = &TemplateUndefinedError{Name: name}
				return match
			}
		}

		program, err := expr.Compile(src, expr.AllowUndefinedVariables())
		if err != nil {
			renderErr = fmt.Errorf("compile placeholder %q: %w", src, err)
			return match
		}
		out, err := expr.Run(program, ctx)
		if err != nil {
			renderErr = fmt.Errorf("evaluate placeholder %q: %w", src, err)
			return match
		}
		return Stringify(out)
	})
	if renderErr != nil {
		return "", renderErr
	}
	return rendered, nil
}

// UndeclaredNames returns the set of top-level names a template references,
// in first-appearance order. Unparseable placeholders contribute nothing.
func UndeclaredNames(template string) []string {
	var (
		names []string
		seen  = map[string]bool{}
	)
	for _, match := range placeholderRe.FindAllStringSubmatch(template, -1) {
		src := strings.TrimSpace(match[1])
		if src == "" {
			continue
		}
		idents, err := exprIdentifiers(src)
		if err != nil {
			continue
		}
		for _, name := range idents {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names
}

// exprIdentifiers parses one expression and collects its identifier nodes.
// Attribute and index accesses count only their base identifier.
func exprIdentifiers(src string) ([]string, error) {
	tree, err := parser.Parse(src)
	if err != nil {
		return nil, err
	}
	v := &identCollector{seen: map[string]bool{}}
	ast.Walk(&tree.Node, v)
	return v.names, nil
}

type identCollector struct {
	names []string
	seen  map[string]bool
}

func (v *identCollector) Visit(node *ast.Node) {
	ident, ok := (*node).(*ast.IdentifierNode)
	if !ok || v.seen[ident.Value] {
		return
	}
	v.seen[ident.Value] = true
	v.names = append(v.names, ident.Value)
}

// Stringify converts an evaluated value to its canonical prompt form:
// numbers in plain decimal, booleans lowercase, nil as empty. Composite
// values are encoded as JSON.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}
