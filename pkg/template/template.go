// Package template renders action messages and field values against an entity snapshot.
//
// Besides regular text/template syntax, a bare dotted path such as
// {{item.metadata.value}} is resolved against the snapshot, including
// flattened keys like "item.type".
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/custodychain/custodyflow/pkg/conditions"
)

var barePath = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z0-9_]+)*)\s*\}\}`)

var keywords = map[string]struct{}{
	"if": {}, "else": {}, "end": {}, "range": {}, "with": {}, "define": {}, "block": {},
	"template": {}, "break": {}, "continue": {}, "nil": {}, "true": {}, "false": {},
}

// NeedsTemplating reports whether input contains template actions.
func NeedsTemplating(input string) bool {
	return strings.Contains(input, "{{")
}

// Render executes templateStr against subject and returns the text.
func Render(templateStr string, subject map[string]any) (string, error) {
	if !NeedsTemplating(templateStr) {
		return templateStr, nil
	}

	funcs := funcMap(subject)

	rewritten := barePath.ReplaceAllStringFunc(templateStr, func(match string) string {
		path := barePath.FindStringSubmatch(match)[1]
		if _, isFunc := funcs[path]; isFunc {
			return match
		}

		if _, isKeyword := keywords[path]; isKeyword {
			return match
		}

		return fmt.Sprintf("{{field %q}}", path)
	})

	tmpl, err := template.New("message").Option("missingkey=zero").Funcs(funcs).Parse(rewritten)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, subject)
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return buf.String(), nil
}

// RenderValue renders templateStr and converts the result to JSON, a number or
// a boolean when it looks like one.
func RenderValue(templateStr string, subject map[string]any) (any, error) {
	rendered, err := Render(templateStr, subject)
	if err != nil {
		return nil, err
	}

	result := strings.TrimSpace(rendered)
	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err != nil {
			return nil, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
		}

		return jsonResult, nil
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return rendered, nil
}

func funcMap(subject map[string]any) template.FuncMap {
	return template.FuncMap{
		"field": func(path string) any {
			v, ok := conditions.Resolve(subject, path)
			if !ok {
				return ""
			}

			return v
		},
		"now": func() string {
			return time.Now().UTC().Format(time.RFC3339)
		},
		"upper": strings.ToUpper,
	}
}
