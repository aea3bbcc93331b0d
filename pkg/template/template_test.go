package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func subject() map[string]any {
	return map[string]any{
		"entity_id": "item-42",
		"item.type": "LAB_SPECIMEN",
		"metric":    "TEMP_HIGH",
		"value":     9,
		"item": map[string]any{
			"metadata": map[string]any{"value": 15000},
		},
	}
}

func TestRender(t *testing.T) {
	tests := []struct {
		name     string
		template string
		expected string
	}{
		{name: "plain text", template: "Item quarantined", expected: "Item quarantined"},
		{name: "bare path", template: "Item {{entity_id}} is {{metric}}", expected: "Item item-42 is TEMP_HIGH"},
		{name: "flattened key", template: "{{ item.type }}", expected: "LAB_SPECIMEN"},
		{name: "nested path", template: "worth {{item.metadata.value}}", expected: "worth 15000"},
		{name: "missing path renders empty", template: "[{{custodian.name}}]", expected: "[]"},
		{name: "field function", template: `{{field "value"}}C`, expected: "9C"},
		{name: "pipeline", template: `{{field "metric" | upper}}`, expected: "TEMP_HIGH"},
		{name: "dot syntax", template: "{{ .entity_id }}", expected: "item-42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Render(tt.template, subject())
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestRender_ParseError(t *testing.T) {
	_, err := Render("{{ if }}", subject())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse template")
}

func TestRender_NowIsAFunction(t *testing.T) {
	result, err := Render("{{now}}", subject())
	require.NoError(t, err)
	assert.NotEmpty(t, result)
	assert.NotEqual(t, "{{now}}", result)
}

func TestRenderValue(t *testing.T) {
	tests := []struct {
		name     string
		template string
		expected any
	}{
		{name: "number", template: "{{value}}", expected: 9.0},
		{name: "boolean", template: "true", expected: true},
		{name: "json object", template: `{"id": "{{entity_id}}"}`, expected: map[string]any{"id": "item-42"}},
		{name: "string", template: "flagged by {{metric}}", expected: "flagged by TEMP_HIGH"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := RenderValue(tt.template, subject())
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}
