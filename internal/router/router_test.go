package router

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"claude-local-proxy/internal/config"
)

func TestRouter_Resolve(t *testing.T) {
	backend := config.Backend{
		DefaultModel: "llama3.1:8b",
		Models: config.RouteTable{
			{Pattern: "claude-3-5", Target: "qwen2.5:7b"},
			{Pattern: "claude-3-5-sonnet-20241022", Target: "llama3.1:70b"},
			{Pattern: "claude-3-opus", Target: "mixtral:8x7b"},
		},
	}
	r := New(backend)

	tests := []struct {
		name      string
		requested string
		expected  string
	}{
		{
			// Exact match wins even when a shorter prefix entry
			// is defined earlier in the table.
			name:      "exact match beats earlier prefix",
			requested: "claude-3-5-sonnet-20241022",
			expected:  "llama3.1:70b",
		},
		{
			name:      "first defined prefix match",
			requested: "claude-3-5-haiku-20241022",
			expected:  "qwen2.5:7b",
		},
		{
			name:      "later prefix entry",
			requested: "claude-3-opus-20240229",
			expected:  "mixtral:8x7b",
		},
		{
			name:      "no match falls back to default",
			requested: "gpt-4o",
			expected:  "llama3.1:8b",
		},
		{
			name:      "empty request falls back to default",
			requested: "",
			expected:  "llama3.1:8b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, r.Resolve(tt.requested))
		})
	}
}

func TestRouter_EmptyTable(t *testing.T) {
	r := New(config.Backend{DefaultModel: "llama3.1:8b"})

	assert.Equal(t, "llama3.1:8b", r.Resolve("claude-3-5-sonnet"))
}
