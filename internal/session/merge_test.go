package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/startupai/intake/internal/models"
)

func TestDeepMerge_NewKeys(t *testing.T) {
	dst := models.Brief{"a": 1}
	got := DeepMerge(dst, models.Brief{"b": 2})

	assert.Equal(t, 1, got["a"])
	assert.Equal(t, 2, got["b"])
}

func TestDeepMerge_ScalarOverwrite(t *testing.T) {
	dst := models.Brief{"budget_range": "$1,000"}
	got := DeepMerge(dst, models.Brief{"budget_range": "$5,000"})

	assert.Equal(t, "$5,000", got["budget_range"])
}

func TestDeepMerge_NestedMapsMergeRecursively(t *testing.T) {
	dst := models.Brief{
		"customer": map[string]any{"type": "b2b", "size": "smb"},
	}
	got := DeepMerge(dst, models.Brief{
		"customer": map[string]any{"size": "enterprise", "region": "us"},
	})

	customer, ok := got["customer"].(map[string]any)
	assert.True(t, ok)
	assert.Equal(t, "b2b", customer["type"], "untouched keys survive")
	assert.Equal(t, "enterprise", customer["size"], "incoming value wins")
	assert.Equal(t, "us", customer["region"])
}

func TestDeepMerge_ArraysReplaceWholesale(t *testing.T) {
	dst := models.Brief{"three_month_goals": []any{"launch", "hire"}}
	got := DeepMerge(dst, models.Brief{"three_month_goals": []any{"validate"}})

	assert.Equal(t, []any{"validate"}, got["three_month_goals"])
}

func TestDeepMerge_MapReplacesScalar(t *testing.T) {
	dst := models.Brief{"customer": "b2b"}
	got := DeepMerge(dst, models.Brief{"customer": map[string]any{"type": "b2c"}})

	customer, ok := got["customer"].(map[string]any)
	assert.True(t, ok)
	assert.Equal(t, "b2c", customer["type"])
}

func TestDeepMerge_NilDestination(t *testing.T) {
	got := DeepMerge(nil, models.Brief{"a": 1})
	assert.Equal(t, 1, got["a"])
}

func TestDeepMerge_EmptySource(t *testing.T) {
	dst := models.Brief{"a": 1}
	got := DeepMerge(dst, models.Brief{})
	assert.Equal(t, models.Brief{"a": 1}, got)
}
