package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kotoba-app/kotoba/internal/account"
	"github.com/kotoba-app/kotoba/internal/learning"
)

func TestParseOrder(t *testing.T) {
	got, err := parseOrder("3, 1,2", 3)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 0, 1}, got)

	_, err = parseOrder("1,4", 3)
	assert.Error(t, err)
	_, err = parseOrder("a", 3)
	assert.Error(t, err)
}

func TestResolveLabelsAcceptsCodesAndLabels(t *testing.T) {
	cat, ok := account.LookupCategory("game")
	require.True(t, ok)

	got := resolveLabels(cat.Subs, []string{"201", "리듬게임", "999"})
	assert.Equal(t, []string{"JRPG", "리듬게임"}, got)
}

func TestStepMarks(t *testing.T) {
	p := learning.NewProgress().WithStep(learning.StepSpeak, true)
	assert.Equal(t, "[·understand ✓speak ·check]", stepMarks(p))
	assert.Equal(t, "○", statusGlyph(p))

	p.Status = learning.StatusMemorized
	assert.Equal(t, "✿", statusGlyph(p))
}

func TestTruncateCountsRunes(t *testing.T) {
	assert.Equal(t, "日本", truncate("日本語", 2))
	assert.Equal(t, "abc", truncate("abc", 5))
}
