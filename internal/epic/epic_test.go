package epic

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseIDNumericAndTagged(t *testing.T) {
	id, err := ParseID("3")
	require.NoError(t, err)
	assert.True(t, id.IsNumeric())
	assert.Equal(t, "3", id.String())

	tagged, err := ParseID("testarch")
	require.NoError(t, err)
	assert.False(t, tagged.IsNumeric())
	assert.Equal(t, "testarch", tagged.String())

	_, err = ParseID("")
	require.Error(t, err)
}

func TestIDOrderingNumericFirst(t *testing.T) {
	ids := []ID{mustID(t, "beta"), mustID(t, "10"), mustID(t, "alpha"), mustID(t, "2")}
	SortIDs(ids)
	got := make([]string, len(ids))
	for i, id := range ids {
		got[i] = id.String()
	}
	assert.Equal(t, []string{"2", "10", "alpha", "beta"}, got)
}

func mustID(t *testing.T, s string) ID {
	t.Helper()
	id, err := ParseID(s)
	require.NoError(t, err)
	return id
}

func TestParseEpicFileFrontmatterAndStories(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "epic-3-checkout.md", `---
epic_num: 3
title: Checkout flow
status: in-progress
---

## Overview

### Story 3.2: Payment capture

Details.

### Story 3.1: Cart review

### Story 9.1: Wrong epic, skipped
`)

	e, err := ParseEpicFile(path)
	require.NoError(t, err)
	assert.Equal(t, "3", e.ID.String())
	assert.Equal(t, "Checkout flow", e.Title)
	require.Len(t, e.Stories, 2)
	// Stories sort by number regardless of document order.
	assert.Equal(t, 1, e.Stories[0].Num)
	assert.Equal(t, "cart-review", e.Stories[0].Slug)
	assert.Equal(t, "3-1-cart-review", e.Stories[0].Key())
	assert.Equal(t, "3.2", e.Stories[1].Ref())
}

func TestParseEpicFileFallsBackToFilename(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "epic-7-no-frontmatter.md", "### Story 7.1: Only story\n")

	e, err := ParseEpicFile(path)
	require.NoError(t, err)
	assert.Equal(t, "7", e.ID.String())
	require.Len(t, e.Stories, 1)
}

func TestDiscoverEpicsSortsAndSkipsStrays(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "epic-2-b.md", "---\nepic_num: 2\ntitle: B\n---\n")
	writeFile(t, dir, "epic-1-a.md", "---\nepic_num: 1\ntitle: A\n---\n")
	writeFile(t, dir, "notes.md", "not an epic")

	epics, err := DiscoverEpics(dir)
	require.NoError(t, err)
	require.Len(t, epics, 2)
	assert.Equal(t, "1", epics[0].ID.String())

	none, err := DiscoverEpics(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestNormalizeStatusVariants(t *testing.T) {
	cases := map[string]StoryStatus{
		"Done":             StatusDone,
		"completed":        StatusDone,
		"Ready for Dev":    StatusReadyForDev,
		"**In Progress**":  StatusInProgress,
		"ready-for-review": StatusReview,
		"todo":             StatusBacklog,
	}
	for raw, want := range cases {
		got, ok := NormalizeStatus(raw)
		require.True(t, ok, raw)
		assert.Equal(t, want, got, raw)
	}
	_, ok := NormalizeStatus("blocked on vendor")
	assert.False(t, ok)
}

func TestParseStoryFileReadsStatusLine(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "3-2-payment-capture.md", "# Story\n\n**Status:** Review\n")

	f, err := ParseStoryFile(path)
	require.NoError(t, err)
	assert.Equal(t, "3-2-payment-capture", f.Key())
	assert.True(t, f.HasStatus)
	assert.Equal(t, StatusReview, f.Status)

	_, err = ParseStoryFile(filepath.Join(dir, "README.md"))
	require.Error(t, err)
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "user-login-oauth", Slugify("User Login (OAuth)"))
	assert.Equal(t, "a-b", Slugify("--A  &  B--"))
}
