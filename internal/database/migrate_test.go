package database

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsOrdered(t *testing.T) {
	names, err := Migrations()
	require.NoError(t, err)
	require.NotEmpty(t, names)

	for i, name := range names {
		assert.True(t, strings.HasSuffix(name, ".sql"), name)
		if i > 0 {
			assert.Less(t, names[i-1], name)
		}
	}
}

func TestChangeTriggerNotifiesChannel(t *testing.T) {
	content, err := migrationsFS.ReadFile("migrations/002_reminder_changes.sql")
	require.NoError(t, err)
	assert.Contains(t, string(content), "'reminder_changes'")
	assert.Contains(t, string(content), "'user_id'")
}
