package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinTemplates(t *testing.T) {
	templates := BuiltinTemplates()
	assert.Equal(t, []string{"admin", "developer", "read_only", "read_write"}, TemplateNames(templates))

	readOnly := templates["read_only"]
	assert.Equal(t, []string{"SELECT"}, readOnly.Grant[ObjectTable])
	assert.Contains(t, readOnly.Revoke[ObjectTable], "TRUNCATE")
	assert.Equal(t, []string{"USAGE"}, readOnly.Grant[ObjectSchema])
	assert.Equal(t, []string{"CREATE"}, readOnly.Revoke[ObjectSchema])

	admin := templates["admin"]
	assert.Empty(t, admin.Revoke)
	assert.Equal(t, []string{"ALL"}, admin.Grant[ObjectTable])
}

func TestLoadTemplates_MergesOverBuiltins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
templates:
  reporting:
    description: Reporting access
    grant:
      schema: [USAGE]
      table: [SELECT]
  read_only:
    description: Stricter read-only
    grant:
      table: [SELECT]
    revoke:
      schema: [CREATE, USAGE]
`), 0o644))

	templates, err := LoadTemplates(path)
	require.NoError(t, err)

	require.Contains(t, templates, "reporting")
	assert.Equal(t, "reporting", templates["reporting"].Name)
	assert.Equal(t, []string{"SELECT"}, templates["reporting"].Grant[ObjectTable])
	assert.NotNil(t, templates["reporting"].Revoke)

	// File entries replace built-ins of the same name.
	assert.Equal(t, "Stricter read-only", templates["read_only"].Description)
	assert.Equal(t, []string{"CREATE", "USAGE"}, templates["read_only"].Revoke[ObjectSchema])

	// Untouched built-ins remain.
	assert.Contains(t, templates, "developer")
}

func TestLoadTemplates_EmptyPathReturnsBuiltins(t *testing.T) {
	templates, err := LoadTemplates("")
	require.NoError(t, err)
	assert.Len(t, templates, 4)
}

func TestLoadTemplates_MissingFile(t *testing.T) {
	_, err := LoadTemplates(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
