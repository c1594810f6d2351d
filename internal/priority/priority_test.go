package priority

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func repoFile(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), "..", "..", rel)
}

func TestLoadShippedTable(t *testing.T) {
	table, err := Load(repoFile(t, "config/roles.yaml"))
	require.NoError(t, err)

	assert.NotEmpty(t, table.Version)
	assert.Len(t, table.Categories, 32)
	assert.Equal(t, []string{"EMERGENCY_DOCTOR", "CARDIOLOGIST"}, table.RolesFor("CARDIAC_ARREST"))
	assert.Equal(t, []string{"PSYCHIATRIST", "NURSE", "EMERGENCY_DOCTOR"}, table.RolesFor("SUICIDE_RISK"))
}

func TestRolesForUnknownCategory(t *testing.T) {
	table, err := Parse([]byte("version: v1\ncategories:\n  FEVER_HIGH: [NURSE]\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{DefaultRole}, table.RolesFor("UNHEARD_OF"))
	assert.Equal(t, []string{DefaultRole}, table.RolesFor(""))
}

func TestRolesForReturnsCopy(t *testing.T) {
	table, err := Parse([]byte("version: v1\ncategories:\n  STROKE_SUSPECTED: [EMERGENCY_DOCTOR, NEUROLOGIST]\n"))
	require.NoError(t, err)

	roles := table.RolesFor("STROKE_SUSPECTED")
	roles[0] = "JANITOR"
	assert.Equal(t, "EMERGENCY_DOCTOR", table.RolesFor("STROKE_SUSPECTED")[0])
}

func TestParseRejectsInvalidTables(t *testing.T) {
	tests := map[string]string{
		"missing version": "categories:\n  FEVER_HIGH: [NURSE]\n",
		"no categories":   "version: v1\n",
		"empty role list": "version: v1\ncategories:\n  FEVER_HIGH: []\n",
		"lowercase key":   "version: v1\ncategories:\n  fever_high: [NURSE]\n",
		"blank role":      "version: v1\ncategories:\n  FEVER_HIGH: [\"\"]\n",
		"malformed yaml":  "version: [v1\n",
		"lowercase role":  "version: v1\ncategories:\n  FEVER_HIGH: [nurse]\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}
