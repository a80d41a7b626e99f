package hierarchy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabulahq/reducer/pkg/filestore"
)

const registryYAML = `
apiVersion: reducer/v1alpha1
kind: ContentRegistry
contents:
  - name: quarterly-sales
    clientId: acme
    masterPath: /data/master/quarterly-sales.csv
    fields:
      - fieldName: region
        displayName: Region
        valueDelimiter: "|"
        structureType: delimited
        values: ["EU", "EU|DE", "US"]
      - fieldName: department
        values: ["Sales", "Ops"]
`

func writeRegistry(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadRegistryParsesFields(t *testing.T) {
	reg, err := LoadRegistry(writeRegistry(t, registryYAML))
	require.NoError(t, err)
	require.Len(t, reg.Contents, 1)

	c := reg.Contents[0]
	assert.Equal(t, "quarterly-sales", c.Name)
	require.Len(t, c.Fields, 2)
	assert.Equal(t, "delimited", c.Fields[0].StructureType)
	assert.Equal(t, "|", c.Fields[0].ValueDelimiter)
	assert.Len(t, c.Fields[0].Values, 3)
}

func TestLoadRegistryRejectsBadStructureType(t *testing.T) {
	bad := `
contents:
  - name: x
    masterPath: /m
    fields:
      - fieldName: f
        structureType: nested
`
	_, err := LoadRegistry(writeRegistry(t, bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "structureType")
}

func TestSyncIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	files := filestore.NewMemStore()
	files.Put("/data/master/quarterly-sales.csv", []byte("region,department,amount\n"))

	reg, err := LoadRegistry(writeRegistry(t, registryYAML))
	require.NoError(t, err)

	res, err := store.Sync(reg, files, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ItemsCreated)
	assert.Equal(t, 2, res.FieldsCreated)
	assert.Equal(t, 5, res.ValuesCreated)

	// Second sync finds everything already present.
	res, err = store.Sync(reg, files, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ItemsCreated)
	assert.Equal(t, 1, res.ItemsUpdated)
	assert.Equal(t, 0, res.FieldsCreated)
	assert.Equal(t, 0, res.ValuesCreated)

	item, err := store.GetItemByName("quarterly-sales")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.NotEmpty(t, item.MasterChecksum)
}

func TestSyncKeepsValueIDsStable(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	files := filestore.NewMemStore()
	files.Put("/data/master/quarterly-sales.csv", []byte("x"))

	reg, err := LoadRegistry(writeRegistry(t, registryYAML))
	require.NoError(t, err)

	_, err = store.Sync(reg, files, nil)
	require.NoError(t, err)

	item, err := store.GetItemByName("quarterly-sales")
	require.NoError(t, err)
	before, err := store.ValueIDSet(item.ID)
	require.NoError(t, err)

	_, err = store.Sync(reg, files, nil)
	require.NoError(t, err)
	after, err := store.ValueIDSet(item.ID)
	require.NoError(t, err)

	assert.True(t, before.Equal(after))
}
