package inventory_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awheeler/certmint/inventory"
)

func openStore(t *testing.T) *inventory.Store {
	t.Helper()
	store, err := inventory.Open(filepath.Join(t.TempDir(), "inventory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPutGetCertificate(t *testing.T) {
	store := openStore(t)

	rec := inventory.Record{
		ID:                uuid.NewString(),
		Name:              "agent.example.com",
		SerialNumber:      "1a2b3c",
		FingerprintSHA256: "deadbeef",
		NotBefore:         time.Now().Add(-time.Hour).UTC().Truncate(time.Second),
		NotAfter:          time.Now().AddDate(1, 0, 0).UTC().Truncate(time.Second),
		SavedAt:           time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, store.PutCertificate(rec))

	got, err := store.GetCertificate("agent.example.com")
	require.NoError(t, err)
	assert.Equal(t, rec, *got)

	_, err = store.GetCertificate("unknown")
	assert.ErrorIs(t, err, inventory.ErrNotFound)
}

func TestPutCertificateReplacesByName(t *testing.T) {
	store := openStore(t)

	require.NoError(t, store.PutCertificate(inventory.Record{Name: "agent", SerialNumber: "01"}))
	require.NoError(t, store.PutCertificate(inventory.Record{Name: "agent", SerialNumber: "02"}))

	got, err := store.GetCertificate("agent")
	require.NoError(t, err)
	assert.Equal(t, "02", got.SerialNumber)

	records, err := store.ListCertificates()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestPutRequiresName(t *testing.T) {
	store := openStore(t)
	assert.Error(t, store.PutCertificate(inventory.Record{}))
}

func TestAuthorityBucketIsSeparate(t *testing.T) {
	store := openStore(t)

	require.NoError(t, store.PutAuthority(inventory.Record{Name: "root.crt", SerialNumber: "aa"}))

	_, err := store.GetCertificate("root.crt")
	assert.ErrorIs(t, err, inventory.ErrNotFound)

	got, err := store.GetAuthority("root.crt")
	require.NoError(t, err)
	assert.Equal(t, "aa", got.SerialNumber)
}

func TestListCertificates(t *testing.T) {
	store := openStore(t)

	for _, name := range []string{"b.example.com", "a.example.com"} {
		require.NoError(t, store.PutCertificate(inventory.Record{Name: name}))
	}

	records, err := store.ListCertificates()
	require.NoError(t, err)
	require.Len(t, records, 2)
	// bbolt iterates in key order.
	assert.Equal(t, "a.example.com", records[0].Name)
	assert.Equal(t, "b.example.com", records[1].Name)
}
