package database

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridwatt/smart-meter-server/models"
)

func seededClient(value float64) models.Client {
	r := models.Reading{Reading: value, Time: time.Now().UTC()}
	return models.Client{
		TokenHash: "hash",
		Readings:  []models.Reading{r},
		Bills:     []models.Bill{models.BillFromReading(r, 0.2, 0.4)},
	}
}

func TestAddClientConflict(t *testing.T) {
	store := NewMemoryStore()

	require.NoError(t, store.AddClient("0", seededClient(10)))
	assert.ErrorIs(t, store.AddClient("0", seededClient(10)), ErrDataConflict)
}

func TestRemoveClient(t *testing.T) {
	store := NewMemoryStore()

	require.NoError(t, store.AddClient("0", seededClient(10)))
	require.NoError(t, store.RemoveClient("0"))
	assert.ErrorIs(t, store.RemoveClient("0"), ErrClientNotFound)
}

func TestUnknownClient(t *testing.T) {
	store := NewMemoryStore()

	assert.ErrorIs(t, store.AddReading("missing", models.NewReading(1)), ErrClientNotFound)
	assert.ErrorIs(t, store.AddBill("missing", models.Bill{}), ErrClientNotFound)
	_, err := store.LastReading("missing")
	assert.ErrorIs(t, err, ErrClientNotFound)
	_, err = store.LastBill("missing")
	assert.ErrorIs(t, err, ErrClientNotFound)

	hash, err := store.ClientExists("missing")
	require.NoError(t, err)
	assert.Empty(t, hash)
}

func TestLastReadingOrdering(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.AddClient("0", seededClient(10)))

	require.NoError(t, store.AddReading("0", models.NewReading(11)))
	require.NoError(t, store.AddReading("0", models.NewReading(12)))

	last, err := store.LastReading("0")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, 12.0, last.Reading)
}

func TestUpdateLastBill(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.AddClient("0", seededClient(10)))

	bill, err := store.LastBill("0")
	require.NoError(t, err)
	require.NotNil(t, bill)

	bill.UnitsEnd = 42
	require.NoError(t, store.UpdateLastBill("0", *bill))

	updated, err := store.LastBill("0")
	require.NoError(t, err)
	assert.Equal(t, 42.0, updated.UnitsEnd)

	// A second appended bill becomes the update target.
	require.NoError(t, store.AddBill("0", models.Bill{UnitsEnd: 100}))
	latest, err := store.LastBill("0")
	require.NoError(t, err)
	assert.Equal(t, 100.0, latest.UnitsEnd)

	count, err := store.BillCount("0")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestUpdateLastBillWithoutBills(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.AddClient("0", models.Client{TokenHash: "hash"}))

	assert.ErrorIs(t, store.UpdateLastBill("0", models.Bill{}), ErrBillNotFound)

	bill, err := store.LastBill("0")
	require.NoError(t, err)
	assert.Nil(t, bill)
}

func TestConcurrentClientsDoNotInterfere(t *testing.T) {
	store := NewMemoryStore()
	for i := 0; i < 8; i++ {
		require.NoError(t, store.AddClient(fmt.Sprintf("%d", i), seededClient(0)))
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for j := 1; j <= 100; j++ {
				_ = store.AddReading(id, models.NewReading(float64(j)))
			}
		}(fmt.Sprintf("%d", i))
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		last, err := store.LastReading(fmt.Sprintf("%d", i))
		require.NoError(t, err)
		assert.Equal(t, 100.0, last.Reading)
	}
}
