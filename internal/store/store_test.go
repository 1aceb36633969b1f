package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keygate/internal/license"
)

var testNow = time.Date(2026, time.September, 1, 12, 0, 0, 0, time.UTC)

// openStores builds one of each Store implementation so the contract tests
// below run against both backends.
func openStores(t *testing.T) map[string]Store {
	t.Helper()

	// database/sql pools connections, and a ":memory:" DSN would give every
	// connection its own database, so the SQLite store tests use a file.
	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "keygate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"memstore": NewMemStore(),
		"sqlite":   sqlite,
	}
}

func issueTestCustomer(t *testing.T, maxDevices string) *license.Customer {
	t.Helper()
	c, err := license.Issue(license.IssueParams{
		Name:       "Store Test",
		Email:      "store@example.com",
		Months:     "6",
		MaxDevices: maxDevices,
	}, testNow)
	require.NoError(t, err)
	return c
}

func TestStoreInsertAndLookup(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := issueTestCustomer(t, "2")
			require.NoError(t, s.Insert(ctx, c))

			byID, err := s.GetByID(ctx, c.ID)
			require.NoError(t, err)
			assert.Equal(t, c.ID, byID.ID)
			assert.Equal(t, c.LicenseKey, byID.LicenseKey)
			assert.Equal(t, c.MaxDevices, byID.MaxDevices)
			assert.True(t, byID.ExpiresAt.Equal(c.ExpiresAt))

			byKey, err := s.GetByKey(ctx, c.LicenseKey)
			require.NoError(t, err)
			assert.Equal(t, c.ID, byKey.ID)

			_, err = s.GetByID(ctx, "missing")
			assert.ErrorIs(t, err, license.ErrNotFound)

			_, err = s.GetByKey(ctx, "LIC-0000-0000-0000-0000")
			assert.ErrorIs(t, err, license.ErrInvalidLicense)
		})
	}
}

func TestStoreInsertDuplicateKey(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := issueTestCustomer(t, "2")
			require.NoError(t, s.Insert(ctx, c))

			dup := issueTestCustomer(t, "2")
			dup.LicenseKey = c.LicenseKey
			assert.ErrorIs(t, s.Insert(ctx, dup), ErrDuplicateKey)
		})
	}
}

func TestStoreListPreservesOrder(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var ids []string
			for i := 0; i < 5; i++ {
				c := issueTestCustomer(t, "2")
				c.CreatedAt = testNow.Add(time.Duration(i) * time.Second)
				require.NoError(t, s.Insert(ctx, c))
				ids = append(ids, c.ID)
			}

			listed, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, listed, 5)
			for i, c := range listed {
				assert.Equal(t, ids[i], c.ID)
			}
		})
	}
}

func TestStoreRecordsRoundTrip(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := issueTestCustomer(t, "3")
			_, err := license.Activate(c, "device-1", testNow)
			require.NoError(t, err)
			require.NoError(t, s.Insert(ctx, c))

			got, err := s.GetByKey(ctx, c.LicenseKey)
			require.NoError(t, err)
			require.Len(t, got.Activations, 1)
			assert.Equal(t, "device-1", got.Activations[0].DeviceID)
			assert.True(t, got.Activations[0].ActivatedAt.Equal(testNow))
			assert.True(t, got.ExpiresAt.Equal(c.ExpiresAt))
		})
	}
}

func TestStoreUpdateCommits(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := issueTestCustomer(t, "2")
			require.NoError(t, s.Insert(ctx, c))

			updated, err := s.UpdateByKey(ctx, c.LicenseKey, func(rec *license.Customer) error {
				_, aErr := license.Activate(rec, "device-1", testNow)
				return aErr
			})
			require.NoError(t, err)
			assert.Len(t, updated.Activations, 1)

			stored, err := s.GetByID(ctx, c.ID)
			require.NoError(t, err)
			assert.Len(t, stored.Activations, 1)
		})
	}
}

func TestStoreUpdateAbortDiscardsMutation(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := issueTestCustomer(t, "2")
			require.NoError(t, s.Insert(ctx, c))

			boom := errors.New("boom")
			_, err := s.UpdateByID(ctx, c.ID, func(rec *license.Customer) error {
				rec.Name = "should not persist"
				rec.Activations = append(rec.Activations, license.Activation{DeviceID: "ghost"})
				return boom
			})
			assert.ErrorIs(t, err, boom)

			stored, err := s.GetByID(ctx, c.ID)
			require.NoError(t, err)
			assert.Equal(t, "Store Test", stored.Name)
			assert.Empty(t, stored.Activations, "aborted update must leave no partial write")
		})
	}
}

func TestStoreUpdatePersistWrapperCommitsDespiteError(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := issueTestCustomer(t, "2")
			require.NoError(t, s.Insert(ctx, c))

			expired := &license.ExpiredError{ExpiresAt: testNow}
			_, err := s.UpdateByID(ctx, c.ID, func(rec *license.Customer) error {
				rec.Status = license.StatusExpired
				return Persist(expired)
			})
			var expErr *license.ExpiredError
			require.ErrorAs(t, err, &expErr)

			stored, err := s.GetByID(ctx, c.ID)
			require.NoError(t, err)
			assert.Equal(t, license.StatusExpired, stored.Status, "persist-wrapped errors must still commit")
		})
	}
}

func TestStoreUpdateMissingRecord(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.UpdateByID(ctx, "missing", func(*license.Customer) error { return nil })
			assert.ErrorIs(t, err, license.ErrNotFound)

			_, err = s.UpdateByKey(ctx, "LIC-0000-0000-0000-0000", func(*license.Customer) error { return nil })
			assert.ErrorIs(t, err, license.ErrInvalidLicense)
		})
	}
}

// TestStoreConcurrentActivationsRespectLimit is the §5 race: maxDevices+K
// concurrent activations for distinct devices must admit exactly maxDevices.
func TestStoreConcurrentActivationsRespectLimit(t *testing.T) {
	const maxDevices = 4
	const extra = 6

	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := issueTestCustomer(t, fmt.Sprint(maxDevices))
			require.NoError(t, s.Insert(ctx, c))

			var wg sync.WaitGroup
			results := make(chan error, maxDevices+extra)
			for i := 0; i < maxDevices+extra; i++ {
				wg.Add(1)
				go func(device int) {
					defer wg.Done()
					// Contention is retryable by contract; callers retry it.
					var err error
					for {
						_, err = s.UpdateByKey(ctx, c.LicenseKey, func(rec *license.Customer) error {
							_, aErr := license.Activate(rec, fmt.Sprintf("device-%d", device), testNow)
							return aErr
						})
						if !errors.Is(err, license.ErrStoreContention) {
							break
						}
					}
					results <- err
				}(i)
			}
			wg.Wait()
			close(results)

			admitted, rejected := 0, 0
			for err := range results {
				if err == nil {
					admitted++
					continue
				}
				var limitErr *license.DeviceLimitError
				require.ErrorAs(t, err, &limitErr)
				assert.Equal(t, maxDevices, limitErr.MaxDevices)
				rejected++
			}
			assert.Equal(t, maxDevices, admitted)
			assert.Equal(t, extra, rejected)

			stored, err := s.GetByID(ctx, c.ID)
			require.NoError(t, err)
			assert.Len(t, stored.Activations, maxDevices)
		})
	}
}

func TestMemStoreContentionBound(t *testing.T) {
	s := NewMemStoreWithLockWait(50 * time.Millisecond)
	ctx := context.Background()
	c := issueTestCustomer(t, "2")
	require.NoError(t, s.Insert(ctx, c))

	holding := make(chan struct{})
	releaseHold := make(chan struct{})
	go func() {
		_, _ = s.UpdateByID(ctx, c.ID, func(rec *license.Customer) error {
			close(holding)
			<-releaseHold
			return nil
		})
	}()

	<-holding
	start := time.Now()
	_, err := s.UpdateByID(ctx, c.ID, func(*license.Customer) error { return nil })
	close(releaseHold)

	assert.ErrorIs(t, err, license.ErrStoreContention)
	assert.Less(t, time.Since(start), time.Second, "contention must surface within the bound, not hang")
}

func TestMemStoreSnapshotsDoNotAlias(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	c := issueTestCustomer(t, "2")
	require.NoError(t, s.Insert(ctx, c))

	snap, err := s.GetByID(ctx, c.ID)
	require.NoError(t, err)
	snap.Name = "mutated"
	snap.Activations = append(snap.Activations, license.Activation{DeviceID: "ghost"})

	stored, err := s.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Store Test", stored.Name)
	assert.Empty(t, stored.Activations)
}
