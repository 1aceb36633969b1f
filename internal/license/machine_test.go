package license

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, time.September, 1, 12, 0, 0, 0, time.UTC)

func issueTestCustomer(t *testing.T, maxDevices string) *Customer {
	t.Helper()
	c, err := Issue(IssueParams{
		Name:       "Test Customer",
		Email:      "test@example.com",
		Months:     "6",
		MaxDevices: maxDevices,
	}, testNow)
	require.NoError(t, err)
	return c
}

func TestIssue(t *testing.T) {
	tests := []struct {
		name           string
		params         IssueParams
		wantErr        bool
		wantField      string
		wantExpiry     time.Time
		wantMaxDevices int
	}{
		{
			name:           "explicit months and devices",
			params:         IssueParams{Name: "A", Email: "a@x.com", Months: "1", MaxDevices: "5"},
			wantExpiry:     AddMonths(testNow, 1),
			wantMaxDevices: 5,
		},
		{
			name:           "defaults applied when unspecified",
			params:         IssueParams{Name: "A", Email: "a@x.com"},
			wantExpiry:     AddMonths(testNow, DefaultIssueMonths),
			wantMaxDevices: DefaultMaxDevices,
		},
		{
			name:           "defaults applied on non-numeric input",
			params:         IssueParams{Name: "A", Email: "a@x.com", Months: "soon", MaxDevices: "many"},
			wantExpiry:     AddMonths(testNow, DefaultIssueMonths),
			wantMaxDevices: DefaultMaxDevices,
		},
		{
			name:           "defaults applied on non-positive input",
			params:         IssueParams{Name: "A", Email: "a@x.com", Months: "-2", MaxDevices: "0"},
			wantExpiry:     AddMonths(testNow, DefaultIssueMonths),
			wantMaxDevices: DefaultMaxDevices,
		},
		{
			name:      "missing name",
			params:    IssueParams{Email: "a@x.com"},
			wantErr:   true,
			wantField: "name",
		},
		{
			name:      "missing email",
			params:    IssueParams{Name: "A"},
			wantErr:   true,
			wantField: "email",
		},
		{
			name:      "whitespace-only name",
			params:    IssueParams{Name: "   ", Email: "a@x.com"},
			wantErr:   true,
			wantField: "name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Issue(tt.params, testNow)
			if tt.wantErr {
				var vErr *ValidationError
				require.ErrorAs(t, err, &vErr)
				assert.Equal(t, tt.wantField, vErr.Field)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, c.ID)
			assert.True(t, ValidKeyFormat(c.LicenseKey))
			assert.Equal(t, StatusActive, c.Status)
			assert.False(t, c.Banned)
			assert.Equal(t, tt.wantMaxDevices, c.MaxDevices)
			assert.Equal(t, testNow, c.CreatedAt)
			assert.Equal(t, tt.wantExpiry, c.ExpiresAt)
			assert.Empty(t, c.Activations)
		})
	}
}

func TestRenewExtendsFromCurrentExpiry(t *testing.T) {
	// Renewing an unexpired license must never shorten it: one extra month
	// on a license with 6 months left yields 7 months total, not 1.
	c := issueTestCustomer(t, "2")
	original := c.ExpiresAt

	Renew(c, "1", testNow)

	assert.Equal(t, AddMonths(original, 1), c.ExpiresAt)
	assert.True(t, c.ExpiresAt.After(original))
	assert.Equal(t, StatusActive, c.Status)
}

func TestRenewExpiredBasesOnNow(t *testing.T) {
	c := issueTestCustomer(t, "2")
	c.ExpiresAt = testNow.Add(-24 * time.Hour)
	c.RecomputeStatus(testNow)
	require.Equal(t, StatusExpired, c.Status)

	Renew(c, "3", testNow)

	assert.Equal(t, AddMonths(testNow, 3), c.ExpiresAt)
	assert.Equal(t, StatusActive, c.Status)
}

func TestRenewDefaultMonths(t *testing.T) {
	c := issueTestCustomer(t, "2")
	original := c.ExpiresAt

	Renew(c, "not-a-number", testNow)

	assert.Equal(t, AddMonths(original, DefaultRenewMonths), c.ExpiresAt)
}

func TestSetBanned(t *testing.T) {
	c := issueTestCustomer(t, "2")

	SetBanned(c, true, testNow)
	assert.True(t, c.Banned)
	assert.Equal(t, StatusBanned, c.Status)

	// Ban overrides expiry while set.
	c.ExpiresAt = testNow.Add(-time.Hour)
	c.RecomputeStatus(testNow)
	assert.Equal(t, StatusBanned, c.Status)

	// Unban never leaves a stale banned status behind.
	SetBanned(c, false, testNow)
	assert.False(t, c.Banned)
	assert.Equal(t, StatusExpired, c.Status)

	c.ExpiresAt = testNow.Add(time.Hour)
	SetBanned(c, false, testNow)
	assert.Equal(t, StatusActive, c.Status)
}

func TestActivateAdmitsUpToLimit(t *testing.T) {
	c := issueTestCustomer(t, "3")

	for i := 0; i < 3; i++ {
		res, err := Activate(c, fmt.Sprintf("device-%d", i), testNow)
		require.NoError(t, err)
		assert.Equal(t, StatusActive, res.Status)
		assert.Equal(t, fmt.Sprintf("device-%d", i), res.DeviceID)
		assert.Equal(t, "Test Customer", res.CustomerName)
		assert.Equal(t, c.ExpiresAt, res.ExpiresAt)
	}
	assert.Len(t, c.Activations, 3)

	// The fourth distinct device is rejected with the ceiling attached.
	_, err := Activate(c, "device-3", testNow)
	var limitErr *DeviceLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, 3, limitErr.MaxDevices)
	assert.Len(t, c.Activations, 3)
}

func TestActivateIdempotentForKnownDevice(t *testing.T) {
	c := issueTestCustomer(t, "1")

	first, err := Activate(c, "device-1", testNow)
	require.NoError(t, err)
	require.Len(t, c.Activations, 1)
	activatedAt := c.Activations[0].ActivatedAt

	// Same device again: no new entry, no limit charge, LastSeen bumped,
	// ActivatedAt untouched.
	later := testNow.Add(time.Hour)
	second, err := Activate(c, "device-1", later)
	require.NoError(t, err)
	assert.Equal(t, first.DeviceID, second.DeviceID)
	assert.Len(t, c.Activations, 1)
	assert.Equal(t, activatedAt, c.Activations[0].ActivatedAt)
	assert.Equal(t, later, c.Activations[0].LastSeen)
}

func TestActivateBanned(t *testing.T) {
	c := issueTestCustomer(t, "2")
	SetBanned(c, true, testNow)

	_, err := Activate(c, "device-1", testNow)
	assert.ErrorIs(t, err, ErrBanned)
	assert.Empty(t, c.Activations)
}

func TestActivateBannedIndependentOfExpiry(t *testing.T) {
	c := issueTestCustomer(t, "2")
	SetBanned(c, true, testNow)
	c.ExpiresAt = testNow.Add(-time.Hour)

	// Ban is checked before expiry, so a banned-and-expired license still
	// reports banned.
	_, err := Activate(c, "device-1", testNow)
	assert.ErrorIs(t, err, ErrBanned)
}

func TestActivateExpired(t *testing.T) {
	c := issueTestCustomer(t, "2")
	expiredAt := testNow.Add(-time.Minute)
	c.ExpiresAt = expiredAt

	_, err := Activate(c, "device-1", testNow)
	var expErr *ExpiredError
	require.ErrorAs(t, err, &expErr)
	assert.Equal(t, expiredAt, expErr.ExpiresAt)
	// The status recompute is applied to the record so the caller can
	// persist the expired state.
	assert.Equal(t, StatusExpired, c.Status)
	assert.Empty(t, c.Activations)
}

func TestVerifyKnownDevice(t *testing.T) {
	c := issueTestCustomer(t, "2")
	_, err := Activate(c, "device-1", testNow)
	require.NoError(t, err)

	later := testNow.Add(30 * time.Minute)
	res, err := Verify(c, "device-1", later)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, res.Status)
	assert.Equal(t, c.ExpiresAt, res.ExpiresAt)
	assert.Equal(t, later, c.Activations[0].LastSeen)
}

func TestVerifyUnknownDeviceNeverActivates(t *testing.T) {
	c := issueTestCustomer(t, "2")
	_, err := Activate(c, "device-1", testNow)
	require.NoError(t, err)

	_, err = Verify(c, "device-2", testNow)
	assert.ErrorIs(t, err, ErrNotActivated)
	assert.Len(t, c.Activations, 1, "verify must not create an activation")
}

func TestVerifyReportsBannedAndExpiredAsResults(t *testing.T) {
	c := issueTestCustomer(t, "2")
	_, err := Activate(c, "device-1", testNow)
	require.NoError(t, err)

	SetBanned(c, true, testNow)
	res, err := Verify(c, "device-1", testNow)
	require.NoError(t, err)
	assert.Equal(t, StatusBanned, res.Status)

	// Banned overrides expiry even when both hold.
	c.ExpiresAt = testNow.Add(-time.Hour)
	res, err = Verify(c, "device-1", testNow)
	require.NoError(t, err)
	assert.Equal(t, StatusBanned, res.Status)

	SetBanned(c, false, testNow)
	res, err = Verify(c, "device-1", testNow)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, res.Status)
}

func TestCloneIsDeep(t *testing.T) {
	c := issueTestCustomer(t, "2")
	_, err := Activate(c, "device-1", testNow)
	require.NoError(t, err)

	cp := c.Clone()
	cp.Activations[0].DeviceID = "mutated"
	cp.Name = "Other"

	assert.Equal(t, "device-1", c.Activations[0].DeviceID)
	assert.Equal(t, "Test Customer", c.Name)
}
