package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ufaasio/ufaas-saas/bundle"
	"github.com/ufaasio/ufaas-saas/money"
	"github.com/ufaasio/ufaas-saas/quota"
	qstore "github.com/ufaasio/ufaas-saas/quota/store"
	"github.com/ufaasio/ufaas-saas/store/sqlite"
)

func newTestStore(t *testing.T) (*sqlite.EnrollmentStore, *sqlite.Ledger) {
	t.Helper()
	store, ledger, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, ledger
}

func enrollment(uid string) quota.Enrollment {
	now := time.Now()
	return quota.Enrollment{
		UID:             uid,
		BusinessName:    "acme",
		UserID:          "u1",
		CreatedAt:       now,
		UpdatedAt:       now,
		Price:           money.NewFromInt(10),
		AcquisitionType: quota.AcquisitionPurchase,
		StartedAt:       now.Add(-time.Hour),
		Status:          quota.StatusActive,
		Bundles:         []bundle.Bundle{{Asset: "image", Quota: money.NewFromInt(10)}},
	}
}

func TestEnrollmentStore_CreateGet_RoundTrips(t *testing.T) {
	store, _ := newTestStore(t)
	e := enrollment("e1")

	_, err := store.Create(context.Background(), e)
	require.NoError(t, err)

	got, ok, err := store.Get(context.Background(), "e1", quota.Scope{BusinessName: "acme"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, e.Bundles, got.Bundles)
	assert.True(t, e.Price.Equal(got.Price.Decimal))
}

func TestEnrollmentStore_Get_OutOfScope(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Create(context.Background(), enrollment("e1"))
	require.NoError(t, err)

	_, ok, err := store.Get(context.Background(), "e1", quota.Scope{BusinessName: "other-tenant"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEnrollmentStore_List_Paginates(t *testing.T) {
	store, _ := newTestStore(t)
	for _, uid := range []string{"e1", "e2", "e3"} {
		_, err := store.Create(context.Background(), enrollment(uid))
		require.NoError(t, err)
	}

	items, total, err := store.List(context.Background(), qstore.ListQuery{
		Scope: quota.Scope{BusinessName: "acme"}, Offset: 0, Limit: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, items, 2)
}

func TestEnrollmentStore_FindActive_RespectsVariantAndExpiry(t *testing.T) {
	store, _ := newTestStore(t)
	now := time.Now()

	e1 := enrollment("e1")
	_, err := store.Create(context.Background(), e1)
	require.NoError(t, err)

	expired := enrollment("e2")
	past := now.Add(-time.Minute)
	expired.ExpiredAt = &past
	_, err = store.Create(context.Background(), expired)
	require.NoError(t, err)

	tagged := enrollment("e3")
	v := "v"
	tagged.Variant = &v
	_, err = store.Create(context.Background(), tagged)
	require.NoError(t, err)

	found, err := store.FindActive(context.Background(), qstore.FindActiveQuery{
		BusinessName: "acme", UserID: "u1", Asset: "image",
	}, now)
	require.NoError(t, err)

	require.Len(t, found, 1)
	assert.Equal(t, "e1", found[0].UID)
}

func TestEnrollmentStore_FindActive_ExcludesExpiredBorrowed(t *testing.T) {
	store, _ := newTestStore(t)
	now := time.Now()

	borrowed := enrollment("e1")
	borrowed.AcquisitionType = quota.AcquisitionBorrowed
	borrowed.Status = quota.StatusExpired
	dueDate := now.Add(time.Hour)
	borrowed.DueDate = &dueDate
	borrowed.IsPaid = false
	_, err := store.Create(context.Background(), borrowed)
	require.NoError(t, err)

	found, err := store.FindActive(context.Background(), qstore.FindActiveQuery{
		BusinessName: "acme", UserID: "u1", Asset: "image",
	}, now)
	require.NoError(t, err)
	assert.Empty(t, found, "a borrowed enrollment with status=expired must not be selected even if due_date is still future and unpaid")
}

func TestEnrollmentStore_FindActive_IncludesActiveBorrowed(t *testing.T) {
	store, _ := newTestStore(t)
	now := time.Now()

	borrowed := enrollment("e1")
	borrowed.AcquisitionType = quota.AcquisitionBorrowed
	borrowed.Status = quota.StatusActive
	dueDate := now.Add(time.Hour)
	borrowed.DueDate = &dueDate
	borrowed.IsPaid = false
	_, err := store.Create(context.Background(), borrowed)
	require.NoError(t, err)

	found, err := store.FindActive(context.Background(), qstore.FindActiveQuery{
		BusinessName: "acme", UserID: "u1", Asset: "image",
	}, now)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "e1", found[0].UID)
}

func TestEnrollmentStore_FreemiumUniqueness_EnforcedBySchema(t *testing.T) {
	store, _ := newTestStore(t)

	freemium := enrollment("f1")
	freemium.AcquisitionType = quota.AcquisitionFreemium
	_, err := store.Create(context.Background(), freemium)
	require.NoError(t, err)

	second := enrollment("f2")
	second.AcquisitionType = quota.AcquisitionFreemium
	_, err = store.Create(context.Background(), second)
	assert.Error(t, err)
}

func TestLedger_AppendBatch_Atomic(t *testing.T) {
	_, ledger := newTestStore(t)

	rows := []quota.Usage{
		{UID: "u1", BusinessName: "acme", UserID: "u1", CreatedAt: time.Now(), EnrollmentID: "e1", Asset: "image", Amount: money.NewFromInt(1)},
		{UID: "u2", BusinessName: "acme", UserID: "u1", CreatedAt: time.Now(), EnrollmentID: "e1", Asset: "image", Amount: money.Zero},
	}
	_, err := ledger.AppendBatch(context.Background(), rows)
	require.Error(t, err)

	_, ok, err := ledger.Latest(context.Background(), "e1")
	require.NoError(t, err)
	assert.False(t, ok, "failed batch must not write any row")
}

func TestLedger_LeftoverOf_FallsBackToEnrollmentBundles(t *testing.T) {
	_, ledger := newTestStore(t)
	e := enrollment("e1")

	leftover, err := ledger.LeftoverOf(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, e.Bundles, leftover)
}

func TestLock_RejectsCanceledContext(t *testing.T) {
	_, ledger := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := ledger.Lock(ctx, func(ctx context.Context) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called)
}
