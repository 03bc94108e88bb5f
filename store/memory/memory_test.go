package memory_test

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
	"github.com/ufaasio/ufaas-saas/store/memory"
)

func enrollment(uid string) quota.Enrollment {
	return quota.Enrollment{
		UID:             uid,
		BusinessName:    "acme",
		UserID:          "u1",
		AcquisitionType: quota.AcquisitionPurchase,
		StartedAt:       time.Now().Add(-time.Hour),
		Status:          quota.StatusActive,
		Bundles:         []bundle.Bundle{{Asset: "image", Quota: money.NewFromInt(10)}},
	}
}

func TestStore_CreateGet(t *testing.T) {
	store, _ := memory.New()
	e, err := store.Create(context.Background(), enrollment("e1"))
	require.NoError(t, err)

	got, ok, err := store.Get(context.Background(), e.UID, quota.Scope{BusinessName: "acme"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, e.UID, got.UID)
}

func TestStore_Get_OutOfScope(t *testing.T) {
	store, _ := memory.New()
	e, _ := store.Create(context.Background(), enrollment("e1"))

	_, ok, err := store.Get(context.Background(), e.UID, quota.Scope{BusinessName: "other"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_FindActive_FiltersByAssetAndExpiry(t *testing.T) {
	store, _ := memory.New()
	now := time.Now()

	active := enrollment("active")
	expired := enrollment("expired")
	past := now.Add(-time.Hour)
	expired.ExpiredAt = &past

	_, err := store.Create(context.Background(), active)
	require.NoError(t, err)
	_, err = store.Create(context.Background(), expired)
	require.NoError(t, err)

	found, err := store.FindActive(context.Background(), qstore.FindActiveQuery{
		BusinessName: "acme",
		UserID:       "u1",
		Asset:        "image",
	}, now)
	require.NoError(t, err)

	require.Len(t, found, 1)
	assert.Equal(t, "active", found[0].UID)
}

func TestStore_FindActive_ExcludesExpiredBorrowed(t *testing.T) {
	store, _ := memory.New()
	now := time.Now()

	borrowed := enrollment("e1")
	borrowed.AcquisitionType = quota.AcquisitionBorrowed
	borrowed.Status = quota.StatusExpired
	future := now.Add(time.Hour)
	borrowed.DueDate = &future
	borrowed.IsPaid = false

	_, err := store.Create(context.Background(), borrowed)
	require.NoError(t, err)

	found, err := store.FindActive(context.Background(), qstore.FindActiveQuery{
		BusinessName: "acme",
		UserID:       "u1",
		Asset:        "image",
	}, now)
	require.NoError(t, err)
	assert.Empty(t, found, "a borrowed enrollment with status=expired must not be selected even if due_date is still future and unpaid")
}

func TestStore_FindActive_IncludesActiveBorrowed(t *testing.T) {
	store, _ := memory.New()
	now := time.Now()

	borrowed := enrollment("e1")
	borrowed.AcquisitionType = quota.AcquisitionBorrowed
	borrowed.Status = quota.StatusActive
	future := now.Add(time.Hour)
	borrowed.DueDate = &future
	borrowed.IsPaid = false

	_, err := store.Create(context.Background(), borrowed)
	require.NoError(t, err)

	found, err := store.FindActive(context.Background(), qstore.FindActiveQuery{
		BusinessName: "acme",
		UserID:       "u1",
		Asset:        "image",
	}, now)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "e1", found[0].UID)
}

func TestStore_FindActiveFreemium(t *testing.T) {
	store, _ := memory.New()
	now := time.Now()

	e := enrollment("freemium-1")
	e.AcquisitionType = quota.AcquisitionFreemium
	future := now.Add(time.Hour)
	e.ExpiredAt = &future
	_, err := store.Create(context.Background(), e)
	require.NoError(t, err)

	found, ok, err := store.FindActiveFreemium(context.Background(), "acme", "u1", now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "freemium-1", found.UID)
}

func TestStore_Create_RejectsSecondActiveFreemium(t *testing.T) {
	store, _ := memory.New()
	e := enrollment("freemium-1")
	e.AcquisitionType = quota.AcquisitionFreemium

	_, err := store.Create(context.Background(), e)
	require.NoError(t, err)

	second := enrollment("freemium-2")
	second.AcquisitionType = quota.AcquisitionFreemium
	_, err = store.Create(context.Background(), second)
	assert.Error(t, err)
}

func TestLedger_AppendAndLatest(t *testing.T) {
	_, ledger := memory.New()

	u1 := quota.Usage{
		UID:          "u1",
		BusinessName: "acme",
		UserID:       "user",
		CreatedAt:    time.Now(),
		EnrollmentID: "e1",
		Asset:        "image",
		Amount:       money.NewFromInt(3),
		LeftoverBundles: []bundle.Bundle{
			{Asset: "image", Quota: money.NewFromInt(7)},
		},
	}
	written, err := ledger.Append(context.Background(), u1)
	require.NoError(t, err)
	assert.Equal(t, u1.UID, written.UID)

	latest, ok, err := ledger.Latest(context.Background(), "e1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "u1", latest.UID)
}

func TestLedger_AppendBatch_AllOrNothing(t *testing.T) {
	_, ledger := memory.New()

	rows := []quota.Usage{
		{UID: "a", EnrollmentID: "e1", Asset: "image", Amount: money.NewFromInt(1)},
		{UID: "b", EnrollmentID: "e1", Asset: "image", Amount: money.Zero}, // invalid: non-positive
	}
	_, err := ledger.AppendBatch(context.Background(), rows)
	require.Error(t, err)

	_, ok, err := ledger.Latest(context.Background(), "e1")
	require.NoError(t, err)
	assert.False(t, ok, "partial writes must not be visible")
}

func TestLedger_Lock_SerializesCallers(t *testing.T) {
	_, ledger := memory.New()

	order := make(chan int, 2)
	done := make(chan struct{})

	go func() {
		_ = ledger.Lock(context.Background(), func(ctx context.Context) error {
			order <- 1
			<-done
			return nil
		})
	}()

	time.Sleep(10 * time.Millisecond)
	go func() {
		_ = ledger.Lock(context.Background(), func(ctx context.Context) error {
			order <- 2
			return nil
		})
	}()

	first := <-order
	assert.Equal(t, 1, first)
	close(done)
	second := <-order
	assert.Equal(t, 2, second)
}

// Lock's critical section must be able to call back into Store/Ledger
// data methods (as quota/commit.Committer and quota/freemium.Provisioner
// do) without deadlocking against the lock it's already holding.
func TestLedger_Lock_AllowsReentrantStoreAndLedgerCalls(t *testing.T) {
	store, ledger := memory.New()

	done := make(chan struct{})
	var err error
	go func() {
		err = ledger.Lock(context.Background(), func(ctx context.Context) error {
			if _, createErr := store.Create(ctx, enrollment("e1")); createErr != nil {
				return createErr
			}
			if _, findErr := store.FindActive(ctx, qstore.FindActiveQuery{
				BusinessName: "acme", UserID: "u1", Asset: "image",
			}, time.Now()); findErr != nil {
				return findErr
			}
			_, _, latestErr := ledger.Latest(ctx, "e1")
			return latestErr
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Lock deadlocked on a reentrant Store/Ledger call from within its own critical section")
	}
	require.NoError(t, err)
}
