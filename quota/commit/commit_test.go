package commit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ufaasio/ufaas-saas/apperr"
	"github.com/ufaasio/ufaas-saas/bundle"
	"github.com/ufaasio/ufaas-saas/fixtures"
	"github.com/ufaasio/ufaas-saas/money"
	"github.com/ufaasio/ufaas-saas/quota"
	"github.com/ufaasio/ufaas-saas/quota/commit"
	"github.com/ufaasio/ufaas-saas/quota/freemium"
	"github.com/ufaasio/ufaas-saas/quota/selector"
	memstore "github.com/ufaasio/ufaas-saas/store/memory"
)

func scope() quota.Scope { return quota.Scope{BusinessName: fixtures.Tenant} }

func newCommitter(t *testing.T, t0 time.Time) (*commit.Committer, *memstore.Ledger) {
	t.Helper()
	store, ledger := memstore.New()
	sc := fixtures.Build(t0)
	for _, e := range sc.All() {
		_, err := store.Create(context.Background(), e)
		require.NoError(t, err)
	}

	sel := selector.New(store, ledger, nil, func() time.Time { return t0 })
	return commit.New(sel, ledger, func() time.Time { return t0 }), ledger
}

func usageReq(asset string, amount int64) commit.Request {
	return commit.Request{
		Request: selector.Request{
			BusinessName: fixtures.Tenant,
			UserID:       fixtures.User,
			Asset:        asset,
			Amount:       money.NewFromInt(amount),
		},
	}
}

// Scenario 5: requesting far more than is available fails with
// insufficient_quota and writes no ledger rows.
func TestCommit_Scenario5_InsufficientQuota_WritesNothing(t *testing.T) {
	t0 := time.Now()
	c, ledger := newCommitter(t, t0)

	_, err := c.Commit(context.Background(), usageReq("image", 100))
	require.Error(t, err)

	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindInsufficientQuota, appErr.Kind)
	assert.Equal(t, "100", appErr.Fields["requested"])

	_, total, err := ledger.List(context.Background(), scope(), 0, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestCommit_CompletePlan_WritesOneRowPerSplit(t *testing.T) {
	t0 := time.Now()
	c, ledger := newCommitter(t, t0)

	rows, err := c.Commit(context.Background(), usageReq("image", 15))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "E4", rows[0].EnrollmentID)
	assert.Equal(t, "E1", rows[1].EnrollmentID)
	assert.True(t, rows[0].CreatedAt.Before(rows[1].CreatedAt) || rows[0].CreatedAt.Equal(rows[1].CreatedAt))

	_, total, err := ledger.List(context.Background(), scope(), 0, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

// Scenario 6: two concurrent commits of 7 against E1 (initial 10) must
// never both succeed; exactly one succeeds with leftover 3, the other
// fails insufficient_quota with shortfall 4.
func TestCommit_Scenario6_ConcurrentCommits_NeverOverdraw(t *testing.T) {
	t0 := time.Now()
	store, ledger := memstore.New()
	sc := fixtures.Build(t0)
	_, err := store.Create(context.Background(), sc.E1)
	require.NoError(t, err)

	sel := selector.New(store, ledger, nil, func() time.Time { return t0 })
	c := commit.New(sel, ledger, func() time.Time { return t0 })

	var wg sync.WaitGroup
	results := make([]error, 2)

	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			eid := "E1"
			_, err := c.Commit(context.Background(), commit.Request{
				Request: selector.Request{
					BusinessName: fixtures.Tenant,
					UserID:       fixtures.User,
					Asset:        "image",
					Amount:       money.NewFromInt(7),
					EnrollmentID: &eid,
				},
			})
			results[i] = err
		}()
	}
	wg.Wait()

	successes, failures := 0, 0
	for _, err := range results {
		if err == nil {
			successes++
			continue
		}
		appErr, ok := apperr.As(err)
		require.True(t, ok)
		assert.Equal(t, apperr.KindInsufficientQuota, appErr.Kind)
		assert.Equal(t, "4", appErr.Fields["shortfall"])
		failures++
	}

	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, failures)

	leftover, err := ledger.LeftoverOf(context.Background(), sc.E1)
	require.NoError(t, err)
	require.Len(t, leftover, 1)
	assert.True(t, leftover[0].Quota.Equal(money.NewFromInt(3).Decimal))
}

// A commit that triggers freemium auto-provisioning calls back into
// Store.Create (to provision) and Store.FindActiveFreemium (to look it
// up) from inside the locked select-then-append critical section. This
// must not deadlock against the lock it's already holding.
func TestCommit_FreemiumProvisioningDuringCommit_DoesNotDeadlock(t *testing.T) {
	t0 := time.Now()
	store, ledger := memstore.New()

	lookup := func(businessName string) (freemium.Quota, bool) {
		if businessName != fixtures.Tenant {
			return freemium.Quota{}, false
		}
		return freemium.Quota{
			PeriodDays: 30,
			Bundles:    []bundle.Bundle{{Asset: "image", Quota: money.NewFromInt(5)}},
		}, true
	}
	nowFn := func() time.Time { return t0 }
	provisioner := freemium.New(store, lookup, nowFn)
	sel := selector.New(store, ledger, provisioner, nowFn)
	c := commit.New(sel, ledger, nowFn)

	done := make(chan struct{})
	var rows []quota.Usage
	var err error
	go func() {
		rows, err = c.Commit(context.Background(), usageReq("image", 3))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("commit deadlocked while freemium provisioning called back into the store under lock")
	}

	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "3", rows[0].Amount.String())
}
