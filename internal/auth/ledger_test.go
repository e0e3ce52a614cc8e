// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FusionAI Contributors

package auth_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/fusionai/accountd/internal/auth"
	"github.com/fusionai/accountd/internal/auth/memory"
	"github.com/fusionai/accountd/pkg/errutil"
)

const testEmail = "alice@example.com"

func newTestLedger(t *testing.T, clock *fakeClock) (*auth.CodeLedger, *memory.CodeStore) {
	t.Helper()
	repo := memory.NewCodeStore()
	ledger, err := auth.NewCodeLedger(repo, auth.DefaultCodeTTL, auth.WithLedgerClock(clock.Now))
	require.NoError(t, err)
	return ledger, repo
}

func TestNewCodeLedger_Validation(t *testing.T) {
	_, err := auth.NewCodeLedger(nil, time.Minute)
	errutil.AssertErrorCode(t, err, "LEDGER_INVALID_CONFIG")

	_, err = auth.NewCodeLedger(memory.NewCodeStore(), 0)
	errutil.AssertErrorCode(t, err, "LEDGER_INVALID_CONFIG")
}

func TestCodeLedger_Issue(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	ledger, _ := newTestLedger(t, clock)

	issued, err := ledger.Issue(ctx, testEmail, auth.PurposeVerification, "payload")
	require.NoError(t, err)

	assert.Regexp(t, sixDigits, issued.Code)
	assert.Equal(t, auth.HashCode(issued.Code), issued.Record.CodeHash)
	assert.NotContains(t, issued.Record.CodeHash, issued.Code)
	assert.Equal(t, clock.Now(), issued.Record.IssuedAt)
	assert.Equal(t, clock.Now().Add(10*time.Minute), issued.Record.ExpiresAt)
	assert.Equal(t, "payload", issued.Record.Payload)

	t.Run("rejects unknown purpose", func(t *testing.T) {
		_, err := ledger.Issue(ctx, testEmail, auth.Purpose("other"), "")
		errutil.AssertErrorCode(t, err, "CODE_INVALID_PURPOSE")
	})

	t.Run("rejects empty email", func(t *testing.T) {
		_, err := ledger.Issue(ctx, "", auth.PurposeVerification, "")
		errutil.AssertErrorCode(t, err, "CODE_INVALID_EMAIL")
	})
}

func TestCodeLedger_ValidateIsSingleUse(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t, newFakeClock())

	issued, err := ledger.Issue(ctx, testEmail, auth.PurposePasswordReset, "")
	require.NoError(t, err)

	rec, err := ledger.Validate(ctx, testEmail, auth.PurposePasswordReset, issued.Code)
	require.NoError(t, err)
	assert.Equal(t, issued.Record.ID, rec.ID)

	_, err = ledger.Validate(ctx, testEmail, auth.PurposePasswordReset, issued.Code)
	assert.ErrorIs(t, err, auth.ErrCodeNotFound)
	assert.Equal(t, auth.KindCode, auth.KindOf(err))
}

func TestCodeLedger_Expiry(t *testing.T) {
	ctx := context.Background()

	t.Run("valid at exactly ten minutes", func(t *testing.T) {
		clock := newFakeClock()
		ledger, _ := newTestLedger(t, clock)
		issued, err := ledger.Issue(ctx, testEmail, auth.PurposeVerification, "")
		require.NoError(t, err)

		clock.Advance(600 * time.Second)
		_, err = ledger.Validate(ctx, testEmail, auth.PurposeVerification, issued.Code)
		assert.NoError(t, err)
	})

	t.Run("expired one second later and removed", func(t *testing.T) {
		clock := newFakeClock()
		ledger, repo := newTestLedger(t, clock)
		issued, err := ledger.Issue(ctx, testEmail, auth.PurposeVerification, "")
		require.NoError(t, err)

		clock.Advance(601 * time.Second)
		_, err = ledger.Validate(ctx, testEmail, auth.PurposeVerification, issued.Code)
		assert.ErrorIs(t, err, auth.ErrCodeExpired)
		errutil.AssertErrorCode(t, err, "CODE_EXPIRED")
		assert.Equal(t, 0, repo.Len())

		_, err = ledger.Validate(ctx, testEmail, auth.PurposeVerification, issued.Code)
		assert.ErrorIs(t, err, auth.ErrCodeNotFound)
	})
}

func TestCodeLedger_MismatchLeavesCodeLive(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t, newFakeClock())
	issued, err := ledger.Issue(ctx, testEmail, auth.PurposeVerification, "")
	require.NoError(t, err)

	wrong := "000000"
	if issued.Code == wrong {
		wrong = "000001"
	}
	_, err = ledger.Validate(ctx, testEmail, auth.PurposeVerification, wrong)
	assert.ErrorIs(t, err, auth.ErrCodeMismatch)

	_, err = ledger.Validate(ctx, testEmail, auth.PurposeVerification, issued.Code)
	assert.NoError(t, err)
}

func TestCodeLedger_ReissueInvalidatesPrevious(t *testing.T) {
	ctx := context.Background()
	codes := []string{"111111", "222222"}
	next := 0
	repo := memory.NewCodeStore()
	ledger, err := auth.NewCodeLedger(repo, auth.DefaultCodeTTL, auth.WithCodeGenerator(func() (string, error) {
		c := codes[next]
		next++
		return c, nil
	}))
	require.NoError(t, err)

	_, err = ledger.Issue(ctx, testEmail, auth.PurposePasswordReset, "")
	require.NoError(t, err)
	_, err = ledger.Issue(ctx, testEmail, auth.PurposePasswordReset, "")
	require.NoError(t, err)

	_, err = ledger.Validate(ctx, testEmail, auth.PurposePasswordReset, "111111")
	assert.ErrorIs(t, err, auth.ErrCodeMismatch)

	_, err = ledger.Validate(ctx, testEmail, auth.PurposePasswordReset, "222222")
	assert.NoError(t, err)
}

func TestCodeLedger_PurposesAreIndependent(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t, newFakeClock())
	issued, err := ledger.Issue(ctx, testEmail, auth.PurposeVerification, "")
	require.NoError(t, err)

	_, err = ledger.Validate(ctx, testEmail, auth.PurposePasswordReset, issued.Code)
	assert.ErrorIs(t, err, auth.ErrCodeNotFound)
}

func TestCodeLedger_IssueExclusive(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	ledger, _ := newTestLedger(t, clock)

	_, err := ledger.IssueExclusive(ctx, testEmail, auth.PurposeVerification, "hash-1")
	require.NoError(t, err)

	_, err = ledger.IssueExclusive(ctx, testEmail, auth.PurposeVerification, "hash-2")
	assert.ErrorIs(t, err, auth.ErrCodeOutstanding)
	errutil.AssertErrorCode(t, err, "CODE_OUTSTANDING")

	clock.Advance(11 * time.Minute)
	issued, err := ledger.IssueExclusive(ctx, testEmail, auth.PurposeVerification, "hash-3")
	require.NoError(t, err)
	assert.Equal(t, "hash-3", issued.Record.Payload)
}

func TestCodeLedger_RevokeOnlyOwnCode(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t, newFakeClock())

	first, err := ledger.Issue(ctx, testEmail, auth.PurposePasswordReset, "")
	require.NoError(t, err)
	second, err := ledger.Issue(ctx, testEmail, auth.PurposePasswordReset, "")
	require.NoError(t, err)

	require.NoError(t, ledger.Revoke(ctx, testEmail, auth.PurposePasswordReset, first.Record.ID))

	current, err := ledger.Current(ctx, testEmail, auth.PurposePasswordReset)
	require.NoError(t, err)
	assert.Equal(t, second.Record.ID, current.ID)

	require.NoError(t, ledger.Revoke(ctx, testEmail, auth.PurposePasswordReset, second.Record.ID))
	_, err = ledger.Current(ctx, testEmail, auth.PurposePasswordReset)
	assert.ErrorIs(t, err, auth.ErrCodeNotFound)

	assert.NoError(t, ledger.Revoke(ctx, testEmail, auth.PurposePasswordReset, ulid.Make()))
}

func TestCodeLedger_Restore(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t, newFakeClock())

	issued, err := ledger.Issue(ctx, testEmail, auth.PurposePasswordReset, "")
	require.NoError(t, err)
	rec, err := ledger.Validate(ctx, testEmail, auth.PurposePasswordReset, issued.Code)
	require.NoError(t, err)

	require.NoError(t, ledger.Restore(ctx, rec))
	_, err = ledger.Validate(ctx, testEmail, auth.PurposePasswordReset, issued.Code)
	assert.NoError(t, err)

	t.Run("newer code wins", func(t *testing.T) {
		issued, err := ledger.Issue(ctx, testEmail, auth.PurposePasswordReset, "")
		require.NoError(t, err)
		consumed, err := ledger.Validate(ctx, testEmail, auth.PurposePasswordReset, issued.Code)
		require.NoError(t, err)

		newer, err := ledger.Issue(ctx, testEmail, auth.PurposePasswordReset, "")
		require.NoError(t, err)
		require.NoError(t, ledger.Restore(ctx, consumed))

		current, err := ledger.Current(ctx, testEmail, auth.PurposePasswordReset)
		require.NoError(t, err)
		assert.Equal(t, newer.Record.ID, current.ID)
	})
}

func TestCodeLedger_PurgeExpired(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	ledger, repo := newTestLedger(t, clock)

	_, err := ledger.Issue(ctx, "old@example.com", auth.PurposeVerification, "")
	require.NoError(t, err)
	clock.Advance(20 * time.Minute)
	_, err = ledger.Issue(ctx, "new@example.com", auth.PurposeVerification, "")
	require.NoError(t, err)

	n, err := ledger.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, repo.Len())
}

func TestCodeLedger_ConcurrentValidateHasOneWinner(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	ledger, _ := newTestLedger(t, newFakeClock())
	issued, err := ledger.Issue(ctx, testEmail, auth.PurposePasswordReset, "")
	require.NoError(t, err)

	var wins, notFound atomic.Int32
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Validate(ctx, testEmail, auth.PurposePasswordReset, issued.Code)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, auth.ErrCodeNotFound):
				notFound.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(31), notFound.Load())
}

// racingRepo simulates another process consuming the code between Get and DeleteIfMatch.
type racingRepo struct {
	*memory.CodeStore
}

func (r racingRepo) DeleteIfMatch(ctx context.Context, email string, purpose auth.Purpose, id ulid.ULID) error {
	_ = r.CodeStore.DeleteIfMatch(ctx, email, purpose, id)
	return r.CodeStore.DeleteIfMatch(ctx, email, purpose, id)
}

func TestCodeLedger_LostConsumeRaceReportsNotFound(t *testing.T) {
	ctx := context.Background()
	ledger, err := auth.NewCodeLedger(racingRepo{memory.NewCodeStore()}, auth.DefaultCodeTTL)
	require.NoError(t, err)

	issued, err := ledger.Issue(ctx, testEmail, auth.PurposeVerification, "")
	require.NoError(t, err)

	_, err = ledger.Validate(ctx, testEmail, auth.PurposeVerification, issued.Code)
	assert.ErrorIs(t, err, auth.ErrCodeNotFound)
	errutil.AssertErrorContext(t, err, "reason", "consumed concurrently")
}
