package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWorkUnit(t *testing.T) {
	wu := NewWorkUnit("tenant-1")

	assert.NotEmpty(t, wu.CorrelationID)
	assert.Equal(t, "tenant-1", wu.TenantID)
	assert.Equal(t, WorkUnitStatusPending, wu.Status)
	assert.False(t, wu.StartedAt.IsZero())
	assert.Nil(t, wu.FinishedAt)
}

func TestWorkUnit_Transition(t *testing.T) {
	tests := []struct {
		name    string
		from    WorkUnitStatus
		to      WorkUnitStatus
		wantErr bool
	}{
		{"pending to primary committed", WorkUnitStatusPending, WorkUnitStatusPrimaryCommitted, false},
		{"pending to failed", WorkUnitStatusPending, WorkUnitStatusFailed, false},
		{"primary committed to committed", WorkUnitStatusPrimaryCommitted, WorkUnitStatusCommitted, false},
		{"primary committed to partially committed", WorkUnitStatusPrimaryCommitted, WorkUnitStatusPartiallyCommitted, false},
		{"primary committed to rolled back", WorkUnitStatusPrimaryCommitted, WorkUnitStatusRolledBack, false},
		{"primary committed to failed compensation", WorkUnitStatusPrimaryCommitted, WorkUnitStatusFailedCompensation, false},
		{"pending straight to committed", WorkUnitStatusPending, WorkUnitStatusCommitted, true},
		{"committed is terminal", WorkUnitStatusCommitted, WorkUnitStatusRolledBack, true},
		{"rolled back is terminal", WorkUnitStatusRolledBack, WorkUnitStatusCommitted, true},
		{"primary committed to failed", WorkUnitStatusPrimaryCommitted, WorkUnitStatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wu := NewWorkUnit("tenant-1")
			wu.Status = tt.from

			err := wu.Transition(tt.to)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.from, wu.Status)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.to, wu.Status)

			if tt.to.Terminal() {
				assert.NotNil(t, wu.FinishedAt)
			}
		})
	}
}

func TestWorkUnitStatus_Terminal(t *testing.T) {
	assert.False(t, WorkUnitStatusPending.Terminal())
	assert.False(t, WorkUnitStatusPrimaryCommitted.Terminal())
	assert.True(t, WorkUnitStatusCommitted.Terminal())
	assert.True(t, WorkUnitStatusPartiallyCommitted.Terminal())
	assert.True(t, WorkUnitStatusRolledBack.Terminal())
	assert.True(t, WorkUnitStatusFailedCompensation.Terminal())
	assert.True(t, WorkUnitStatusFailed.Terminal())
}

func TestPreconditionResult_Failed(t *testing.T) {
	result := &PreconditionResult{
		Checks: []PreconditionCheck{
			{Name: "campaign exists", Kind: PreconditionKindExistence, Passed: true},
			{Name: "campaign not running", Kind: PreconditionKindState, Passed: false, Reason: "campaign is running"},
		},
	}

	failed := result.Failed()
	require.NotNil(t, failed)
	assert.Equal(t, "campaign not running", failed.Name)
	assert.Equal(t, "campaign is running", failed.Reason)

	passed := &PreconditionResult{
		Checks: []PreconditionCheck{
			{Name: "campaign exists", Kind: PreconditionKindExistence, Passed: true},
		},
	}
	assert.Nil(t, passed.Failed())
}

func TestPreconditionKind_Rank(t *testing.T) {
	assert.Less(t, PreconditionKindShape.Rank(), PreconditionKindExistence.Rank())
	assert.Less(t, PreconditionKindExistence.Rank(), PreconditionKindOwnership.Rank())
	assert.Less(t, PreconditionKindOwnership.Rank(), PreconditionKindState.Rank())
}

func TestClaim_Expired(t *testing.T) {
	now := time.Now().UTC()
	claim := &Claim{
		Resource:   "tickets/42/review",
		Holder:     "agent-7",
		AcquiredAt: now,
		ExpiresAt:  now.Add(30 * time.Second),
	}

	assert.False(t, claim.Expired(now))
	assert.True(t, claim.Expired(now.Add(31*time.Second)))
	assert.True(t, claim.HeldBy("agent-7", now))
	assert.False(t, claim.HeldBy("agent-8", now))
	assert.False(t, claim.HeldBy("agent-7", now.Add(time.Minute)))
}
