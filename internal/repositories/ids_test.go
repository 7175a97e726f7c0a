package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/parlourguard/internal/database"
	"github.com/BradenHooton/parlourguard/internal/models"
)

func TestRowID(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr error
	}{
		{"canonical", "5f0c6b7e-2a51-4c55-9d0e-3f3a1b2c4d5e", "5f0c6b7e-2a51-4c55-9d0e-3f3a1b2c4d5e", nil},
		{"upper case", "5F0C6B7E-2A51-4C55-9D0E-3F3A1B2C4D5E", "5f0c6b7e-2a51-4c55-9d0e-3f3a1b2c4d5e", nil},
		{"empty", "", "", models.ErrNotFound},
		{"garbage", "not-a-uuid", "", models.ErrNotFound},
		{"injection text", "' OR 1=1 --", "", models.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rowID(tt.in)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// Malformed ids are answered before any query runs, so no pool is needed here
func TestMalformedIDsNeverReachTheDatabase(t *testing.T) {
	db := &database.DB{}
	ctx := context.Background()
	now := time.Now()

	challenges := NewChallengeRepository(db)
	_, err := challenges.GetByID(ctx, "abc")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = challenges.GetApproval(ctx, "abc")
	assert.ErrorIs(t, err, models.ErrNotFound)

	err = challenges.CompareAndSwap(ctx, &models.Challenge{ID: "abc"}, 0)
	assert.ErrorIs(t, err, models.ErrNotFound)

	sessions := NewSessionRepository(db)
	_, err = sessions.GetByID(ctx, "abc")
	assert.ErrorIs(t, err, models.ErrNotFound)

	revoked, err := sessions.Revoke(ctx, "abc", models.RevocationReasonLogout, now)
	require.NoError(t, err)
	assert.False(t, revoked)

	assert.NoError(t, sessions.Touch(ctx, "abc", now))
}
