//go:build integration

package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSmtpCredentialRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	truncateAll(t)
	seedTenant(t, ctx)

	repo := NewSmtpCredentialRepository(testPool)
	cred := newTestSmtpCredential()

	require.NoError(t, repo.Create(ctx, cred))

	byUsername, err := repo.GetByUsername(ctx, cred.Username)
	require.NoError(t, err)
	assert.Equal(t, cred.ID, byUsername.ID)

	byID, err := repo.GetByID(ctx, cred.ID)
	require.NoError(t, err)
	assert.Equal(t, cred.Username, byID.Username)

	_, err = repo.GetByUsername(ctx, "does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSmtpCredentialRepository_ListByStreamID(t *testing.T) {
	ctx := context.Background()
	truncateAll(t)
	seedTenant(t, ctx)

	repo := NewSmtpCredentialRepository(testPool)
	require.NoError(t, repo.Create(ctx, newTestSmtpCredential()))

	creds, err := repo.ListByStreamID(ctx, testStreamID)
	require.NoError(t, err)
	// seedTenant already inserted one credential directly, plus the one
	// created above.
	assert.Len(t, creds, 2)
}

func TestSmtpCredentialRepository_Delete(t *testing.T) {
	ctx := context.Background()
	truncateAll(t)
	seedTenant(t, ctx)

	repo := NewSmtpCredentialRepository(testPool)
	cred := newTestSmtpCredential()
	require.NoError(t, repo.Create(ctx, cred))

	require.NoError(t, repo.Delete(ctx, cred.ID))

	_, err := repo.GetByID(ctx, cred.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
