package repository

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradepulse/go-auth"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func setupProfileRepo(t *testing.T, opts ...Option) (*ProfileRepository, *bun.DB) {
	t.Helper()

	db, err := sql.Open(sqliteshim.ShimName, "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	bunDB := bun.NewDB(db, sqlitedialect.New())
	t.Cleanup(func() {
		_ = bunDB.Close()
	})

	require.NoError(t, CreateSchema(context.Background(), bunDB))
	// second call is a no-op
	require.NoError(t, CreateSchema(context.Background(), bunDB))

	return NewProfileRepository(bunDB, opts...), bunDB
}

func TestProfileRepositoryInsertAndGet(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	repo, _ := setupProfileRepo(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	row := &auth.ProfileRow{
		ID:       uuid.NewString(),
		Email:    "grower@example.com",
		Name:     "Grower",
		Company:  "Green Fields",
		Industry: auth.IndustryAgriculture,
		Country:  "Kenya",
		Role:     auth.RoleSupplier,
		Metadata: map[string]any{"plan": "pro"},
	}

	created, err := repo.Insert(ctx, row)
	require.NoError(t, err)
	assert.Equal(t, now, created.CreatedAt)
	assert.Equal(t, now, created.UpdatedAt)

	got, err := repo.GetByID(ctx, row.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "grower@example.com", got.Email)
	assert.Equal(t, auth.IndustryAgriculture, got.Industry)
	assert.Equal(t, auth.RoleSupplier, got.Role)
	assert.Equal(t, "pro", got.Metadata["plan"])
}

func TestProfileRepositoryGetMissingReturnsNil(t *testing.T) {
	repo, _ := setupProfileRepo(t)

	got, err := repo.GetByID(context.Background(), uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestProfileRepositoryInsertDuplicateMapsToProfileExists(t *testing.T) {
	repo, _ := setupProfileRepo(t)
	ctx := context.Background()
	id := uuid.NewString()

	_, err := repo.Insert(ctx, &auth.ProfileRow{ID: id, Email: "a@example.com", Role: auth.RoleUser})
	require.NoError(t, err)

	_, err = repo.Insert(ctx, &auth.ProfileRow{ID: id, Email: "b@example.com", Role: auth.RoleAdmin})
	require.Error(t, err)
	assert.Equal(t, auth.TextCodeProfileExists, auth.AuthErrorCode(err))
	assert.True(t, auth.IsUniqueViolation(err))

	got, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", got.Email)
	assert.Equal(t, auth.RoleUser, got.Role)
}

func TestProfileRepositoryConcurrentInsertLeavesOneRow(t *testing.T) {
	repo, db := setupProfileRepo(t)
	ctx := context.Background()
	id := uuid.NewString()

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = repo.Insert(ctx, &auth.ProfileRow{ID: id, Email: "race@example.com", Role: auth.RoleUser})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.Equal(t, auth.TextCodeProfileExists, auth.AuthErrorCode(err))
	}
	assert.Equal(t, 1, succeeded)

	count, err := db.NewSelect().Model((*auth.ProfileRow)(nil)).Where("prf.id = ?", id).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestProfileRepositoryUpdate(t *testing.T) {
	repo, _ := setupProfileRepo(t)
	ctx := context.Background()
	id := uuid.NewString()

	_, err := repo.Insert(ctx, &auth.ProfileRow{
		ID:       id,
		Email:    "builder@example.com",
		Industry: auth.IndustryConstruction,
		Role:     auth.RoleUser,
	})
	require.NoError(t, err)

	industry := auth.IndustryAgriculture
	country := "Chile"
	require.NoError(t, repo.Update(ctx, id, auth.ProfilePatch{Industry: &industry, Country: &country}))

	got, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, auth.IndustryAgriculture, got.Industry)
	assert.Equal(t, "Chile", got.Country)
	assert.Equal(t, "builder@example.com", got.Email)
}

func TestProfileRepositoryUpdateMissingRow(t *testing.T) {
	repo, _ := setupProfileRepo(t)

	name := "Ghost"
	err := repo.Update(context.Background(), uuid.NewString(), auth.ProfilePatch{Name: &name})
	require.Error(t, err)
	assert.Equal(t, auth.TextCodeProfileNotFound, auth.AuthErrorCode(err))
}

func TestProfileRepositoryKeepsProviderIDs(t *testing.T) {
	repo, _ := setupProfileRepo(t)
	ctx := context.Background()

	created, err := repo.Insert(ctx, &auth.ProfileRow{ID: "provider-user-7", Email: "p7@example.com", Role: auth.RoleUser})
	require.NoError(t, err)
	assert.Equal(t, "provider-user-7", created.ID)

	got, err := repo.GetByID(ctx, "provider-user-7")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "p7@example.com", got.Email)
}

func TestProfileRepositoryUpdateKeepsUntouchedColumns(t *testing.T) {
	repo, _ := setupProfileRepo(t)
	ctx := context.Background()
	id := uuid.NewString()

	_, err := repo.Insert(ctx, &auth.ProfileRow{
		ID:       id,
		Email:    "agent@example.com",
		Name:     "Field Agent",
		Company:  "Coop",
		Industry: auth.IndustryAgriculture,
		Role:     auth.RoleAgent,
		Metadata: map[string]any{"region": "north"},
	})
	require.NoError(t, err)

	name := "Senior Agent"
	require.NoError(t, repo.Update(ctx, id, auth.ProfilePatch{Name: &name}))

	got, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Senior Agent", got.Name)
	assert.Equal(t, "Coop", got.Company)
	assert.Equal(t, auth.IndustryAgriculture, got.Industry)
	assert.Equal(t, auth.RoleAgent, got.Role)
	assert.Equal(t, "north", got.Metadata["region"])
}
