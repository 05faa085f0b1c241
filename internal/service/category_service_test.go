package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"invoiceflow/internal/database"
	"invoiceflow/internal/model"
	"invoiceflow/internal/testutil"
	"invoiceflow/pkg/apperrors"
	"invoiceflow/pkg/pagination"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestResolveCategory(t *testing.T) {
	cases := map[string]string{
		"GBS09500_TRAVEL.pdf":         "TRAVEL",
		"SimpleName.pdf":              "General",
		"inv_meals.png":               "MEALS",
		"/data/Incoming/X_office.jpg": "OFFICE",
		"A_B_C.pdf":                   "B_C",
		"trailing_.pdf":               "General",
		"noext_Software":              "SOFTWARE",
		"":                            "General",
	}
	for in, want := range cases {
		assert.Equal(t, want, ResolveCategory(in), in)
	}
}

func newCategoryService(t *testing.T) CategoryService {
	t.Helper()
	return NewCategoryService(testutil.NewDB(t), zap.NewNop())
}

func TestLookup(t *testing.T) {
	ctx := context.Background()
	svc := newCategoryService(t)
	max := decimal.NewFromInt(3000)
	inactive := false

	_, err := svc.CreateCategory(ctx, CreateCategoryDTO{Name: "Travel", ApprovalCriteria: "  economy only \n", MaximumAmount: &max}, "")
	require.NoError(t, err)
	_, err = svc.CreateCategory(ctx, CreateCategoryDTO{Name: "GOLF", Active: &inactive}, "")
	require.NoError(t, err)

	found, err := svc.Lookup(ctx, "TRAVEL")
	require.NoError(t, err)
	assert.True(t, found.Found)
	assert.Equal(t, "Travel", found.Name)
	assert.Equal(t, "economy only", found.ApprovalCriteria)
	require.True(t, found.MaximumAmount.Valid)
	assert.True(t, found.MaximumAmount.Decimal.Equal(max))

	missing, err := svc.Lookup(ctx, "BOATS")
	require.NoError(t, err)
	assert.False(t, missing.Found)

	retired, err := svc.Lookup(ctx, "GOLF")
	require.NoError(t, err)
	assert.False(t, retired.Found)
}

func TestCreateCategory_Validation(t *testing.T) {
	ctx := context.Background()
	svc := newCategoryService(t)
	negative := decimal.NewFromInt(-1)

	_, err := svc.CreateCategory(ctx, CreateCategoryDTO{Name: "  "}, "")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = svc.CreateCategory(ctx, CreateCategoryDTO{Name: "X", MaximumAmount: &negative}, "")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = svc.CreateCategory(ctx, CreateCategoryDTO{Name: "meals"}, "")
	require.NoError(t, err)
	_, err = svc.CreateCategory(ctx, CreateCategoryDTO{Name: "MEALS"}, "")
	assert.ErrorIs(t, err, apperrors.ErrCategoryExists)
}

func TestCategoryNameIndexIgnoresCase(t *testing.T) {
	db := testutil.NewDB(t)
	now := time.Now().UTC()
	require.NoError(t, db.Create(&model.Category{CategoryFields: model.CategoryFields{Name: "Travel", Active: true}, CreatedOn: now, UpdatedOn: now}).Error)

	err := db.Create(&model.Category{CategoryFields: model.CategoryFields{Name: "TRAVEL", Active: true}, CreatedOn: now, UpdatedOn: now}).Error
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
}

// A rival insert landing between the name check and the insert must still
// surface as ErrCategoryExists.
func TestCreateCategory_ConcurrentInsertLosesToIndex(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	svc := NewCategoryService(db, zap.NewNop())

	var fired atomic.Bool
	err := db.Callback().Create().Before("gorm:create").Register("test:rival_category", func(tx *gorm.DB) {
		if tx.Statement.Schema == nil || tx.Statement.Schema.Table != "categories" || !fired.CompareAndSwap(false, true) {
			return
		}
		now := time.Now().UTC()
		_ = tx.Session(&gorm.Session{NewDB: true}).
			Exec("INSERT INTO categories (id, name, active, created_on, updated_on) VALUES (?, ?, ?, ?, ?)",
				uuid.NewString(), "travel", true, now, now).Error
	})
	require.NoError(t, err)

	_, err = svc.CreateCategory(ctx, CreateCategoryDTO{Name: "TRAVEL"}, "")
	assert.ErrorIs(t, err, apperrors.ErrCategoryExists)
}

func TestUpdateCategory_RecordsHistory(t *testing.T) {
	ctx := context.Background()
	svc := newCategoryService(t)
	max := decimal.NewFromInt(1000)

	c, err := svc.CreateCategory(ctx, CreateCategoryDTO{Name: "MEALS", MaximumAmount: &max}, "admin")
	require.NoError(t, err)

	criteria := "no alcohol"
	updated, err := svc.UpdateCategory(ctx, c.ID.String(), UpdateCategoryDTO{ApprovalCriteria: &criteria, ClearMaximum: true, Comments: "policy change"}, "bob")
	require.NoError(t, err)
	assert.Equal(t, "no alcohol", updated.ApprovalCriteria)
	assert.False(t, updated.MaximumAmount.Valid)
	assert.Equal(t, "bob", updated.UpdatedBy)

	history, err := svc.GetCategoryHistory(ctx, c.ID.String())
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "", history[0].ApprovalCriteria)
	assert.True(t, history[0].MaximumAmount.Valid)
	assert.Equal(t, "policy change", history[0].Comments)
	assert.False(t, history[0].CreatedOn.Before(c.UpdatedOn))

	_, err = svc.UpdateCategory(ctx, "not-a-uuid", UpdateCategoryDTO{}, "")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	_, err = svc.UpdateCategory(ctx, "00000000-0000-0000-0000-000000000009", UpdateCategoryDTO{}, "")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestUpdateCategory_RenameConflict(t *testing.T) {
	ctx := context.Background()
	svc := newCategoryService(t)

	_, err := svc.CreateCategory(ctx, CreateCategoryDTO{Name: "TRAVEL"}, "")
	require.NoError(t, err)
	office, err := svc.CreateCategory(ctx, CreateCategoryDTO{Name: "OFFICE"}, "")
	require.NoError(t, err)

	name := "travel"
	_, err = svc.UpdateCategory(ctx, office.ID.String(), UpdateCategoryDTO{Name: &name}, "")
	assert.ErrorIs(t, err, apperrors.ErrCategoryExists)

	history, err := svc.GetCategoryHistory(ctx, office.ID.String())
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSeed_IsRepeatable(t *testing.T) {
	ctx := context.Background()
	svc := newCategoryService(t)

	seeds, err := database.ParseCategorySeed([]byte(`
categories:
  - name: General
  - name: TRAVEL
    maximum_amount: "3000"
  - name: LEGACY
    active: false
`))
	require.NoError(t, err)

	created, err := svc.Seed(ctx, seeds)
	require.NoError(t, err)
	assert.Equal(t, 3, created)

	created, err = svc.Seed(ctx, seeds)
	require.NoError(t, err)
	assert.Equal(t, 0, created)

	items, total, err := svc.ListCategories(ctx, true, pagination.New(1, 20))
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, items, 2)

	general, err := svc.Lookup(ctx, model.DefaultCategory)
	require.NoError(t, err)
	assert.True(t, general.Found)
	assert.False(t, general.MaximumAmount.Valid)
}
