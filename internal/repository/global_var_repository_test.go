package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGlobalVarRepository_UpdateAndGet 测试批量写入与读取
func TestGlobalVarRepository_UpdateAndGet(t *testing.T) {
	repo := NewGlobalVarRepository(setupTestDB(t))
	ctx := context.Background()

	err := repo.UpdateKeys(ctx, []KeyValue{
		{Key: "airdrop.round", Value: "1"},
		{Key: "airdrop.enabled", Value: "true"},
	})
	require.NoError(t, err)

	err = repo.UpdateKeys(ctx, []KeyValue{
		{Key: "airdrop.round", Value: "2"},
		{Key: "airdrop.round", Value: "3"},
	})
	require.NoError(t, err)

	values, err := repo.GetKeys(ctx, []string{"airdrop.round", "airdrop.enabled", "missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"airdrop.round":   "3",
		"airdrop.enabled": "true",
	}, values)

	values, err = repo.GetKeys(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, values)

	require.NoError(t, repo.UpdateKeys(ctx, nil))
}

// TestGlobalVarRepository_UpdateKeysSQL 测试行锁后合并写入
func TestGlobalVarRepository_UpdateKeysSQL(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewGlobalVarRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "global_vars" WHERE global_key IN \(\$1,\$2\) FOR UPDATE`).
		WithArgs("a", "b").
		WillReturnRows(sqlmock.NewRows([]string{"id", "global_key", "global_value"}).AddRow(1, "a", "old"))
	mock.ExpectQuery(`INSERT INTO "global_vars" .*ON CONFLICT \("global_key"\) DO UPDATE SET`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))
	mock.ExpectCommit()

	err := repo.UpdateKeys(context.Background(), []KeyValue{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
