package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/org-directory/internal/model"
)

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.TODO(), nil, "test_table", []string{"a", "b"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"test_table"}, []string{"a", "b"}).WillReturnResult(3)

	rows := [][]any{{1, "x"}, {2, "y"}, {3, "z"}}
	n, err := CopyFrom(context.Background(), mock, "test_table", []string{"a", "b"}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_SchemaQualified(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"directory", "orgs"}, []string{"a"}).WillReturnResult(1)

	n, err := CopyFrom(context.Background(), mock, "directory.orgs", []string{"a"}, [][]any{{1}})
	assert.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"test_table"}, []string{"a", "b"}).WillReturnError(fmt.Errorf("copy failed"))

	_, err = CopyFrom(context.Background(), mock, "test_table", []string{"a", "b"}, [][]any{{1, "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO test_table")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentifier(t *testing.T) {
	assert.Equal(t, pgx.Identifier{"organizations"}, Identifier("organizations"))
	assert.Equal(t, pgx.Identifier{"public", "organizations"}, Identifier("public.organizations"))
}

func TestCreateTableSQL(t *testing.T) {
	sql := CreateTableSQL("organizations")
	assert.Contains(t, sql, `CREATE TABLE IF NOT EXISTS "organizations"`)
	assert.Contains(t, sql, `"org_name" TEXT`)
	assert.Contains(t, sql, `"total_revenue" DOUBLE PRECISION`)
	assert.Contains(t, sql, `"data_sources" TEXT`)
}

func testRecords() model.Batch {
	return model.Batch{
		model.RecordFrom(map[string]any{"org_name": "VFW Post 1234", "total_revenue": 10.0}, "irs_bmf"),
		model.RecordFrom(map[string]any{"org_name": "Fisher House"}, "va_facilities"),
	}
}

func TestRows(t *testing.T) {
	rows := Rows(testRecords())
	require.Len(t, rows, 2)
	require.Len(t, rows[0], model.Canonical().Len())
	assert.Equal(t, "VFW Post 1234", rows[0][model.Canonical().Index("org_name")])
	assert.Equal(t, "irs_bmf", rows[0][model.Canonical().Index("data_sources")])
	assert.Nil(t, rows[1][model.Canonical().Index("total_revenue")])
}

func TestLoadOrganizations(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("TRUNCATE").WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"organizations"}, model.Canonical().Names()).WillReturnResult(2)
	mock.ExpectCommit()

	n, err := LoadOrganizations(context.Background(), mock, "organizations", testRecords())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadOrganizations_CopyFailsRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("TRUNCATE").WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"organizations"}, model.Canonical().Names()).WillReturnError(fmt.Errorf("disk full"))
	mock.ExpectRollback()

	_, err = LoadOrganizations(context.Background(), mock, "organizations", testRecords())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO organizations")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadOrganizations_BeginFails(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin().WillReturnError(fmt.Errorf("no connection"))

	_, err = LoadOrganizations(context.Background(), mock, "organizations", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin tx")
}
