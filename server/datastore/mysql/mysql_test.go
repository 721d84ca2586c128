package mysql

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/WatchBeam/clock"
	"github.com/go-kit/log"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vriskhq/vrisk/server/config"
	"github.com/vriskhq/vrisk/server/vrisk"
)

func mockDatastore(t *testing.T) (*Datastore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	dbx := sqlx.NewDb(db, "mysql")
	ds := &Datastore{
		reader: dbx,
		writer: dbx,
		logger: log.NewNopLogger(),
		clock:  clock.NewMockClock(),
	}
	return ds, mock
}

func TestGenerateMysqlConnectionString(t *testing.T) {
	conf := config.MysqlConfig{
		Protocol: "tcp",
		Address:  "localhost:3306",
		Username: "vrisk",
		Password: "vrisk",
		Database: "vrisk",
	}

	dsn := generateMysqlConnectionString(conf)
	assert.Equal(t, "vrisk:vrisk@tcp(localhost:3306)/vrisk?charset=utf8mb4&parseTime=true&loc=UTC&time_zone=%27-00%3A00%27&clientFoundRows=true&allowNativePasswords=true", dsn)
}

func TestSanitizeColumn(t *testing.T) {
	testCases := []struct {
		input  string
		output string
	}{
		{"foobar-column", "foobar-column"},
		{"foobar_column", "foobar_column"},
		{"foobar;column", "foobarcolumn"},
		{"foobar#", "foobar"},
		{"foobar*baz", "foobarbaz"},
	}

	for _, tt := range testCases {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.output, sanitizeColumn(tt.input))
		})
	}
}

func TestAppendListOptionsToSelect(t *testing.T) {
	sel := dialect.From("hosts").Select("*")

	sql, _, err := appendListOptionsToSelect(sel, vrisk.ListOptions{OrderKey: "hostname"}).ToSQL()
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM `hosts` ORDER BY `hostname` ASC LIMIT 1000000", sql)

	sql, _, err = appendListOptionsToSelect(sel, vrisk.ListOptions{
		OrderKey:        "risk_score",
		OrderDescending: true,
		Page:            2,
		PerPage:         20,
	}).ToSQL()
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM `hosts` ORDER BY `risk_score` DESC LIMIT 20 OFFSET 40", sql)
}

func TestBatchPlaceholders(t *testing.T) {
	assert.Equal(t, "(?)", batchPlaceholders(1, 1))
	assert.Equal(t, "(?, ?), (?, ?)", batchPlaceholders(2, 2))
	assert.Equal(t, "?, ?, ?", inPlaceholders(3))
}
