package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(Models()...))
	return db
}

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func seedProfile(t *testing.T, db *gorm.DB, id, name string, images ...string) {
	t.Helper()
	row := profileRow{ID: id}
	if name != "" {
		row.Name.String, row.Name.Valid = name, true
	}
	require.NoError(t, db.Create(&row).Error)
	for i, url := range images {
		img := userImageRow{ID: id + "-img-" + url, UserID: id, URL: url, Position: len(images) - i}
		require.NoError(t, db.Create(&img).Error)
	}
}

func seedMessage(t *testing.T, db *gorm.DB, id, from, to, content string, minute int, read bool) {
	t.Helper()
	row := messageRow{ID: id, SenderID: from, ReceiverID: to, Read: read, CreatedAt: baseTime.Add(time.Duration(minute) * time.Minute)}
	row.Content.String, row.Content.Valid = content, true
	require.NoError(t, db.Create(&row).Error)
}
