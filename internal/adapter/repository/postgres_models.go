package repository

import (
	"database/sql"
	"time"

	"heartstring/internal/domain/entity"
)

type messageRow struct {
	ID         string         `gorm:"primaryKey;type:uuid"`
	SenderID   string         `gorm:"index;not null"`
	ReceiverID string         `gorm:"index;not null"`
	Content    sql.NullString
	ImageURL   sql.NullString `gorm:"column:image_url"`
	Read       bool           `gorm:"not null;default:false"`
	CreatedAt  time.Time      `gorm:"index"`
}

func (messageRow) TableName() string { return entity.TableMessages }

func (r *messageRow) toEntity() *entity.Message {
	return &entity.Message{
		ID:         r.ID,
		SenderID:   r.SenderID,
		ReceiverID: r.ReceiverID,
		Content:    r.Content.String,
		ImageURL:   r.ImageURL.String,
		CreatedAt:  r.CreatedAt,
		Read:       r.Read,
	}
}

func messageRowFrom(m *entity.Message) *messageRow {
	return &messageRow{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    sql.NullString{String: m.Content, Valid: m.Content != ""},
		ImageURL:   sql.NullString{String: m.ImageURL, Valid: m.ImageURL != ""},
		Read:       m.Read,
		CreatedAt:  m.CreatedAt,
	}
}

type profileRow struct {
	ID       string `gorm:"primaryKey"`
	Name     sql.NullString
	Bio      sql.NullString
	Location sql.NullString
	Age      sql.NullInt32
}

func (profileRow) TableName() string { return entity.TableProfiles }

func (r *profileRow) toEntity() *entity.Profile {
	p := &entity.Profile{
		ID:       r.ID,
		Name:     r.Name.String,
		Bio:      r.Bio.String,
		Location: r.Location.String,
	}
	if r.Age.Valid {
		age := int(r.Age.Int32)
		p.Age = &age
	}
	return p
}

type userImageRow struct {
	ID       string `gorm:"primaryKey"`
	UserID   string `gorm:"index;not null"`
	URL      string `gorm:"column:url;not null"`
	Position int    `gorm:"not null;default:0"`
}

func (userImageRow) TableName() string { return entity.TableUserImages }

type userSettingsRow struct {
	ID       string `gorm:"primaryKey"`
	DarkMode bool
	ShowMe   string
	MinAge   int
	MaxAge   int
	Distance int
}

func (userSettingsRow) TableName() string { return entity.TableUserSettings }

type blockedUserRow struct {
	ID            string `gorm:"primaryKey"`
	UserID        string `gorm:"index;not null"`
	BlockedUserID string `gorm:"not null"`
	CreatedAt     time.Time
}

func (blockedUserRow) TableName() string { return entity.TableBlockedUsers }

// Models lists every row type managed by the gorm gateway, for AutoMigrate.
func Models() []interface{} {
	return []interface{}{&messageRow{}, &profileRow{}, &userImageRow{}, &userSettingsRow{}, &blockedUserRow{}}
}

func (r *blockedUserRow) toEntity() *entity.BlockedUser {
	return &entity.BlockedUser{
		ID:            r.ID,
		UserID:        r.UserID,
		BlockedUserID: r.BlockedUserID,
		CreatedAt:     r.CreatedAt,
	}
}
