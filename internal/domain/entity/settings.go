package entity

import "time"

const (
	ShowMeEveryone = "everyone"
	ShowMeMen      = "men"
	ShowMeWomen    = "women"
	ShowMeNone     = "none"
)

type UserSettings struct {
	ID       string `json:"id" firestore:"id"`
	DarkMode bool   `json:"dark_mode" firestore:"dark_mode"`
	ShowMe   string `json:"show_me" firestore:"show_me" validate:"required,oneof=everyone men women none"`
	MinAge   int    `json:"min_age" firestore:"min_age" validate:"gte=18,lte=100"`
	MaxAge   int    `json:"max_age" firestore:"max_age" validate:"gte=18,lte=100,gtefield=MinAge"`
	Distance int    `json:"distance" firestore:"distance" validate:"gte=1,lte=500"`
}

// DefaultSettings are returned for users that have never saved settings.
func DefaultSettings(userID string) *UserSettings {
	return &UserSettings{
		ID:       userID,
		DarkMode: false,
		ShowMe:   ShowMeEveryone,
		MinAge:   18,
		MaxAge:   50,
		Distance: 50,
	}
}

type SettingsPatch struct {
	DarkMode *bool   `json:"dark_mode"`
	ShowMe   *string `json:"show_me"`
	MinAge   *int    `json:"min_age"`
	MaxAge   *int    `json:"max_age"`
	Distance *int    `json:"distance"`
}

func (s *UserSettings) Apply(p SettingsPatch) {
	if p.DarkMode != nil {
		s.DarkMode = *p.DarkMode
	}
	if p.ShowMe != nil {
		s.ShowMe = *p.ShowMe
	}
	if p.MinAge != nil {
		s.MinAge = *p.MinAge
	}
	if p.MaxAge != nil {
		s.MaxAge = *p.MaxAge
	}
	if p.Distance != nil {
		s.Distance = *p.Distance
	}
}

type BlockedUser struct {
	ID              string    `json:"id" firestore:"id"`
	UserID          string    `json:"user_id" firestore:"user_id"`
	BlockedUserID   string    `json:"blocked_user_id" firestore:"blocked_user_id"`
	CreatedAt       time.Time `json:"created_at" firestore:"created_at"`
	BlockedUserName string    `json:"blocked_user_name,omitempty" firestore:"-"`
}
