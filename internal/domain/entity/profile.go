package entity

const UnknownUserName = "Unknown User"

type Profile struct {
	ID       string `json:"id" firestore:"id"`
	Name     string `json:"name" firestore:"name"`
	Bio      string `json:"bio,omitempty" firestore:"bio"`
	Location string `json:"location,omitempty" firestore:"location"`
	Age      *int   `json:"age,omitempty" firestore:"age"`
}

// DisplayName falls back to UnknownUserName for profiles without a name.
func (p *Profile) DisplayName() string {
	if p == nil || p.Name == "" {
		return UnknownUserName
	}
	return p.Name
}

type UserImage struct {
	ID       string `json:"id" firestore:"id"`
	UserID   string `json:"user_id" firestore:"user_id"`
	URL      string `json:"url" firestore:"url"`
	Position int    `json:"position" firestore:"position"`
}

type ProfileDetail struct {
	Profile
	Images []UserImage `json:"images"`
}

// AvatarURL is the first image by position, or empty.
func (d *ProfileDetail) AvatarURL() string {
	if len(d.Images) == 0 {
		return ""
	}
	best := d.Images[0]
	for _, img := range d.Images[1:] {
		if img.Position < best.Position {
			best = img
		}
	}
	return best.URL
}
