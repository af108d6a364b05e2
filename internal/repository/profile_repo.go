package repository

import "github.com/user/bizscraper/internal/entity"

// ProfileRepository returns the extraction profile for a directory URL.
// Unknown hosts get a zero profile; callers apply entity.SiteProfile.WithDefaults.
type ProfileRepository interface {
	ProfileFor(targetURL string) entity.SiteProfile
}
