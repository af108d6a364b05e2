package profile

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/user/bizscraper/internal/entity"
	"github.com/user/bizscraper/internal/repository"
	"github.com/user/bizscraper/pkg/utils"
)

// File is the on-disk layout of a profiles file:
//
//	profiles:
//	  - host: yelp.com
//	    selectors: [".biz-name"]
//	    next_selector: "a.next-link"
//	    mode: rendered
//	    scrolls: 3
type File struct {
	Profiles []entity.SiteProfile `yaml:"profiles"`
}

// ProfileRepoImpl resolves profiles by host. A profile for "example.com" also
// serves its subdomains.
type ProfileRepoImpl struct {
	byHost map[string]entity.SiteProfile
}

var _ repository.ProfileRepository = (*ProfileRepoImpl)(nil)

func NewProfileRepo(profiles []entity.SiteProfile) (*ProfileRepoImpl, error) {
	repo := &ProfileRepoImpl{byHost: make(map[string]entity.SiteProfile, len(profiles))}
	for i, p := range profiles {
		host := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(p.Host)), "www.")
		if host == "" {
			return nil, fmt.Errorf("%w: profile %d has no host", entity.ErrConfiguration, i)
		}
		switch p.Mode {
		case "", entity.FetchStatic, entity.FetchRendered:
		default:
			return nil, fmt.Errorf("%w: profile %s: unknown mode %q", entity.ErrConfiguration, host, p.Mode)
		}
		p.Host = host
		repo.byHost[host] = p
	}
	return repo, nil
}

// Load reads a profiles file. An empty path yields a repository without profiles.
func Load(path string) (*ProfileRepoImpl, error) {
	if path == "" {
		return NewProfileRepo(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrConfiguration, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", entity.ErrConfiguration, path, err)
	}
	return NewProfileRepo(f.Profiles)
}

func (r *ProfileRepoImpl) ProfileFor(targetURL string) entity.SiteProfile {
	host := utils.Hostname(targetURL)
	for host != "" {
		if p, ok := r.byHost[host]; ok {
			return p
		}
		_, parent, found := strings.Cut(host, ".")
		if !found {
			break
		}
		host = parent
	}
	return entity.SiteProfile{}
}

// Len returns the number of loaded profiles.
func (r *ProfileRepoImpl) Len() int {
	return len(r.byHost)
}
