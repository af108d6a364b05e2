package entity

// SiteProfile describes how business names are laid out on a directory site.
type SiteProfile struct {
	Host         string    `yaml:"host" json:"host"`
	Selectors    []string  `yaml:"selectors" json:"selectors"`
	NextSelector string    `yaml:"next_selector" json:"next_selector,omitempty"`
	MaxPages     int       `yaml:"max_pages" json:"max_pages,omitempty"`
	Mode         FetchMode `yaml:"mode" json:"mode,omitempty"`
	Scrolls      int       `yaml:"scrolls" json:"scrolls,omitempty"`
	MinLength    int       `yaml:"min_length" json:"min_length,omitempty"`
}

// DefaultSelectors are tried on hosts without a profile.
var DefaultSelectors = []string{".business-name", ".company-name", "h2", "h3"}

// WithDefaults fills unset fields.
func (p SiteProfile) WithDefaults() SiteProfile {
	if len(p.Selectors) == 0 {
		p.Selectors = DefaultSelectors
	}
	if p.MaxPages <= 0 {
		p.MaxPages = 10
	}
	if p.Mode == "" {
		p.Mode = FetchStatic
	}
	if p.MinLength <= 0 {
		p.MinLength = 3
	}
	return p
}
