package entity

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// RecordStatus is the enrichment state of a BusinessRecord.
type RecordStatus string

const (
	StatusPending    RecordStatus = "pending"
	StatusResolved   RecordStatus = "resolved"
	StatusUnresolved RecordStatus = "unresolved"
)

// ContactSet holds the contacts recovered for one business. Emails and Phones
// are kept sorted and unique; Social maps a platform to its first known URL.
type ContactSet struct {
	Emails []string          `json:"emails"`
	Phones []string          `json:"phones"`
	Social map[string]string `json:"social"`
}

// NewContactSet returns an empty, ready-to-use set.
func NewContactSet() ContactSet {
	return ContactSet{Emails: []string{}, Phones: []string{}, Social: map[string]string{}}
}

// Empty reports whether nothing was found.
func (c ContactSet) Empty() bool {
	return len(c.Emails) == 0 && len(c.Phones) == 0 && len(c.Social) == 0
}

// AddEmail adds an email to the set.
func (c *ContactSet) AddEmail(email string) {
	c.Emails = addUnique(c.Emails, email)
}

// AddPhone adds a phone number to the set.
func (c *ContactSet) AddPhone(phone string) {
	c.Phones = addUnique(c.Phones, phone)
}

// AddSocial records a platform link unless the platform is already known.
func (c *ContactSet) AddSocial(platform, link string) {
	if platform == "" || link == "" {
		return
	}
	if c.Social == nil {
		c.Social = map[string]string{}
	}
	if _, ok := c.Social[platform]; !ok {
		c.Social[platform] = link
	}
}

// Merge unions other into c. Nothing already in c is ever removed or replaced.
func (c *ContactSet) Merge(other ContactSet) {
	for _, e := range other.Emails {
		c.AddEmail(e)
	}
	for _, p := range other.Phones {
		c.AddPhone(p)
	}
	for platform, link := range other.Social {
		c.AddSocial(platform, link)
	}
}

// Clone returns a deep copy.
func (c ContactSet) Clone() ContactSet {
	out := NewContactSet()
	out.Emails = append(out.Emails, c.Emails...)
	out.Phones = append(out.Phones, c.Phones...)
	maps.Copy(out.Social, c.Social)
	return out
}

func addUnique(list []string, v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return list
	}
	i, found := slices.BinarySearch(list, v)
	if found {
		return list
	}
	return slices.Insert(list, i, v)
}

// BusinessRecord is the accumulating output for one discovered business.
// Name is the identity key across all stages.
type BusinessRecord struct {
	Name      string       `json:"name"`
	SourceURL string       `json:"source_url"`
	Location  string       `json:"location,omitempty"`
	Website   string       `json:"website,omitempty"`
	Contacts  ContactSet   `json:"contacts"`
	Status    RecordStatus `json:"status"`
	Error     string       `json:"error,omitempty"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// NewBusinessRecord creates a pending record.
func NewBusinessRecord(name, sourceURL, location string) *BusinessRecord {
	return &BusinessRecord{
		Name:      name,
		SourceURL: sourceURL,
		Location:  location,
		Contacts:  NewContactSet(),
		Status:    StatusPending,
		UpdatedAt: time.Now().UTC(),
	}
}

// SetWebsite records the resolved website. An empty value never clears a known one.
func (r *BusinessRecord) SetWebsite(website string) {
	if website == "" {
		return
	}
	r.Website = website
	r.touch()
}

// MergeContacts unions newly found contacts into the record and marks it resolved.
func (r *BusinessRecord) MergeContacts(c ContactSet) {
	r.Contacts.Merge(c)
	r.Status = StatusResolved
	r.Error = ""
	r.touch()
}

// MarkUnresolved flags the record without touching anything it already holds.
func (r *BusinessRecord) MarkUnresolved(reason string) {
	r.Status = StatusUnresolved
	r.Error = reason
	r.touch()
}

// Clone returns a deep copy of the record.
func (r *BusinessRecord) Clone() BusinessRecord {
	out := *r
	out.Contacts = r.Contacts.Clone()
	return out
}

func (r *BusinessRecord) touch() {
	r.UpdatedAt = time.Now().UTC()
}
