package request

// Target is a directory page to extract business names from.
type Target struct {
	URL      string `json:"url"`
	Location string `json:"location,omitempty"`
}

// Business is a business name that skips name extraction.
type Business struct {
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
}

// SubmitRunRequest starts a new run, or resumes RunID from its checkpoints.
type SubmitRunRequest struct {
	RunID      string     `json:"run_id,omitempty"`
	URLs       []string   `json:"urls,omitempty"` // shorthand for targets without a location
	Targets    []Target   `json:"targets,omitempty"`
	Businesses []Business `json:"businesses,omitempty"`
	Location   string     `json:"location,omitempty"`
}
