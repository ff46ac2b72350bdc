package model

// RunReview is a moderator's judgment on a run. HasErrors, HasWarnings and
// HasNoErrors are derived by Derive and always rewritten with their inputs.
// Published and Blinded stay nil until a reviewer sets them explicitly.
type RunReview struct {
	RunID            string `yaml:"run_id" json:"run_id"`
	ReviewerID       string `yaml:"reviewer_id" json:"reviewer_id"`
	ReviewDate       string `yaml:"review_date" json:"review_date"`
	NoErrors         bool   `yaml:"no_errors" json:"no_errors"`
	MissingOutput    bool   `yaml:"missing_output" json:"missing_output"`
	ExtraneousOutput bool   `yaml:"extraneous_output" json:"extraneous_output"`
	InvalidOutput    bool   `yaml:"invalid_output" json:"invalid_output"`
	HasErrorOutput   bool   `yaml:"has_error_output" json:"has_error_output"`
	OtherErrors      bool   `yaml:"other_errors" json:"other_errors"`
	Comment          string `yaml:"comment,omitempty" json:"comment,omitempty"`
	HasErrors        bool   `yaml:"has_errors" json:"has_errors"`
	HasWarnings      bool   `yaml:"has_warnings" json:"has_warnings"`
	HasNoErrors      bool   `yaml:"has_no_errors" json:"has_no_errors"`
	Published        *bool  `yaml:"published,omitempty" json:"published,omitempty"`
	Blinded          *bool  `yaml:"blinded,omitempty" json:"blinded,omitempty"`
}

// ReviewCriteria carries a partial criteria update. Nil fields keep the
// value of the previous review.
type ReviewCriteria struct {
	NoErrors         *bool   `json:"no_errors,omitempty"`
	MissingOutput    *bool   `json:"missing_output,omitempty"`
	ExtraneousOutput *bool   `json:"extraneous_output,omitempty"`
	InvalidOutput    *bool   `json:"invalid_output,omitempty"`
	HasErrorOutput   *bool   `json:"has_error_output,omitempty"`
	OtherErrors      *bool   `json:"other_errors,omitempty"`
	Comment          *string `json:"comment,omitempty"`
}

// Apply merges c into rr.
func (c ReviewCriteria) Apply(rr *RunReview) {
	setBool(&rr.NoErrors, c.NoErrors)
	setBool(&rr.MissingOutput, c.MissingOutput)
	setBool(&rr.ExtraneousOutput, c.ExtraneousOutput)
	setBool(&rr.InvalidOutput, c.InvalidOutput)
	setBool(&rr.HasErrorOutput, c.HasErrorOutput)
	setBool(&rr.OtherErrors, c.OtherErrors)
	if c.Comment != nil {
		rr.Comment = *c.Comment
	}
}

// Derive recomputes the derived flags from the criteria fields.
func (rr *RunReview) Derive() {
	rr.HasErrors = rr.InvalidOutput || rr.MissingOutput || rr.OtherErrors
	rr.HasWarnings = rr.HasErrorOutput || rr.ExtraneousOutput
	rr.HasNoErrors = rr.NoErrors && !rr.HasErrors && !rr.HasWarnings
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

// Bool returns a pointer to v.
func Bool(v bool) *bool {
	return &v
}
