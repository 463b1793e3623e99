package models

import (
	"errors"
	"strings"
)

// AI-generated content tags excluded when FilterAI is set.
var aiTags = []string{"ai_generated", "ai_assisted"}

// ValidationError is returned when user input is rejected before any network call.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ErrEmptyQuery is returned when a query has no include tag.
var ErrEmptyQuery = &ValidationError{Message: "at least one search tag is required"}

// TagQuery is an ordered set of include and exclude tags.
// Exclude tags are stored without the leading "-".
type TagQuery struct {
	Include  []string `json:"include"`
	Exclude  []string `json:"exclude"`
	FilterAI bool     `json:"filterAI"`
}

// NewTagQuery builds a query from raw tag lists. Each entry may hold several
// whitespace separated tags; entries in tags that start with "-" become exclusions.
func NewTagQuery(tags, deny []string, filterAI bool) TagQuery {
	q := TagQuery{FilterAI: filterAI}
	for _, tag := range splitTags(tags) {
		if strings.HasPrefix(tag, "-") {
			if t := strings.TrimLeft(tag, "-"); t != "" {
				q.Exclude = append(q.Exclude, t)
			}
			continue
		}
		q.Include = append(q.Include, tag)
	}
	for _, tag := range splitTags(deny) {
		if t := strings.TrimLeft(tag, "-"); t != "" {
			q.Exclude = append(q.Exclude, t)
		}
	}
	return q
}

func splitTags(raw []string) []string {
	var out []string
	for _, entry := range raw {
		out = append(out, strings.Fields(entry)...)
	}
	return out
}

// Validate rejects queries without an include tag.
func (q TagQuery) Validate() error {
	if len(q.Include) == 0 {
		return ErrEmptyQuery
	}
	return nil
}

// IsValidationError reports whether err is a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Expression returns the space-joined tag expression sent to the index API.
func (q TagQuery) Expression() string {
	terms := make([]string, 0, len(q.Include)+len(q.Exclude)+len(aiTags))
	terms = append(terms, q.Include...)
	for _, tag := range q.Exclude {
		terms = append(terms, "-"+tag)
	}
	if q.FilterAI {
		for _, tag := range aiTags {
			terms = append(terms, "-"+tag)
		}
	}
	return strings.Join(terms, " ")
}
