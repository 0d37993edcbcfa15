package report

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var (
	ErrNotFound      = errors.New("report: not found")
	ErrInvalidReport = errors.New("report: invalid report")
)

// FieldError names one offending input field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError lists every field that failed validation.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Reason))
	}
	return fmt.Sprintf("%s (%s)", ErrInvalidReport.Error(), strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidReport
}

// Draft is a submitted report before an id, status and timestamp are
// assigned.
type Draft struct {
	OwnerID     string
	Category    Category
	Description string
	Attributes  map[string]string
	Location    string
	PhotoRef    *string
	// Image is optional raw photo content used only to pre-fill an empty
	// description.
	Image []byte
}

// Validate checks d and converts it into a report of the given kind. The
// returned error is a *ValidationError when the draft is rejected.
func (d Draft) Validate(kind Kind) (Report, error) {
	var errs []FieldError
	if !kind.Valid() {
		errs = append(errs, FieldError{Field: "kind", Reason: "must be lost or found"})
	}

	owner := strings.TrimSpace(d.OwnerID)
	if owner == "" {
		errs = append(errs, FieldError{Field: "ownerId", Reason: "required"})
	}
	if !d.Category.Valid() {
		errs = append(errs, FieldError{Field: "category", Reason: fmt.Sprintf("must be one of %v", Categories)})
	}
	description := strings.TrimSpace(d.Description)
	if description == "" {
		errs = append(errs, FieldError{Field: "description", Reason: "required"})
	}
	location := strings.TrimSpace(d.Location)
	switch {
	case location == "":
		errs = append(errs, FieldError{Field: "location", Reason: "required"})
	case NormalizeLocation(location) == "":
		errs = append(errs, FieldError{Field: "location", Reason: "must contain letters or digits"})
	}

	var details Details
	if d.Category.Valid() {
		var detailErrs []FieldError
		details, detailErrs = DetailsFromAttributes(d.Category, d.Attributes)
		errs = append(errs, detailErrs...)
	}

	var photo *string
	if d.PhotoRef != nil {
		if ref := strings.TrimSpace(*d.PhotoRef); ref != "" {
			photo = &ref
		}
	}

	if len(errs) > 0 {
		return Report{}, &ValidationError{Fields: errs}
	}

	return Report{
		Kind:        kind,
		OwnerID:     owner,
		Category:    d.Category,
		Description: description,
		Details:     details,
		PhotoRef:    photo,
		Location:    location,
		Status:      kind.InitialStatus(),
	}, nil
}

// NormalizeLocation lower-cases s and collapses every run of characters
// that are neither letters nor digits into a single space. It only decides
// whether a location is usable; candidate matching normalises in the
// database.
func NormalizeLocation(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
			continue
		}
		pendingSpace = true
	}
	return b.String()
}
