package report

import "time"

// Kind names the collection a report belongs to.
type Kind string

const (
	KindLost  Kind = "lost"
	KindFound Kind = "found"
)

// Valid reports whether k is one of the two known collections.
func (k Kind) Valid() bool {
	return k == KindLost || k == KindFound
}

// Opposite returns the collection searched for counterparts of k.
func (k Kind) Opposite() Kind {
	if k == KindLost {
		return KindFound
	}
	return KindLost
}

// InitialStatus is the status assigned at creation.
func (k Kind) InitialStatus() Status {
	if k == KindLost {
		return StatusReported
	}
	return StatusAvailable
}

// TerminalStatus is the status reached once a matched item is handed over.
func (k Kind) TerminalStatus() Status {
	if k == KindLost {
		return StatusResolved
	}
	return StatusClaimed
}

type Category string

const (
	CategoryElectronics Category = "Electronics"
	CategoryBags        Category = "Bags"
	CategoryClothing    Category = "Clothing"
	CategoryAccessories Category = "Accessories"
	CategoryDocuments   Category = "Documents"
	CategoryOthers      Category = "Others"
)

// Categories lists the fixed enumeration in display order.
var Categories = []Category{
	CategoryElectronics,
	CategoryBags,
	CategoryClothing,
	CategoryAccessories,
	CategoryDocuments,
	CategoryOthers,
}

// Valid is an exact, case-sensitive membership test.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

type Status string

const (
	// Lost collection.
	StatusReported Status = "Reported"
	StatusResolved Status = "Resolved"

	// Found collection.
	StatusAvailable Status = "Available"
	StatusClaimed   Status = "Claimed"

	// Shared by both collections.
	StatusMatched Status = "Matched"
)

// Report is a lost or found item record. It mirrors the lost_reports and
// found_reports tables, which share one column layout.
type Report struct {
	ID          string
	Kind        Kind
	OwnerID     string
	Category    Category
	Description string
	Details     Details
	PhotoRef    *string
	Location    string
	Status      Status
	MatchedRef  *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Eligible reports whether the record can still be paired by a confirmation.
func (r Report) Eligible() bool {
	return r.Status == r.Kind.InitialStatus() && r.MatchedRef == nil
}

// LinkedTo reports whether r holds a back-reference to id.
func (r Report) LinkedTo(id string) bool {
	return r.MatchedRef != nil && *r.MatchedRef == id
}

// Scored is a report returned by a candidate query together with its text
// relevance against the query description.
type Scored struct {
	Report    Report
	Relevance float64
	TextMatch bool
}

// CandidateQuery selects counterparts from one collection. Location is
// passed raw; the store normalises it the same way as the stored column.
type CandidateQuery struct {
	Kind        Kind
	Category    Category
	Location    string
	Text        string
	RequireText bool
	OpenOnly    bool
	Limit       int
}
