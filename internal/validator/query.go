package validator

import (
	"errors"
	"fmt"
	"time"

	"github.com/leapstack-labs/lookcheck/internal/lookml"
	"github.com/leapstack-labs/lookcheck/pkg/core"
)

var (
	// ErrCannotDivide is returned when dividing a query with fewer than two fields.
	ErrCannotDivide = errors.New("query must have at least 2 fields to divide")
	// ErrNotErrored is returned when dividing a query that has not errored.
	ErrNotErrored = errors.New("query must be errored to divide")
)

// Query is one validation query over some fields of an explore.
type Query struct {
	Explore *lookml.Explore
	Fields  []*lookml.Field

	ID         string
	TaskID     string
	ExploreURL string
	Runtime    float64
	Errored    core.Outcome

	expiredRetries int
	expiredAt      time.Time
}

func (q *Query) String() string {
	return fmt.Sprintf("Query(explore=%s n=%d)", q.Explore.Name, len(q.Fields))
}

// FieldNames returns the names of the queried fields.
func (q *Query) FieldNames() []string {
	names := make([]string, len(q.Fields))
	for i, f := range q.Fields {
		names[i] = f.Name
	}
	return names
}

// Divide splits an errored query in two halves to narrow down the failing
// fields. The halves differ in size by at most one.
func (q *Query) Divide() ([]*Query, error) {
	if q.Errored != core.OutcomeErrored {
		return nil, ErrNotErrored
	}
	n := len(q.Fields)
	if n < 2 {
		return nil, ErrCannotDivide
	}

	mid := n / 2
	return []*Query{
		{Explore: q.Explore, Fields: q.Fields[:mid:mid]},
		{Explore: q.Explore, Fields: q.Fields[mid:n:n]},
	}, nil
}
