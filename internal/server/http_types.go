package server

import (
	"github.com/sanonone/cigraph/pkg/filter"
	"github.com/sanonone/cigraph/pkg/graph"
)

// OpenSessionRequest defines the body for session creation.
type OpenSessionRequest struct {
	RootID      int   `json:"root_id" validate:"gt=0"`
	TypeIDs     []int `json:"type_ids,omitempty"`
	RelationIDs []int `json:"relation_ids,omitempty"`
}

// InstanceRequest names one node instance.
type InstanceRequest struct {
	UID string `json:"uid" validate:"required"`
}

// FilterRequest replaces the filter criteria. Mode is "OR" or "AND"; when
// TypeIDs or RelationIDs are present the root is reloaded with them.
type FilterRequest struct {
	Search        string   `json:"search"`
	Types         []string `json:"types"`
	Mode          string   `json:"mode"`
	ConnectedOnly bool     `json:"connected_only"`
	SelectedUID   string   `json:"selected_uid,omitempty"`

	TypeIDs     *[]int `json:"type_ids,omitempty"`
	RelationIDs *[]int `json:"relation_ids,omitempty"`
}

func (r FilterRequest) criteria() filter.Criteria {
	return filter.Criteria{
		Search:        r.Search,
		Types:         r.Types,
		Mode:          filter.ParseMode(r.Mode),
		ConnectedOnly: r.ConnectedOnly,
		SelectedUID:   r.SelectedUID,
	}
}

// query returns the backend filters to reload with, or false when the
// request leaves them unchanged.
func (r FilterRequest) query(current graph.QueryFilters) (graph.QueryFilters, bool) {
	if r.TypeIDs == nil && r.RelationIDs == nil {
		return current, false
	}
	q := current
	if r.TypeIDs != nil {
		q.TypeIDs = *r.TypeIDs
	}
	if r.RelationIDs != nil {
		q.RelationIDs = *r.RelationIDs
	}
	return q, true
}

// SessionSummary is one entry of the session listing.
type SessionSummary struct {
	ID string `json:"id"`
}
