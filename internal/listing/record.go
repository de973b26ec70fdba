// Package listing defines the normalized second-hand housing record emitted by the crawler.
package listing

import "strings"

// Unknown is the sentinel stored in any field whose source fragment was absent or unparsable.
const Unknown = "未知"

// TagSeparator joins tags when a record is flattened for a row-oriented sink.
const TagSeparator = "|"

// Record is one listing scraped from a results page.
//
// Every field is always populated: where the page did not provide a value the
// field holds Unknown. ListingID alone uses the empty string instead, since a
// missing house code is not a displayable value.
type Record struct {
	Title         string   `json:"title"`
	DetailLink    string   `json:"detail_link"`
	CommunityName string   `json:"community_name"`
	District      string   `json:"district"`
	Layout        string   `json:"layout"`
	Area          string   `json:"area"`
	Orientation   string   `json:"orientation"`
	Decoration    string   `json:"decoration"`
	Floor         string   `json:"floor"`
	BuildingInfo  string   `json:"building_info"`
	FollowInfo    string   `json:"follow_info"`
	Tags          []string `json:"tags"`
	TotalPrice    string   `json:"total_price"`
	UnitPrice     string   `json:"unit_price"`
	ListingID     string   `json:"listing_id"`
}

// NewRecord returns a record with every field at its "unknown" encoding.
func NewRecord() Record {
	return Record{
		Title:         Unknown,
		DetailLink:    Unknown,
		CommunityName: Unknown,
		District:      Unknown,
		Layout:        Unknown,
		Area:          Unknown,
		Orientation:   Unknown,
		Decoration:    Unknown,
		Floor:         Unknown,
		BuildingInfo:  Unknown,
		FollowInfo:    Unknown,
		Tags:          []string{},
		TotalPrice:    Unknown,
		UnitPrice:     Unknown,
	}
}

// BasicInfo returns the six positional fields parsed from the "|" delimited house info block.
func (r *Record) BasicInfo() []*string {
	return []*string{&r.Layout, &r.Area, &r.Orientation, &r.Decoration, &r.Floor, &r.BuildingInfo}
}

// Value returns the string rendering of the named column, or false when the column is not part of the schema.
func (r Record) Value(column string) (string, bool) {
	switch column {
	case ColumnTitle:
		return r.Title, true
	case ColumnDetailLink:
		return r.DetailLink, true
	case ColumnCommunity:
		return r.CommunityName, true
	case ColumnDistrict:
		return r.District, true
	case ColumnLayout:
		return r.Layout, true
	case ColumnArea:
		return r.Area, true
	case ColumnOrientation:
		return r.Orientation, true
	case ColumnDecoration:
		return r.Decoration, true
	case ColumnFloor:
		return r.Floor, true
	case ColumnBuildingInfo:
		return r.BuildingInfo, true
	case ColumnFollowInfo:
		return r.FollowInfo, true
	case ColumnTags:
		return strings.Join(r.Tags, TagSeparator), true
	case ColumnTotalPrice:
		return r.TotalPrice, true
	case ColumnUnitPrice:
		return r.UnitPrice, true
	case ColumnListingID:
		return r.ListingID, true
	default:
		return "", false
	}
}

// Values renders the record for the given column list. Unknown columns render as empty strings.
func (r Record) Values(columns []string) []string {
	out := make([]string, len(columns))
	for i, col := range columns {
		out[i], _ = r.Value(col)
	}
	return out
}
