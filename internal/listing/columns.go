package listing

// Column names used by row-oriented sinks.
const (
	ColumnTitle        = "title"
	ColumnDetailLink   = "detail_link"
	ColumnCommunity    = "community_name"
	ColumnDistrict     = "district"
	ColumnLayout       = "layout"
	ColumnArea         = "area"
	ColumnOrientation  = "orientation"
	ColumnDecoration   = "decoration"
	ColumnFloor        = "floor"
	ColumnBuildingInfo = "building_info"
	ColumnFollowInfo   = "follow_info"
	ColumnTags         = "tags"
	ColumnTotalPrice   = "total_price"
	ColumnUnitPrice    = "unit_price"
	ColumnListingID    = "listing_id"
)

var naturalColumns = []string{
	ColumnTitle,
	ColumnDetailLink,
	ColumnCommunity,
	ColumnDistrict,
	ColumnLayout,
	ColumnArea,
	ColumnOrientation,
	ColumnDecoration,
	ColumnFloor,
	ColumnBuildingInfo,
	ColumnFollowInfo,
	ColumnTags,
	ColumnTotalPrice,
	ColumnUnitPrice,
	ColumnListingID,
}

// DefaultColumnOrder puts the fields people scan first at the front of the output.
var DefaultColumnOrder = []string{
	ColumnTitle,
	ColumnCommunity,
	ColumnDistrict,
	ColumnTotalPrice,
	ColumnUnitPrice,
	ColumnLayout,
	ColumnArea,
	ColumnOrientation,
	ColumnDecoration,
	ColumnFloor,
	ColumnBuildingInfo,
	ColumnFollowInfo,
	ColumnTags,
	ColumnListingID,
	ColumnDetailLink,
}

// Columns returns the schema fields in their natural (declaration) order.
func Columns() []string {
	return append([]string(nil), naturalColumns...)
}

// OrderColumns lists the preferred columns that exist in the schema, followed by
// every remaining schema column in natural order. Duplicates and unknown names are dropped.
func OrderColumns(preferred []string) []string {
	known := make(map[string]struct{}, len(naturalColumns))
	for _, col := range naturalColumns {
		known[col] = struct{}{}
	}
	out := make([]string, 0, len(naturalColumns))
	seen := make(map[string]struct{}, len(naturalColumns))
	for _, col := range preferred {
		if _, ok := known[col]; !ok {
			continue
		}
		if _, dup := seen[col]; dup {
			continue
		}
		seen[col] = struct{}{}
		out = append(out, col)
	}
	for _, col := range naturalColumns {
		if _, ok := seen[col]; ok {
			continue
		}
		out = append(out, col)
	}
	return out
}
