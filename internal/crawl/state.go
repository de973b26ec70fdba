package crawl

import "github.com/JakeFAU/ershoufang-crawler/internal/listing"

// Reason explains why a run stopped.
type Reason string

// Termination reasons.
const (
	ReasonCompleted   Reason = "completed"
	ReasonEmptyPage   Reason = "empty_page"
	ReasonInterrupted Reason = "interrupted"
)

// State is the progress of a run. Records are kept in page then in-page order.
type State struct {
	CurrentPage int
	StartPage   int
	MaxPage     int
	Records     []listing.Record
	Terminated  bool
	Reason      Reason
}

// Result is what Run reports once the session has been released.
type Result struct {
	RunID string
	State State

	PagesFetched int
	PagesFailed  int
	Challenges   int
	// Flushed is false when nothing was collected and the sink was skipped.
	Flushed bool
	Summary listing.Summary
}
