package fetcher

import "fmt"

// TransientFetchError reports an automation failure while acquiring one page.
// The crawl skips the page and continues.
type TransientFetchError struct {
	URL   string
	State State
	Err   error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("fetch %s failed while %s: %v", e.URL, e.State, e.Err)
}

func (e *TransientFetchError) Unwrap() error {
	return e.Err
}
