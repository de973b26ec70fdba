package crawl

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PageSlot is the placeholder replaced by the page number in a URL template.
const PageSlot = "{page}"

// Config is the value object that bounds one crawl run.
type Config struct {
	StartPage   int
	MaxPage     int
	URLTemplate string
	// DelayMin and DelayMax bound the politeness pause, both inclusive.
	DelayMin    time.Duration
	DelayMax    time.Duration
	ColumnOrder []string
	Destination string
}

// Validate checks the page range, template and delay interval.
func (c Config) Validate() error {
	var errs []error
	if c.StartPage < 1 {
		errs = append(errs, fmt.Errorf("start page must be >= 1, got %d", c.StartPage))
	}
	if c.MaxPage < c.StartPage {
		errs = append(errs, fmt.Errorf("max page %d is below start page %d", c.MaxPage, c.StartPage))
	}
	if !HasPageSlot(c.URLTemplate) {
		errs = append(errs, fmt.Errorf("url template %q has no page slot", c.URLTemplate))
	}
	if c.DelayMin < 0 || c.DelayMax < c.DelayMin {
		errs = append(errs, fmt.Errorf("invalid politeness delay range [%s, %s]", c.DelayMin, c.DelayMax))
	}
	return errors.Join(errs...)
}

// HasPageSlot reports whether template carries a {page} slot or a single %d verb.
func HasPageSlot(template string) bool {
	return strings.Contains(template, PageSlot) || strings.Count(template, "%d") == 1
}

// PageURL renders the template for page n.
func PageURL(template string, n int) string {
	if strings.Contains(template, PageSlot) {
		return strings.ReplaceAll(template, PageSlot, strconv.Itoa(n))
	}
	return fmt.Sprintf(template, n)
}
