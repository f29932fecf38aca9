package logquery

import (
	"flag"
	"net/url"
	"strconv"
)

// BindFlags registers the filter on fs. Call the returned function after
// fs.Parse to obtain the validated Filter.
func BindFlags(fs *flag.FlagSet) func() (Filter, error) {
	severity := fs.String("severity", "", "severity filter (debug|info|warn|error)")
	query := fs.String("q", "", "message substring")
	from := fs.String("from", "", "inclusive start (RFC3339)")
	to := fs.String("to", "", "inclusive end (RFC3339)")
	window := fs.String("window", "", "shortcut window (15m|1h|today)")
	before := fs.Int64("before-id", 0, "return entries strictly older than this id")
	limit := fs.Int("limit", PageSize, "page size")

	return func() (Filter, error) {
		v := url.Values{}
		set := func(key, val string) {
			if val != "" {
				v.Set(key, val)
			}
		}
		set("severity", *severity)
		set("q", *query)
		set("from", *from)
		set("to", *to)
		set("window", *window)
		if *before != 0 {
			v.Set("before_id", strconv.FormatInt(*before, 10))
		}
		v.Set("limit", strconv.Itoa(*limit))
		return ParseFilter(v)
	}
}
