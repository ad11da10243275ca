package protocol

import (
	"fmt"
	"net/url"
	"strings"
)

// Pull endpoints that do not depend on a unit.
const (
	UnitsPath  = "/units"
	ReportPath = "/report-data"
)

// StreamPath returns the live stream path for one unit.
func StreamPath(view ViewKind, unit string) (string, error) {
	switch view {
	case ViewStandard:
		return "/ws/" + url.PathEscape(unit), nil
	case ViewHourly:
		return "/ws/hourly/" + url.PathEscape(unit), nil
	}
	return "", fmt.Errorf("protocol: no stream for view %q", view)
}

// HistoryPath returns the one-shot pull path for one unit. Report views are
// pulled in a single batch from ReportPath instead.
func HistoryPath(view ViewKind, unit string) (string, error) {
	switch view {
	case ViewStandard:
		return "/historical-data/" + url.PathEscape(unit), nil
	case ViewHourly:
		return "/historical-hourly-data/" + url.PathEscape(unit), nil
	}
	return "", fmt.Errorf("protocol: no per-unit history for view %q", view)
}

// RangeQuery encodes the time range and working mode as pull parameters.
func RangeQuery(r TimeRange, wm WorkingMode) url.Values {
	q := url.Values{}
	q.Set("start_time", FormatTime(r.Start))
	q.Set("end_time", FormatTime(r.End))
	q.Set("working_mode", string(wm.Normalize()))
	return q
}

// ReportQuery extends RangeQuery with the comma-separated unit list.
func ReportQuery(units []string, r TimeRange, wm WorkingMode) url.Values {
	q := RangeQuery(r, wm)
	q.Set("units", strings.Join(units, ","))
	return q
}

// WebSocketURL converts an http(s) base URL to ws(s) and appends path. URLs
// that already use ws or wss are left unchanged.
func WebSocketURL(base, path string) string {
	u := strings.TrimRight(base, "/") + path

	if strings.HasPrefix(u, "https://") {
		return "wss://" + u[len("https://"):]
	}
	if strings.HasPrefix(u, "http://") {
		return "ws://" + u[len("http://"):]
	}
	return u
}
