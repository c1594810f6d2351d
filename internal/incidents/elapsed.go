package incidents

import (
	"encoding/json"
	"time"
)

type DurationState string

const (
	DurationPending       DurationState = "pending"
	DurationMeasured      DurationState = "measured"
	DurationNotApplicable DurationState = "not_applicable"
	DurationSkewed        DurationState = "skewed"
)

// Duration is an elapsed-time statistic in seconds with an explicit state.
type Duration struct {
	Seconds float64
	State   DurationState
}

func (d Duration) Valid() bool {
	return d.State == DurationMeasured
}

// Ptr returns the seconds for persistence; anything but a measured value is stored as NULL.
func (d Duration) Ptr() *float64 {
	if !d.Valid() {
		return nil
	}
	v := d.Seconds
	return &v
}

func (d Duration) MarshalJSON() ([]byte, error) {
	switch d.State {
	case DurationMeasured:
		return json.Marshal(d.Seconds)
	case DurationPending, "":
		return []byte("null"), nil
	default:
		return json.Marshal(string(d.State))
	}
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = Duration{State: DurationPending}
		return nil
	}
	var state string
	if err := json.Unmarshal(data, &state); err == nil {
		*d = Duration{State: DurationState(state)}
		return nil
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return err
	}
	*d = Duration{Seconds: secs, State: DurationMeasured}
	return nil
}

type Elapsed struct {
	Response   Duration `json:"response_time_seconds"`
	Resolution Duration `json:"resolution_time_seconds"`
	Total      Duration `json:"total_time_seconds"`
}

// Skewed lists the metrics whose timestamps run backwards.
func (e Elapsed) Skewed() []string {
	var out []string
	if e.Response.State == DurationSkewed {
		out = append(out, "response")
	}
	if e.Resolution.State == DurationSkewed {
		out = append(out, "resolution")
	}
	if e.Total.State == DurationSkewed {
		out = append(out, "total")
	}
	return out
}

// CalculateElapsed derives the elapsed-time statistics from an incident's timestamps.
//
//	response   = acknowledged - created
//	resolution = resolved - acknowledged (not applicable if resolved unacknowledged)
//	total      = resolved - created
func CalculateElapsed(inc *Incident) Elapsed {
	var e Elapsed
	created := &inc.CreatedAt
	if inc.CreatedAt.IsZero() {
		created = nil
	}
	e.Response = between(created, inc.AcknowledgedAt)
	e.Total = between(created, inc.ResolvedAt)
	switch {
	case inc.ResolvedAt != nil && inc.AcknowledgedAt == nil:
		e.Resolution = Duration{State: DurationNotApplicable}
	default:
		e.Resolution = between(inc.AcknowledgedAt, inc.ResolvedAt)
	}
	return e
}

func between(from, to *time.Time) Duration {
	if from == nil || to == nil {
		return Duration{State: DurationPending}
	}
	secs := to.Sub(*from).Seconds()
	if secs < 0 {
		return Duration{Seconds: secs, State: DurationSkewed}
	}
	return Duration{Seconds: secs, State: DurationMeasured}
}
