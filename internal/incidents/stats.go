package incidents

import "sort"

type AverageTimes struct {
	ResponseSeconds   float64 `json:"response_time_seconds"`
	ResponseMinutes   float64 `json:"response_time_minutes"`
	ResolutionSeconds float64 `json:"resolution_time_seconds"`
	ResolutionMinutes float64 `json:"resolution_time_minutes"`
	TotalSeconds      float64 `json:"total_time_seconds"`
	TotalMinutes      float64 `json:"total_time_minutes"`
}

type ResolverPerformance struct {
	EmployeeID           string   `json:"employee_id"`
	Name                 string   `json:"name"`
	IncidentsHandled     int      `json:"incidents_handled"`
	AvgResponseSeconds   *float64 `json:"avg_response_seconds"`
	AvgResolutionSeconds *float64 `json:"avg_resolution_seconds"`
}

type Stats struct {
	AverageTimes        AverageTimes          `json:"average_times"`
	SeverityCounts      map[Severity]int      `json:"severity_counts"`
	StatusCounts        map[Status]int        `json:"status_counts"`
	ResolverPerformance []ResolverPerformance `json:"employee_performance"`
}

// NewAverageTimes fills minutes from seconds; a missing average reads as zero.
func NewAverageTimes(response, resolution, total *float64) AverageTimes {
	var a AverageTimes
	if response != nil {
		a.ResponseSeconds = *response
		a.ResponseMinutes = *response / 60
	}
	if resolution != nil {
		a.ResolutionSeconds = *resolution
		a.ResolutionMinutes = *resolution / 60
	}
	if total != nil {
		a.TotalSeconds = *total
		a.TotalMinutes = *total / 60
	}
	return a
}

// SortResolvers orders by ascending average response time, unmeasured last.
func SortResolvers(rs []ResolverPerformance) {
	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i].AvgResponseSeconds, rs[j].AvgResponseSeconds
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a < *b
		}
	})
}

type mean struct {
	sum float64
	n   int
}

func (m *mean) add(d Duration) {
	if d.Valid() {
		m.sum += d.Seconds
		m.n++
	}
}

func (m mean) value() *float64 {
	if m.n == 0 {
		return nil
	}
	v := m.sum / float64(m.n)
	return &v
}

// Aggregate computes Stats over a set of incidents in memory.
func Aggregate(incs []Incident) *Stats {
	stats := &Stats{
		SeverityCounts:      map[Severity]int{},
		StatusCounts:        map[Status]int{},
		ResolverPerformance: []ResolverPerformance{},
	}
	var response, resolution, total mean
	type resolverAcc struct {
		perf       ResolverPerformance
		response   mean
		resolution mean
	}
	byResolver := map[string]*resolverAcc{}
	var order []string
	for i := range incs {
		inc := &incs[i]
		stats.SeverityCounts[inc.Severity]++
		stats.StatusCounts[inc.Status]++
		if inc.Status != StatusResolved {
			continue
		}
		response.add(inc.Elapsed.Response)
		resolution.add(inc.Elapsed.Resolution)
		total.add(inc.Elapsed.Total)
		if inc.ResolvedBy == nil || inc.ResolvedBy.EmployeeID == nil {
			continue
		}
		key := *inc.ResolvedBy.EmployeeID
		acc, ok := byResolver[key]
		if !ok {
			acc = &resolverAcc{perf: ResolverPerformance{EmployeeID: key, Name: inc.ResolvedBy.Name}}
			byResolver[key] = acc
			order = append(order, key)
		}
		acc.perf.IncidentsHandled++
		acc.response.add(inc.Elapsed.Response)
		acc.resolution.add(inc.Elapsed.Resolution)
	}
	stats.AverageTimes = NewAverageTimes(response.value(), resolution.value(), total.value())
	for _, key := range order {
		acc := byResolver[key]
		acc.perf.AvgResponseSeconds = acc.response.value()
		acc.perf.AvgResolutionSeconds = acc.resolution.value()
		stats.ResolverPerformance = append(stats.ResolverPerformance, acc.perf)
	}
	SortResolvers(stats.ResolverPerformance)
	return stats
}
