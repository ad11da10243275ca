package devserver

import (
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/ersozo/re-dashboard/internal/protocol"
)

type mockModel struct {
	name   string
	target float64 // parts per hour; 0 means no target
	share  float64 // fraction of the unit's output
}

var mockModels = []mockModel{
	{name: "KX-100", target: 120, share: 0.5},
	{name: "KX-220", target: 80, share: 0.3},
	{name: "PROTO-7", target: 0, share: 0.2},
}

// Generator fabricates production figures. Totals grow with the covered time
// so successive pushes look like a running line; jitter keeps them moving.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

func NewGenerator(seed int64) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed)), now: time.Now}
}

// unitRate is a stable per-unit output rate in parts per hour.
func unitRate(unit string) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(unit))
	return 150 + float64(h.Sum32()%150)
}

// coveredHours is the elapsed part of the range, capped at now.
func (g *Generator) coveredHours(r protocol.TimeRange) float64 {
	end := r.End
	if now := g.now(); now.Before(end) {
		end = now
	}
	return math.Max(end.Sub(r.Start).Hours(), 0)
}

func (g *Generator) jitter(spread float64) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return 1 - spread + g.rng.Float64()*2*spread
}

func ptr(f float64) *float64 { return &f }

// models builds per-model stats for hours of production.
func (g *Generator) models(unit string, hours float64) []protocol.ModelStats {
	rate := unitRate(unit)
	out := make([]protocol.ModelStats, 0, len(mockModels))
	for _, m := range mockModels {
		total := int(rate * hours * m.share * g.jitter(0.05))
		fail := int(float64(total) * 0.03 * g.jitter(0.5))
		success := total - fail

		st := protocol.ModelStats{
			Model:      m.name,
			SuccessQty: success,
			FailQty:    fail,
			TotalQty:   total,
		}
		if total > 0 {
			st.Quality = float64(success) / float64(total)
		}
		if m.target > 0 {
			st.Target = ptr(m.target)
			st.TheoreticalQty = m.target * hours
			if st.TheoreticalQty > 0 {
				perf := float64(total) / st.TheoreticalQty
				st.Performance = ptr(perf)
				st.OEE = ptr(perf * st.Quality)
			}
		}
		out = append(out, st)
	}
	return out
}

func summarize(models []protocol.ModelStats) protocol.Summary {
	var s protocol.Summary
	var theoretical float64
	var targetedQty int
	for _, m := range models {
		s.TotalSuccess += m.SuccessQty
		s.TotalFail += m.FailQty
		s.TotalQty += m.TotalQty
		if m.Performance != nil {
			s.UnitPerformanceSum += *m.Performance
			theoretical += m.TheoreticalQty
			targetedQty += m.TotalQty
		}
	}
	if processed := s.TotalSuccess + s.TotalFail; processed > 0 {
		s.TotalQuality = float64(s.TotalSuccess) / float64(processed)
	}
	if theoretical > 0 {
		s.TotalPerformance = float64(targetedQty) / theoretical
	}
	return s
}

// Standard builds the per-model payload for one unit.
func (g *Generator) Standard(unit string, r protocol.TimeRange) protocol.StandardPayload {
	models := g.models(unit, g.coveredHours(r))
	return protocol.StandardPayload{
		UnitName: unit,
		Models:   models,
		Summary:  summarize(models),
	}
}

// Hourly builds hour buckets from the range start up to now or the range end.
func (g *Generator) Hourly(unit string, r protocol.TimeRange) protocol.HourlyPayload {
	p := protocol.HourlyPayload{UnitName: unit}
	rate := unitRate(unit)
	limit := r.End
	if now := g.now(); now.Before(limit) {
		limit = now
	}

	for start := r.Start; start.Before(limit); start = start.Add(time.Hour) {
		end := start.Add(time.Hour)
		if end.After(limit) {
			end = limit
		}
		hours := end.Sub(start).Hours()
		total := int(rate * hours * g.jitter(0.1))
		fail := int(float64(total) * 0.03 * g.jitter(0.5))
		theoretical := rate * hours

		b := protocol.HourBucket{
			HourStart:      protocol.FormatTime(start),
			HourEnd:        protocol.FormatTime(end),
			SuccessQty:     total - fail,
			FailQty:        fail,
			TotalQty:       total,
			TheoreticalQty: theoretical,
		}
		if total > 0 {
			b.Quality = float64(b.SuccessQty) / float64(total)
		}
		if theoretical > 0 {
			b.Performance = float64(total) / theoretical
		}
		b.OEE = b.Quality * b.Performance
		p.HourlyData = append(p.HourlyData, b)

		p.TotalSuccess += b.SuccessQty
		p.TotalFail += b.FailQty
		p.TotalQty += b.TotalQty
		p.TotalTheoreticalQty += theoretical
	}

	if p.TotalQty > 0 {
		p.TotalQuality = float64(p.TotalSuccess) / float64(p.TotalQty)
	}
	if p.TotalTheoreticalQty > 0 {
		p.TotalPerformance = float64(p.TotalQty) / p.TotalTheoreticalQty
	}
	p.TotalOEE = p.TotalQuality * p.TotalPerformance
	return p
}

// Report builds the batch report with quantity-weighted quality and
// success-weighted performance across units.
func (g *Generator) Report(units []string, r protocol.TimeRange) (map[string]protocol.ReportUnit, protocol.ReportSummary) {
	hours := g.coveredHours(r)
	out := make(map[string]protocol.ReportUnit, len(units))
	var sum protocol.ReportSummary
	var qualityWeighted, perfWeighted float64
	var successWeight int

	for _, unit := range units {
		models := g.models(unit, hours)
		s := summarize(models)
		u := protocol.ReportUnit{
			TotalSuccess:   s.TotalSuccess,
			TotalFail:      s.TotalFail,
			TotalQty:       s.TotalSuccess + s.TotalFail,
			PerformanceSum: s.UnitPerformanceSum,
			Models:         models,
		}
		if u.TotalQty > 0 {
			u.Quality = float64(u.TotalSuccess) / float64(u.TotalQty)
			qualityWeighted += u.Quality * float64(u.TotalQty)
		}
		if u.TotalSuccess > 0 {
			perfWeighted += u.PerformanceSum * float64(u.TotalSuccess)
			successWeight += u.TotalSuccess
		}
		out[unit] = u

		sum.TotalSuccess += u.TotalSuccess
		sum.TotalFail += u.TotalFail
		sum.TotalProduction += u.TotalQty
	}

	if sum.TotalProduction > 0 {
		sum.WeightedQuality = qualityWeighted / float64(sum.TotalProduction)
	}
	if successWeight > 0 {
		sum.WeightedPerformance = perfWeighted / float64(successWeight)
	}
	return out, sum
}
