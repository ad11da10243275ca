package devserver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ersozo/re-dashboard/internal/protocol"
)

func fixedGenerator(now time.Time) *Generator {
	g := NewGenerator(1)
	g.now = func() time.Time { return now }
	return g
}

var shift = protocol.TimeRange{
	Start: time.Date(2025, 3, 1, 5, 0, 0, 0, time.UTC),
	End:   time.Date(2025, 3, 1, 13, 0, 0, 0, time.UTC),
}

func TestStandardTotalsMatchModels(t *testing.T) {
	g := fixedGenerator(shift.End)
	p := g.Standard("Line 1", shift)

	assert.Equal(t, "Line 1", p.UnitName)
	require.Len(t, p.Models, len(mockModels))

	var success, fail int
	for _, m := range p.Models {
		success += m.SuccessQty
		fail += m.FailQty
		assert.Equal(t, m.SuccessQty+m.FailQty, m.TotalQty)
		assert.InDelta(t, 0.5, m.Quality, 0.5)
	}
	assert.Equal(t, success, p.Summary.TotalSuccess)
	assert.Equal(t, fail, p.Summary.TotalFail)
	assert.Positive(t, p.Summary.TotalQty)

	// The untargeted model contributes no performance.
	assert.Nil(t, p.Models[2].Performance)
	assert.NotNil(t, p.Models[0].Performance)
}

func TestStandardBeforeRangeStartIsEmpty(t *testing.T) {
	g := fixedGenerator(shift.Start.Add(-time.Hour))
	p := g.Standard("Line 1", shift)
	assert.Zero(t, p.Summary.TotalQty)
	assert.Zero(t, p.Summary.TotalQuality)
}

func TestHourlyStopsAtNow(t *testing.T) {
	g := fixedGenerator(time.Date(2025, 3, 1, 8, 30, 0, 0, time.UTC))
	p := g.Hourly("Line 2", shift)

	require.Len(t, p.HourlyData, 4)
	assert.Equal(t, "2025-03-01T05:00:00.000Z", p.HourlyData[0].HourStart)
	assert.Equal(t, "2025-03-01T08:30:00.000Z", p.HourlyData[3].HourEnd)

	var total int
	for _, b := range p.HourlyData {
		total += b.TotalQty
	}
	assert.Equal(t, total, p.TotalQty)
	assert.InDelta(t, p.TotalQuality*p.TotalPerformance, p.TotalOEE, 1e-9)
}

func TestReportWeights(t *testing.T) {
	g := fixedGenerator(shift.End)
	units, sum := g.Report([]string{"Line 1", "Line 2"}, shift)

	require.Len(t, units, 2)
	assert.Equal(t, units["Line 1"].TotalQty+units["Line 2"].TotalQty, sum.TotalProduction)
	assert.Equal(t, sum.TotalSuccess+sum.TotalFail, sum.TotalProduction)
	assert.Greater(t, sum.WeightedQuality, 0.0)
	assert.LessOrEqual(t, sum.WeightedQuality, 1.0)
}
