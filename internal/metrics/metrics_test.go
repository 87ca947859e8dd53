package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perfline/internal/domain"
)

func rating(v float64) *float64 { return &v }

func day(s string) time.Time {
	ts, err := domain.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return ts
}

func TestCalculateAdvancedMetricsSingleOnTimeTask(t *testing.T) {
	tasks := []domain.Task{{
		ID:            "t1",
		Status:        domain.StatusCompleted,
		AssignedDate:  "2024-01-01",
		DueDate:       "2024-01-10",
		CompletedDate: "2024-01-09",
	}}
	res := CalculateAdvancedMetrics(tasks, Range{})
	assert.Equal(t, 1, res.TotalTasks)
	assert.Equal(t, 100, res.CompletionRate)
	assert.Equal(t, 100, res.OnTimeRate)
	assert.Equal(t, 1, res.OnTimeCompletions)
	assert.Equal(t, 8, res.AverageCompletionTime)
	// 0.4*100 + 0.3*100 + 0.2*(100-16) + 0.1*100
	assert.Equal(t, 97, res.ProductivityScore)
	assert.False(t, res.HasQualityData)
	assert.Equal(t, 100, res.WorkloadScore)
}

func TestCalculateAdvancedMetricsEmpty(t *testing.T) {
	res := CalculateAdvancedMetrics(nil, Range{})
	assert.Zero(t, res.CompletionRate)
	assert.Zero(t, res.OnTimeRate)
	assert.Zero(t, res.AverageCompletionTime)
	assert.Equal(t, 100, res.WorkloadScore)
	// speed and unblocked terms still contribute when nothing is measured
	assert.Equal(t, 30, res.ProductivityScore)
}

func TestCalculateAdvancedMetricsQualityScore(t *testing.T) {
	var tasks []domain.Task
	for i, r := range []float64{5, 5, 5, 4, 4, 3} {
		tasks = append(tasks, domain.Task{
			ID:            string(rune('a' + i)),
			Status:        domain.StatusCompleted,
			CreatedAt:     "2024-02-01",
			CompletedDate: "2024-02-03",
			Rating:        rating(r),
		})
	}
	for i := 0; i < 6; i++ {
		tasks = append(tasks, domain.Task{ID: string(rune('m' + i)), Status: domain.StatusInProgress, CreatedAt: "2024-02-01"})
	}
	res := CalculateAdvancedMetrics(tasks, Range{})
	assert.Equal(t, 12, res.TotalTasks)
	assert.Equal(t, 6, res.TasksWithRatings)
	assert.Equal(t, 87, res.QualityScore)
	assert.True(t, res.HasQualityData)
	assert.Equal(t, 50, res.CompletionRate)
	assert.Equal(t, 90, res.WorkloadScore)
}

func TestCalculateAdvancedMetricsZeroRatingIsNoData(t *testing.T) {
	tasks := []domain.Task{{ID: "t1", Status: domain.StatusCompleted, Rating: rating(0)}}
	res := CalculateAdvancedMetrics(tasks, Range{})
	assert.Zero(t, res.TasksWithRatings)
	assert.False(t, res.HasQualityData)
}

func TestCalculateAdvancedMetricsLateAndBlocked(t *testing.T) {
	tasks := []domain.Task{
		{ID: "t1", Status: domain.StatusCompleted, AssignedDate: "2024-01-01", DueDate: "2024-01-02", CompletedDate: "2024-01-05T10:00:00Z"},
		{ID: "t2", Status: domain.StatusBlocked, AssignedDate: "2024-01-01"},
		{ID: "t3", Status: domain.StatusOverdue, AssignedDate: "2024-01-01"},
		{ID: "t4", Status: domain.StatusNotStarted, AssignedDate: "2024-01-01"},
	}
	res := CalculateAdvancedMetrics(tasks, Range{})
	assert.Equal(t, 25, res.CompletionRate)
	assert.Equal(t, 0, res.OnTimeRate)
	// 4 days and 10 hours rounds up to 5
	assert.Equal(t, 5, res.AverageCompletionTime)
	assert.Equal(t, 1, res.BlockedTasks)
	assert.Equal(t, 1, res.OverdueTasks)
	assert.Equal(t, 1, res.NotStartedTasks)
	// 0.4*25 + 0 + 0.2*90 + 0.1*75 = 35.5
	assert.Equal(t, 36, res.ProductivityScore)
}

func TestCalculateAdvancedMetricsIgnoresCompletionBeforeStart(t *testing.T) {
	tasks := []domain.Task{{ID: "t1", Status: domain.StatusCompleted, AssignedDate: "2024-01-10", CompletedDate: "2024-01-01"}}
	res := CalculateAdvancedMetrics(tasks, Range{})
	assert.Zero(t, res.AverageCompletionTime)
}

func TestWorkloadScore(t *testing.T) {
	assert.Equal(t, 100, workloadScore(0))
	assert.Equal(t, 100, workloadScore(3))
	assert.Equal(t, 100, workloadScore(10))
	assert.Equal(t, 75, workloadScore(15))
	assert.Equal(t, 0, workloadScore(30))
	assert.Equal(t, 0, workloadScore(300))
}

func TestFilterByRangeInclusive(t *testing.T) {
	tasks := []domain.Task{
		{ID: "before", Status: domain.StatusCompleted, AssignedDate: "2023-12-31"},
		{ID: "start", Status: domain.StatusCompleted, AssignedDate: "2024-01-01"},
		{ID: "mid", Status: domain.StatusCompleted, CreatedAt: "2024-01-15"},
		{ID: "end", Status: domain.StatusCompleted, AssignedDate: "2024-01-31"},
		{ID: "after", Status: domain.StatusCompleted, AssignedDate: "2024-02-01"},
		{ID: "undated", Status: domain.StatusCompleted},
	}
	r := Range{Start: day("2024-01-01"), End: day("2024-01-31")}
	got := FilterByRange(tasks, r)
	var ids []string
	for _, task := range got {
		ids = append(ids, task.ID)
	}
	assert.Equal(t, []string{"start", "mid", "end"}, ids)
	assert.Len(t, FilterByRange(tasks, Range{}), len(tasks))
}

func TestFilterByRangeIdempotent(t *testing.T) {
	tasks := []domain.Task{
		{ID: "a", Status: domain.StatusCompleted, AssignedDate: "2024-03-01", CompletedDate: "2024-03-04", DueDate: "2024-03-05"},
		{ID: "b", Status: domain.StatusInProgress, AssignedDate: "2024-03-10"},
		{ID: "c", Status: domain.StatusBlocked, AssignedDate: "2024-04-02"},
		{ID: "d", Status: domain.StatusCompleted, CreatedAt: "2024-02-27", CompletedDate: "2024-03-02"},
	}
	r := Range{Start: day("2024-03-01"), End: day("2024-03-31")}
	bounded := CalculateAdvancedMetrics(tasks, r)
	prefiltered := CalculateAdvancedMetrics(FilterByRange(tasks, r), Range{})
	twice := CalculateAdvancedMetrics(FilterByRange(FilterByRange(tasks, r), r), r)
	assert.Equal(t, bounded, prefiltered)
	assert.Equal(t, bounded, twice)
	assert.Equal(t, 2, bounded.TotalTasks)
}

func TestCompletionRateMatchesDefinition(t *testing.T) {
	statuses := domain.Statuses()
	for total := 1; total <= 15; total++ {
		var tasks []domain.Task
		completed := 0
		for i := 0; i < total; i++ {
			s := statuses[(i*7+total)%len(statuses)]
			if s == domain.StatusCompleted {
				completed++
			}
			tasks = append(tasks, domain.Task{ID: "t", Status: s})
		}
		res := CalculateAdvancedMetrics(tasks, Range{})
		require.GreaterOrEqual(t, res.CompletionRate, 0)
		require.LessOrEqual(t, res.CompletionRate, 100)
		require.Equal(t, round(float64(completed)/float64(total)*100), res.CompletionRate)
		if res.CompletedTasks == 0 {
			require.Zero(t, res.OnTimeRate)
		}
	}
}
