package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perfline/internal/domain"
)

func TestCalculateTeamMetricsEmptyEmployees(t *testing.T) {
	tasks := []domain.Task{{ID: "1", AssignedTo: "u1", Status: domain.StatusCompleted}}
	got := CalculateTeamMetrics(nil, tasks, Range{})
	require.NotNil(t, got)
	assert.Empty(t, got)
}

func TestCalculateTeamMetricsSortedByProductivity(t *testing.T) {
	employees := []domain.User{
		{ID: "slow", Name: "Slow", Role: domain.RoleEmployee},
		{ID: "fast", Name: "Fast", Role: domain.RoleEmployee},
		{ID: "idle", Name: "Idle", Role: domain.RoleEmployee},
		{ID: "idle2", Name: "Idle Two", Role: domain.RoleEmployee},
	}
	tasks := []domain.Task{
		{ID: "1", AssignedTo: "fast", Status: domain.StatusCompleted, AssignedDate: "2024-01-01", DueDate: "2024-01-05", CompletedDate: "2024-01-02"},
		{ID: "2", AssignedTo: "slow", Status: domain.StatusBlocked, AssignedDate: "2024-01-01"},
		{ID: "3", AssignedTo: "slow", Status: domain.StatusCompleted, AssignedDate: "2024-01-01", CompletedDate: "2024-01-20"},
	}
	got := CalculateTeamMetrics(employees, tasks, Range{})
	require.Len(t, got, 4)
	assert.Equal(t, "fast", got[0].EmployeeID)
	assert.Equal(t, "Fast", got[0].Name)
	assert.Equal(t, 1, got[0].TotalTasks)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].ProductivityScore, got[i].ProductivityScore)
	}
	assert.Equal(t, "slow", got[1].EmployeeID)
	// equal scores keep input order
	assert.Equal(t, "idle", got[2].EmployeeID)
	assert.Equal(t, "idle2", got[3].EmployeeID)
	assert.Equal(t, GetPerformanceGrade(float64(got[0].ProductivityScore)), got[0].Grade)
}

func TestCalculateManagerRollups(t *testing.T) {
	users := []domain.User{
		{ID: "m1", Name: "Mia", Role: domain.RoleManager, Department: "eng"},
		{ID: "e1", Role: domain.RoleEmployee, ManagerID: "m1"},
		{ID: "e2", Role: domain.RoleEmployee, ManagerID: "m1"},
		{ID: "a1", Role: domain.RoleAdmin},
		{ID: "e3", Role: domain.RoleEmployee, ManagerID: "a1"},
		{ID: "m2", Role: domain.RoleManager},
	}
	tasks := []domain.Task{
		{ID: "1", AssignedTo: "e1", Status: domain.StatusCompleted},
		{ID: "2", AssignedTo: "e2", Status: domain.StatusInProgress},
		{ID: "3", AssignedTo: "m1", Status: domain.StatusBlocked},
		{ID: "4", AssignedTo: "e3", Status: domain.StatusCompleted},
	}
	got := CalculateManagerRollups(users, tasks, Range{})
	require.Len(t, got, 3)
	byID := map[string]ManagerRollup{}
	for _, r := range got {
		byID[r.ManagerID] = r
	}
	assert.Equal(t, 2, byID["m1"].TeamSize)
	assert.Equal(t, 2, byID["m1"].TotalTasks)
	assert.Equal(t, 50, byID["m1"].CompletionRate)
	assert.Equal(t, 1, byID["a1"].TeamSize)
	assert.Equal(t, 0, byID["m2"].TeamSize)
	assert.Equal(t, 0, byID["m2"].TotalTasks)
}
