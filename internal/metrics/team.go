package metrics

import (
	"sort"

	"perfline/internal/domain"
)

// EmployeeMetrics is a Result attributed to one employee.
type EmployeeMetrics struct {
	EmployeeID string      `json:"employee_id"`
	Name       string      `json:"name,omitempty"`
	Email      string      `json:"email,omitempty"`
	Role       domain.Role `json:"role,omitempty"`
	Department string      `json:"department,omitempty"`
	Grade      Grade       `json:"grade"`
	Result
}

// CalculateTeamMetrics computes a Result for each employee over the tasks assigned to them,
// ordered by productivity score, best first. Ties keep the input order.
func CalculateTeamMetrics(employees []domain.User, tasks []domain.Task, r Range) []EmployeeMetrics {
	byAssignee := tasksByAssignee(tasks)
	out := make([]EmployeeMetrics, 0, len(employees))
	for _, emp := range employees {
		res := CalculateAdvancedMetrics(byAssignee[emp.ID], r)
		out = append(out, EmployeeMetrics{
			EmployeeID: emp.ID,
			Name:       emp.Name,
			Email:      emp.Email,
			Role:       emp.Role,
			Department: emp.Department,
			Grade:      GetPerformanceGrade(float64(res.ProductivityScore)),
			Result:     res,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ProductivityScore > out[j].ProductivityScore
	})
	return out
}

// ManagerRollup aggregates the tasks of a manager's direct reports.
type ManagerRollup struct {
	ManagerID  string `json:"manager_id"`
	Name       string `json:"name,omitempty"`
	Department string `json:"department,omitempty"`
	TeamSize   int    `json:"team_size"`
	Grade      Grade  `json:"grade"`
	Result
}

// CalculateManagerRollups builds one rollup for every manager, plus any user referenced as a
// manager by someone else, ordered by team productivity, best first.
func CalculateManagerRollups(users []domain.User, tasks []domain.Task, r Range) []ManagerRollup {
	reports := make(map[string][]string)
	for _, u := range users {
		if u.ManagerID != "" && u.ManagerID != u.ID {
			reports[u.ManagerID] = append(reports[u.ManagerID], u.ID)
		}
	}
	byAssignee := tasksByAssignee(tasks)
	out := []ManagerRollup{}
	for _, u := range users {
		team, referenced := reports[u.ID]
		if u.Role != domain.RoleManager && !referenced {
			continue
		}
		var teamTasks []domain.Task
		for _, id := range team {
			teamTasks = append(teamTasks, byAssignee[id]...)
		}
		res := CalculateAdvancedMetrics(teamTasks, r)
		out = append(out, ManagerRollup{
			ManagerID:  u.ID,
			Name:       u.Name,
			Department: u.Department,
			TeamSize:   len(team),
			Grade:      GetPerformanceGrade(float64(res.ProductivityScore)),
			Result:     res,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ProductivityScore > out[j].ProductivityScore
	})
	return out
}

func tasksByAssignee(tasks []domain.Task) map[string][]domain.Task {
	out := make(map[string][]domain.Task)
	for _, t := range tasks {
		if t.AssignedTo == "" {
			continue
		}
		out[t.AssignedTo] = append(out[t.AssignedTo], t)
	}
	return out
}
