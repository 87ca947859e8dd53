package metrics

import (
	"strings"

	"perfline/internal/domain"
)

// UnassignedKey labels the group of tasks that carry no value for the grouping dimension.
const UnassignedKey = "unassigned"

// GroupMetrics summarises the tasks sharing one project, vertical or department.
type GroupMetrics struct {
	Key            string `json:"key"`
	Unassigned     bool   `json:"unassigned"`
	Total          int    `json:"total"`
	Completed      int    `json:"completed"`
	InProgress     int    `json:"in_progress"`
	NotStarted     int    `json:"not_started"`
	Blocked        int    `json:"blocked"`
	Overdue        int    `json:"overdue"`
	CompletionRate int    `json:"completion_rate"`
}

type groupKey struct {
	name       string
	unassigned bool
}

// CalculateProjectMetrics groups tasks by project in first-seen order.
func CalculateProjectMetrics(tasks []domain.Task) []GroupMetrics {
	return groupBy(tasks, func(t domain.Task) string { return t.Project })
}

// CalculateVerticalMetrics groups tasks by vertical in first-seen order.
func CalculateVerticalMetrics(tasks []domain.Task) []GroupMetrics {
	return groupBy(tasks, func(t domain.Task) string { return t.Vertical })
}

// CalculateDepartmentMetrics groups tasks by department. A task without its own department
// inherits the department of its assignee.
func CalculateDepartmentMetrics(tasks []domain.Task, users []domain.User) []GroupMetrics {
	departments := make(map[string]string, len(users))
	for _, u := range users {
		departments[u.ID] = u.Department
	}
	return groupBy(tasks, func(t domain.Task) string {
		if strings.TrimSpace(t.Department) != "" {
			return t.Department
		}
		return departments[t.AssignedTo]
	})
}

func groupBy(tasks []domain.Task, keyOf func(domain.Task) string) []GroupMetrics {
	groups := []GroupMetrics{}
	index := map[groupKey]int{}
	for _, t := range tasks {
		name := strings.TrimSpace(keyOf(t))
		key := groupKey{name: name, unassigned: name == ""}
		i, ok := index[key]
		if !ok {
			g := GroupMetrics{Key: name, Unassigned: key.unassigned}
			if key.unassigned {
				g.Key = UnassignedKey
			}
			groups = append(groups, g)
			i = len(groups) - 1
			index[key] = i
		}
		g := &groups[i]
		g.Total++
		switch t.Status {
		case domain.StatusCompleted:
			g.Completed++
		case domain.StatusInProgress:
			g.InProgress++
		case domain.StatusNotStarted:
			g.NotStarted++
		case domain.StatusBlocked:
			g.Blocked++
		case domain.StatusOverdue:
			g.Overdue++
		}
	}
	for i := range groups {
		groups[i].CompletionRate = percent(groups[i].Completed, groups[i].Total)
	}
	return groups
}
