package metrics

// Grade is the letter classification of a 0-100 score.
type Grade struct {
	Grade string `json:"grade"`
	Color string `json:"color"`
	Label string `json:"label"`
}

var gradeBands = []struct {
	min   float64
	grade Grade
}{
	{90, Grade{Grade: "A+", Color: "emerald", Label: "Exceptional"}},
	{80, Grade{Grade: "A", Color: "green", Label: "Excellent"}},
	{70, Grade{Grade: "B", Color: "blue", Label: "Good"}},
	{60, Grade{Grade: "C", Color: "yellow", Label: "Satisfactory"}},
	{50, Grade{Grade: "D", Color: "orange", Label: "Needs Improvement"}},
}

var gradeF = Grade{Grade: "F", Color: "red", Label: "Poor"}

// GetPerformanceGrade maps a score to its grade. Lower bounds are inclusive; anything below
// 50, including NaN, is an F.
func GetPerformanceGrade(score float64) Grade {
	for _, band := range gradeBands {
		if score >= band.min {
			return band.grade
		}
	}
	return gradeF
}
