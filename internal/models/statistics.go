package models

// StatisticsOverview is GET /statistics/overview.
type StatisticsOverview struct {
	TotalTasks            int     `json:"total_tasks"`
	TotalStudents         int     `json:"total_students"`
	TotalSubmissions      int     `json:"total_submissions"`
	CompletedSubmissions  int     `json:"completed_submissions"`
	PendingSubmissions    int     `json:"pending_submissions"`
	OverallCompletionRate float64 `json:"overall_completion_rate"`
}

// TaskStatistic is one row of GET /statistics/tasks.
type TaskStatistic struct {
	TaskID           int       `json:"task_id"`
	TaskTitle        string    `json:"task_title"`
	TotalAssignments int       `json:"total_assignments"`
	Completed        int       `json:"completed"`
	Pending          int       `json:"pending"`
	CompletionRate   float64   `json:"completion_rate"`
	CreatedAt        Timestamp `json:"created_at"`
}

// StudentStatistic is one row of GET /statistics/students.
type StudentStatistic struct {
	StudentID      int     `json:"student_id"`
	StudentName    string  `json:"student_name"`
	StudentEmail   string  `json:"student_email"`
	TotalTasks     int     `json:"total_tasks"`
	CompletedTasks int     `json:"completed_tasks"`
	PendingTasks   int     `json:"pending_tasks"`
	CompletionRate float64 `json:"completion_rate"`
}

// StatisticsDashboard groups the three admin statistics views.
type StatisticsDashboard struct {
	Overview   *StatisticsOverview `json:"overview"`
	PerTask    []TaskStatistic     `json:"per_task"`
	PerStudent []StudentStatistic  `json:"per_student"`
}
