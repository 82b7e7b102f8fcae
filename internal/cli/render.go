package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/noah-isme/robotask-client/internal/models"
	"github.com/noah-isme/robotask-client/internal/service"
)

func (c *CLI) table() *tabwriter.Writer {
	return tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
}

func (c *CLI) renderView(view service.View) {
	switch v := view.(type) {
	case service.StudentDashboardView:
		fmt.Fprintln(c.out, v.Greeting)
		fmt.Fprintln(c.out)
		c.renderSubmissions(v.Submissions, v.Progress)
	case service.AdminDashboardView:
		fmt.Fprintln(c.out, v.Greeting)
		fmt.Fprintln(c.out)
		c.renderTasks(v.Tasks)
		fmt.Fprintln(c.out)
		c.renderDashboard(&models.StatisticsDashboard{Overview: v.Overview, PerTask: v.PerTask, PerStudent: v.PerStudent})
	default:
		fmt.Fprintln(c.out, notSignedIn)
	}
}

func (c *CLI) renderSubmissions(submissions []models.Submission, progress models.Progress) {
	if len(submissions) == 0 {
		fmt.Fprintln(c.out, "No tasks assigned.")
		return
	}
	w := c.table()
	fmt.Fprintln(w, "\tID\tTITLE\tDUE\tCOMPLETED")
	for _, s := range submissions {
		mark := "[ ]"
		completed := "-"
		if s.Completed {
			mark = "[x]"
			if s.CompletedAt != nil {
				completed = c.relative(s.CompletedAt.Time)
			}
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", mark, s.TaskID(), s.Task.Title, c.due(s.Task.DueDate), completed)
	}
	_ = w.Flush()
	fmt.Fprintf(c.out, "\nProgress: %s\n", formatProgress(progress))
}

func (c *CLI) renderTasks(tasks []models.Task) {
	if len(tasks) == 0 {
		fmt.Fprintln(c.out, "No tasks yet.")
		return
	}
	w := c.table()
	fmt.Fprintln(w, "ID\tTITLE\tDUE\tCREATED")
	for _, t := range tasks {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", t.ID, t.Title, c.due(t.DueDate), c.relative(t.CreatedAt.Time))
	}
	_ = w.Flush()
}

func (c *CLI) renderTaskDetail(detail *models.TaskDetail) {
	fmt.Fprintf(c.out, "#%d %s\n", detail.ID, detail.Title)
	if detail.Description != "" {
		fmt.Fprintln(c.out, detail.Description)
	}
	fmt.Fprintf(c.out, "Due: %s  Created: %s\n", c.due(detail.DueDate), c.relative(detail.CreatedAt.Time))
	fmt.Fprintf(c.out, "Completed %d of %d (%s)\n\n", detail.CompletedCount, detail.TotalStudents, formatPercent(detail.CompletionRate))

	if len(detail.Submissions) == 0 {
		fmt.Fprintln(c.out, "No students assigned.")
		return
	}
	w := c.table()
	fmt.Fprintln(w, "STUDENT\tSTATUS\tCOMPLETED\tNOTES")
	for _, s := range detail.Submissions {
		status := "pending"
		completed := "-"
		if s.Completed {
			status = "done"
			if s.CompletedAt != nil {
				completed = c.relative(s.CompletedAt.Time)
			}
		}
		notes := ""
		if s.Notes != nil {
			notes = strings.ReplaceAll(*s.Notes, "\n", " ")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Student.Username, status, completed, notes)
	}
	_ = w.Flush()
}

func (c *CLI) renderOverview(overview *models.StatisticsOverview) {
	if overview == nil {
		fmt.Fprintln(c.out, "Overview unavailable.")
		return
	}
	w := c.table()
	fmt.Fprintf(w, "Tasks\t%s\n", humanize.Comma(int64(overview.TotalTasks)))
	fmt.Fprintf(w, "Students\t%s\n", humanize.Comma(int64(overview.TotalStudents)))
	fmt.Fprintf(w, "Submissions\t%s\n", humanize.Comma(int64(overview.TotalSubmissions)))
	fmt.Fprintf(w, "Completed\t%s\n", humanize.Comma(int64(overview.CompletedSubmissions)))
	fmt.Fprintf(w, "Pending\t%s\n", humanize.Comma(int64(overview.PendingSubmissions)))
	fmt.Fprintf(w, "Completion\t%s\n", formatPercent(overview.OverallCompletionRate))
	_ = w.Flush()
}

func (c *CLI) renderTaskStatistics(items []models.TaskStatistic) {
	w := c.table()
	fmt.Fprintln(w, "ID\tTASK\tASSIGNED\tDONE\tPENDING\tRATE")
	for _, s := range items {
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%s\n", s.TaskID, s.TaskTitle, s.TotalAssignments, s.Completed, s.Pending, formatPercent(s.CompletionRate))
	}
	_ = w.Flush()
}

func (c *CLI) renderStudentStatistics(items []models.StudentStatistic) {
	w := c.table()
	fmt.Fprintln(w, "STUDENT\tEMAIL\tTASKS\tDONE\tPENDING\tRATE")
	for _, s := range items {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n", s.StudentName, s.StudentEmail, s.TotalTasks, s.CompletedTasks, s.PendingTasks, formatPercent(s.CompletionRate))
	}
	_ = w.Flush()
}

func (c *CLI) due(ts *models.Timestamp) string {
	if ts == nil || ts.IsZero() {
		return "-"
	}
	return ts.Format("2006-01-02") + " (" + c.relative(ts.Time) + ")"
}

func (c *CLI) relative(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.RelTime(t, c.now(), "ago", "from now")
}

func formatProgress(p models.Progress) string {
	return fmt.Sprintf("%d/%d completed (%d%%)", p.Completed, p.Total, p.Percentage)
}

func formatPercent(rate float64) string {
	return humanize.FtoaWithDigits(rate, 2) + "%"
}
