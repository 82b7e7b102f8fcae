package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/noah-isme/robotask-client/internal/dto"
	"github.com/noah-isme/robotask-client/internal/models"
)

func (c *CLI) stats(ctx context.Context, args []string) error {
	fs := c.flagSet("stats")
	if err := c.parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() > 1 {
		fs.Usage()
		return ErrUsage
	}
	if err := c.requireSession(); err != nil {
		return err
	}

	panel := "all"
	if fs.NArg() == 1 {
		panel = fs.Arg(0)
	}
	switch panel {
	case "overview":
		overview, err := c.app.Stats.FetchOverview(ctx)
		if err != nil {
			return failure("could not load statistics", err)
		}
		c.renderOverview(overview)
	case "tasks":
		items, err := c.app.Stats.FetchPerTask(ctx)
		if err != nil {
			return failure("could not load statistics", err)
		}
		c.renderTaskStatistics(items)
	case "students":
		items, err := c.app.Stats.FetchPerStudent(ctx)
		if err != nil {
			return failure("could not load statistics", err)
		}
		c.renderStudentStatistics(items)
	case "all":
		dashboard, err := c.app.Stats.FetchDashboard(ctx)
		if err != nil {
			return failure("could not load statistics", err)
		}
		c.renderDashboard(dashboard)
	default:
		fs.Usage()
		return ErrUsage
	}
	return nil
}

func (c *CLI) export(ctx context.Context, args []string) error {
	fs := c.flagSet("export")
	format := fs.String("format", "csv", "csv or pdf")
	out := fs.String("out", "", "output file, defaults to statistics.<format>")
	if err := c.parse(fs, args); err != nil {
		return err
	}
	if err := c.requireSession(); err != nil {
		return err
	}

	payload, encoding, err := c.app.Exports.Render(ctx, dto.ExportRequest{Format: *format})
	if err != nil {
		return failure("export failed", err)
	}
	path := *out
	if path == "" {
		path = "statistics" + encoding.Extension()
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return &CommandError{Message: "export failed: cannot write " + path, Err: err}
	}
	fmt.Fprintf(c.out, "Wrote %s to %s.\n", humanize.Bytes(uint64(len(payload))), path)
	return nil
}

func (c *CLI) renderDashboard(dashboard *models.StatisticsDashboard) {
	c.renderOverview(dashboard.Overview)
	fmt.Fprintln(c.out)
	c.renderTaskStatistics(dashboard.PerTask)
	fmt.Fprintln(c.out)
	c.renderStudentStatistics(dashboard.PerStudent)
}
