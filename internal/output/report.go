package output

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/podharvest/internal/index"
	"github.com/MimeLyc/podharvest/internal/jobs"
	"github.com/MimeLyc/podharvest/internal/service"
)

// Report prints the per-unit table of a run and its totals.
func (p *Printer) Report(r service.BatchReport) error {
	p.Header(fmt.Sprintf("%s run %s", r.Kind, r.RunID))
	if len(r.NotFound) > 0 {
		p.Warning("Not in configuration: %s", strings.Join(r.NotFound, ", "))
	}
	if len(r.Units) == 0 {
		p.Info("Nothing to do")
		return nil
	}

	t := NewTable(p.out, "Unit", "Status", "Detail", "Error")
	for _, u := range r.Units {
		t.AddRow(u.Unit, p.Status(string(u.Status)), u.Detail, u.Error())
	}
	if err := t.Render(); err != nil {
		return err
	}

	ok, skipped, failed := r.Counts()
	summary := fmt.Sprintf("%d succeeded, %d skipped, %d failed in %s", ok, skipped, failed, r.FinishedAt.Sub(r.StartedAt).Round(time.Second))
	if failed > 0 {
		p.Error("%s", summary)
	} else {
		p.Success("%s", summary)
	}
	return nil
}

func (p *Printer) Plans(plans []service.ChannelPlan) error {
	t := NewTable(p.out, "Channel", "Indexed", "Known", "To fetch", "No URL", "Note")
	for _, pl := range plans {
		note := ""
		switch {
		case pl.Err != nil:
			note = p.Status("failed") + ": " + pl.Err.Error()
		case !pl.HasIndex:
			note = "no index yet"
		case len(pl.IDs) == 0:
			note = "up to date"
		}
		t.AddRow(pl.Channel, strconv.Itoa(pl.Indexed), strconv.Itoa(pl.Known),
			strconv.Itoa(len(pl.IDs)), strconv.Itoa(len(pl.Missing)), note)
	}
	return t.Render()
}

func (p *Printer) Channels(channels []service.ChannelInfo) error {
	t := NewTable(p.out, "Channel", "Type", "Cutoff", "Summarize", "Indexed", "Recorded", "Size", "Note")
	for _, c := range channels {
		summarize := "no"
		if c.Summarize {
			summarize = "yes"
		}
		note := c.Error
		if note != "" {
			note = p.Status("failed") + ": " + note
		}
		t.AddRow(c.Name, string(c.ContentType), c.CutoffDate, summarize,
			strconv.Itoa(c.Indexed), strconv.Itoa(c.Recorded), HumanBytes(c.Stats.TotalSizeBytes), note)
	}
	return t.Render()
}

func (p *Printer) Consolidations(results []index.ConsolidateResult, dryRun bool) error {
	if len(results) == 0 {
		p.Info("No legacy index files found")
		return nil
	}
	if dryRun {
		p.Warning("Dry run, nothing was changed")
	}
	t := NewTable(p.out, "Channel", "Action", "Legacy files", "Skipped", "Items")
	for _, r := range results {
		t.AddRow(r.Channel, p.Status(string(r.Action)), strings.Join(r.Legacy, " "),
			strings.Join(r.Skipped, " "), strconv.Itoa(r.Items))
	}
	return t.Render()
}

func (p *Printer) Repairs(results []service.RepairResult, dryRun bool) error {
	if len(results) == 0 {
		p.Info("No unified indexes found")
		return nil
	}
	if dryRun {
		p.Warning("Dry run, nothing was changed")
	}
	t := NewTable(p.out, "Channel", "Status", "Fields")
	for _, r := range results {
		status := "ok"
		fields := strings.Join(r.Repaired, ", ")
		switch {
		case r.Err != nil:
			status = "failed"
			fields = r.Err.Error()
		case len(r.Repaired) > 0:
			status = "repaired"
		}
		t.AddRow(r.Channel, p.Status(status), fields)
	}
	return t.Render()
}

func (p *Printer) Tasks(tasks []*jobs.Task) error {
	t := NewTable(p.out, "ID", "Kind", "Source", "Status", "Updated", "Result")
	for _, task := range tasks {
		result := task.Result
		if task.Error != "" {
			result = task.Error
		}
		t.AddRow(task.ID, string(task.Kind), task.Source, p.Status(string(task.Status)),
			task.UpdatedAt.Format("2006-01-02 15:04:05"), result)
	}
	return t.Render()
}

// HumanBytes formats n with a binary unit.
func HumanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
