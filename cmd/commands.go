package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/podharvest/internal/config"
	"github.com/MimeLyc/podharvest/internal/fetcher"
	"github.com/MimeLyc/podharvest/internal/index"
	"github.com/MimeLyc/podharvest/internal/jobs"
	"github.com/MimeLyc/podharvest/internal/output"
	"github.com/MimeLyc/podharvest/internal/persistence"
	"github.com/MimeLyc/podharvest/internal/service"
	"github.com/MimeLyc/podharvest/pkg/icron"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		opts        service.RunOptions
		noSummarize bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Harvest channels, then summarize the enabled ones",
		Long: `Bring every selected channel up to date: refresh its index when the
cutoff changed, fetch the planned items, rebuild the control ledger and then
run the summarization pass over channels with summarize enabled.

Examples:
  podharvest run
  podharvest run --channels "Alpha,Beta" --no-skip
  podharvest run --max-channels 3 --no-summarize`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			recorder, closeStore := a.withRecorder()
			defer closeStore()
			svc := a.newService(staticSettings(a.loadSettings()), recorder...)
			return a.finish(svc.Harvest(cmd.Context(), opts, !noSummarize))
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&opts.Channels, "channels", nil, "only these channels (case-insensitive names)")
	f.IntVar(&opts.MaxChannels, "max-channels", 0, "process at most this many channels (0 means all)")
	f.BoolVar(&opts.NoSkip, "no-skip", false, "plan every indexed item, even ones already on disk")
	f.BoolVar(&opts.ForceReindex, "force-reindex", false, "rediscover every channel and merge into its index")
	f.StringVar(&opts.Format, "format", "", "override the fetch tool format selector")
	f.BoolVar(&noSummarize, "no-summarize", false, "skip the summarization pass")
	return cmd
}

func newPlanCmd(a *app) *cobra.Command {
	var (
		channels    []string
		maxChannels int
		noSkip      bool
	)
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what a run would fetch without touching anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := a.newService(staticSettings(a.loadSettings()))
			plans, err := svc.Plan(cmd.Context(), channels, maxChannels, noSkip)
			if err != nil {
				return err
			}
			if a.jsonOut {
				if err := a.printer.JSON(planViews(plans)); err != nil {
					return err
				}
			} else if err := a.printer.Plans(plans); err != nil {
				return err
			}
			for _, p := range plans {
				if p.Err != nil {
					return errUnitsFailed
				}
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&channels, "channels", nil, "only these channels")
	f.IntVar(&maxChannels, "max-channels", 0, "at most this many channels")
	f.BoolVar(&noSkip, "no-skip", false, "plan every indexed item")
	return cmd
}

type planView struct {
	Channel  string   `json:"channel"`
	HasIndex bool     `json:"has_index"`
	Indexed  int      `json:"indexed"`
	Known    int      `json:"known"`
	IDs      []string `json:"ids"`
	URLs     []string `json:"urls"`
	Missing  []string `json:"missing,omitempty"`
	Error    string   `json:"error,omitempty"`
}

func planViews(plans []service.ChannelPlan) []planView {
	out := make([]planView, 0, len(plans))
	for _, p := range plans {
		v := planView{
			Channel:  p.Channel,
			HasIndex: p.HasIndex,
			Indexed:  p.Indexed,
			Known:    p.Known,
			IDs:      p.IDs,
			URLs:     p.URLs,
			Missing:  p.Missing,
		}
		if p.Err != nil {
			v.Error = p.Err.Error()
		}
		out = append(out, v)
	}
	return out
}

func newRescanCmd(a *app) *cobra.Command {
	var channels []string
	cmd := &cobra.Command{
		Use:   "rescan",
		Short: "Rebuild control ledgers from what is on disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			recorder, closeStore := a.withRecorder()
			defer closeStore()
			svc := a.newService(staticSettings(a.loadSettings()), recorder...)
			report, err := svc.RescanAll(cmd.Context(), channels, "")
			return a.finish([]service.BatchReport{report}, err)
		},
	}
	cmd.Flags().StringSliceVar(&channels, "channels", nil, "only these channels")
	return cmd
}

func newSummarizeCmd(a *app) *cobra.Command {
	var opts service.SummarizeOptions
	cmd := &cobra.Command{
		Use:   "summarize",
		Short: "Summarize transcripts of channels with summarize enabled",
		Long: `Run the summarization pipeline over every item folder of the selected
channels. Items with a final summary are skipped; interrupted items resume
from their cached chunk summaries.

Examples:
  podharvest summarize
  podharvest summarize --channels Alpha --language en`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			recorder, closeStore := a.withRecorder()
			defer closeStore()
			svc := a.newService(staticSettings(a.loadSettings()), recorder...)
			report, err := svc.SummarizeBatch(cmd.Context(), opts)
			return a.finish([]service.BatchReport{report}, err)
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&opts.Channels, "channels", nil, "only these channels")
	f.StringVar(&opts.Language, "language", "", "preferred transcript language (defaults to PREFERRED_LANGUAGE)")
	return cmd
}

func newMergeIndexesCmd(a *app) *cobra.Command {
	var opts index.ConsolidateOptions
	cmd := &cobra.Command{
		Use:   "merge-indexes",
		Short: "Replace legacy per-cutoff index files with one unified index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := a.newService(staticSettings(a.loadSettings()))
			results, err := svc.MergeIndexes(cmd.Context(), opts)
			if a.jsonOut {
				if jerr := a.printer.JSON(results); jerr != nil {
					return jerr
				}
			} else if perr := a.printer.Consolidations(results, opts.DryRun); perr != nil {
				return perr
			}
			return err
		},
	}
	f := cmd.Flags()
	f.BoolVar(&opts.DryRun, "dry-run", false, "report without changing anything")
	f.BoolVar(&opts.Backup, "backup", false, "copy legacy files into index_backups/ first")
	return cmd
}

func newRepairIndexesCmd(a *app) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "repair-indexes",
		Short: "Fill missing fields of unified indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := a.newService(staticSettings(a.loadSettings()))
			results, err := svc.RepairIndexes(cmd.Context(), dryRun)
			if err != nil {
				return err
			}
			if a.jsonOut {
				views := make([]map[string]any, 0, len(results))
				for _, r := range results {
					v := map[string]any{"channel": r.Channel, "repaired": r.Repaired}
					if r.Err != nil {
						v["error"] = r.Err.Error()
					}
					views = append(views, v)
				}
				if err := a.printer.JSON(views); err != nil {
					return err
				}
			} else if err := a.printer.Repairs(results, dryRun); err != nil {
				return err
			}
			for _, r := range results {
				if r.Err != nil {
					return errUnitsFailed
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report without writing")
	return cmd
}

func newChannelsCmd(a *app) *cobra.Command {
	var search string
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "List configured channels with index and ledger statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := a.newService(staticSettings(a.loadSettings()))
			channels, err := svc.ListChannels(search)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printer.JSON(channels)
			}
			if len(channels) == 0 {
				a.printer.Info("No channels match %q", search)
				return nil
			}
			return a.printer.Channels(channels)
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "case-insensitive name filter")
	return cmd
}

func newFetchURLCmd(a *app) *cobra.Command {
	var (
		contentType string
		transcript  bool
		lang        string
	)
	cmd := &cobra.Command{
		Use:   "fetch-url URL",
		Short: "Fetch a single URL outside any channel and optionally summarize it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ct := config.ContentType(contentType)
			if ct != config.ContentAudio && ct != config.ContentVideo {
				return fmt.Errorf("--content-type must be audio or video")
			}
			svc := a.newService(staticSettings(a.loadSettings()))
			res, err := svc.RunAdHoc(cmd.Context(), fetcher.AdHocRequest{
				URL:         args[0],
				ContentType: ct,
				Transcript:  transcript,
			}, lang)
			if a.jsonOut {
				view := map[string]any{"item_dir": res.ItemDir}
				if res.Summary != nil {
					view["state"] = res.Summary.State.String()
					view["total_chunks"] = res.Summary.TotalChunks
					view["processed_chunks"] = res.Summary.ProcessedChunks()
				}
				if err != nil {
					view["error"] = err.Error()
				}
				if jerr := a.printer.JSON(view); jerr != nil {
					return jerr
				}
				return err
			}
			if err != nil {
				return err
			}
			a.printer.Success("Fetched into %s", res.ItemDir)
			if res.Summary != nil {
				a.printer.Success("Summarized %d of %d chunks", res.Summary.ProcessedChunks(), res.Summary.TotalChunks)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&contentType, "content-type", string(config.ContentAudio), "audio or video")
	f.BoolVar(&transcript, "transcript", false, "fetch transcripts and summarize them")
	f.StringVar(&lang, "language", "", "preferred transcript language")
	return cmd
}

type statusView struct {
	Schedule *icron.TriggerInfo `json:"schedule,omitempty"`
	Runs     []runView          `json:"runs"`
	Tasks    []*jobs.Task       `json:"tasks"`
}

type runView struct {
	Run   persistence.Run          `json:"run"`
	Units []persistence.UnitResult `json:"units"`
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the schedule, background tasks and the latest runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			var view statusView
			info, err := icron.GetTriggerInfo(a.cfg.Harvest.CronExpr, time.Now())
			if err != nil {
				return err
			}
			view.Schedule = info

			for _, kind := range []string{service.KindHarvest, service.KindRescan, service.KindSummarize} {
				run, ok, err := store.LatestRun(ctx, kind)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
				units, err := store.LoadUnitResults(ctx, run.ID)
				if err != nil {
					return err
				}
				view.Runs = append(view.Runs, runView{Run: run, Units: units})
			}
			tasks, err := store.LoadTasks(ctx)
			if err != nil {
				return err
			}
			view.Tasks = tasks

			if a.jsonOut {
				return a.printer.JSON(view)
			}

			p := a.printer
			p.Header("Schedule")
			p.Info("%s: last %s, next %s (in %s)", info.Expression,
				formatTime(info.Last), formatTime(info.Next), info.TimeUntilNext.Round(time.Second))

			p.Header("Latest runs")
			if len(view.Runs) == 0 {
				p.Info("No runs recorded")
			}
			for _, rv := range view.Runs {
				finished := "running"
				if rv.Run.FinishedAt != nil {
					finished = formatTime(*rv.Run.FinishedAt)
				}
				p.Info("%s %s: started %s, finished %s, %d units, %d failed",
					rv.Run.Kind, rv.Run.ID, formatTime(rv.Run.StartedAt), finished, rv.Run.Total, rv.Run.Failed)
				t := output.NewTable(p.Out(), "Unit", "Status", "Detail", "Error")
				for _, u := range rv.Units {
					t.AddRow(u.Unit, p.Status(u.Status), u.Detail, u.Error)
				}
				if t.Len() > 0 {
					if err := t.Render(); err != nil {
						return err
					}
				}
			}

			p.Header("Tasks")
			if len(tasks) == 0 {
				p.Info("No background tasks")
				return nil
			}
			return p.Tasks(tasks)
		},
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04")
}
