package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"photorestore/internal/dashboard"
	"photorestore/internal/events"
)

func newDashboardCommand(ctx *commandContext) *cobra.Command {
	var (
		apiURL  string
		token   string
		restore string
		cancel  string
		follow  bool
	)

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Watch your restorations and credits live",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if token == "" {
				token = os.Getenv("PHOTORESTORE_TOKEN")
			}
			client, err := dashboard.NewClient(apiURL, token, nil)
			if err != nil {
				return err
			}

			analytics, closeAnalytics, err := events.NewAnalytics(cfg.Analytics)
			if err != nil {
				return err
			}
			defer func() { _ = closeAnalytics() }()

			logger := ctx.log()
			out := cmd.OutOrStdout()
			watcher := dashboard.NewWatcher(client, &printNotifier{out: out}, dashboard.WatcherOptions{
				UserID:    client.UserID(),
				Interval:  cfg.Dashboard.PollInterval,
				Analytics: analytics,
			}, logger)
			session := dashboard.NewSession(client, watcher, dashboard.SessionOptions{
				UserID:       client.UserID(),
				Cost:         cfg.Jobs.RestorationCost,
				MinCancelAge: cfg.Jobs.MinCancelAge,
			}, logger)

			runCtx, stop := context.WithCancel(cmd.Context())
			defer stop()
			if err := session.Load(runCtx); err != nil {
				return err
			}
			go func() { _ = watcher.Run(runCtx) }()
			go dashboard.FollowEvents(runCtx, client, watcher, logger)

			return runDashboard(runCtx, out, session, watcher, dashboardActions{
				restore: restore,
				cancel:  cancel,
				follow:  follow,
				poll:    cfg.Dashboard.PollInterval,
			})
		},
	}

	cmd.Flags().StringVar(&apiURL, "api", "http://localhost:8080", "API base URL")
	cmd.Flags().StringVar(&token, "token", "", "Access token (defaults to $PHOTORESTORE_TOKEN)")
	cmd.Flags().StringVar(&restore, "restore", "", "Start a restoration of this uploaded image path")
	cmd.Flags().StringVar(&cancel, "cancel", "", "Cancel this job and reclaim its credit")
	cmd.Flags().BoolVar(&follow, "follow", false, "Keep watching until interrupted")
	return cmd
}

type dashboardActions struct {
	restore string
	cancel  string
	follow  bool
	poll    time.Duration
}

func runDashboard(ctx context.Context, out io.Writer, session *dashboard.Session, watcher *dashboard.Watcher, act dashboardActions) error {
	if err := waitLoaded(ctx, watcher, act.poll); err != nil {
		return err
	}

	if act.cancel != "" {
		balance, err := session.CancelJob(ctx, act.cancel)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Cancelled %s, balance now %d\n", act.cancel, balance)
	}

	if act.restore != "" {
		res, err := session.StartRestoration(ctx, act.restore)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Started %s (balance %d)\n", res.JobID, session.Balance().Displayed())
		if err := waitIdle(ctx, watcher, res.JobID, act.poll); err != nil {
			return err
		}
	}

	if act.follow {
		<-ctx.Done()
	}
	fmt.Fprintln(out, renderJobs(watcher.Jobs()))
	fmt.Fprintf(out, "Credits: %d\n", session.Balance().Displayed())
	return nil
}

// waitLoaded blocks until the first job list fetch has landed.
func waitLoaded(ctx context.Context, w *dashboard.Watcher, poll time.Duration) error {
	return waitUntil(ctx, poll/4, func() bool { return w.Loaded() })
}

// waitIdle blocks until jobID has been seen and nothing is active any more.
func waitIdle(ctx context.Context, w *dashboard.Watcher, jobID string, poll time.Duration) error {
	return waitUntil(ctx, poll/2, func() bool {
		_, seen := w.Job(jobID)
		return seen && !dashboard.HasActiveJobs(w.Jobs())
	})
}

func waitUntil(ctx context.Context, every time.Duration, done func() bool) error {
	if every <= 0 {
		every = 100 * time.Millisecond
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for !done() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

func renderJobs(jobs []dashboard.Job) string {
	sorted := append([]dashboard.Job(nil), jobs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CreatedAt.After(sorted[j].CreatedAt) })

	rows := make([][]string, 0, len(sorted))
	for _, job := range sorted {
		detail := ""
		switch {
		case job.ResultURL != nil:
			detail = *job.ResultURL
		case job.ErrorMessage != nil:
			detail = *job.ErrorMessage
		}
		elapsed := ""
		if d := job.Elapsed(); d > 0 {
			elapsed = d.Round(time.Second).String()
		}
		rows = append(rows, []string{
			job.ID,
			string(job.Status),
			job.CreatedAt.Local().Format(time.DateTime),
			elapsed,
			detail,
		})
	}
	return renderTable(
		[]string{"Job", "Status", "Created", "Took", "Result"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	)
}

type printNotifier struct {
	out io.Writer
}

func (n *printNotifier) JobCompleted(job dashboard.Job, elapsed time.Duration) {
	url := ""
	if job.ResultURL != nil {
		url = *job.ResultURL
	}
	fmt.Fprintln(n.out, text.FgGreen.Sprintf("Restoration %s finished in %s: %s", job.ID, elapsed.Round(time.Second), url))
}

func (n *printNotifier) JobFailed(job dashboard.Job, message string) {
	fmt.Fprintln(n.out, text.FgRed.Sprintf("Restoration %s failed: %s", job.ID, message))
}
