package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tira-io/tirad/internal/config"
	"github.com/tira-io/tirad/internal/journal"
	"github.com/tira-io/tirad/internal/model"
	"github.com/tira-io/tirad/internal/state"
)

func serveCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(v, os.Stdout)
			if err != nil {
				return err
			}
			defer a.Close()

			a.logger.Info("tirad: starting",
				"listen_addr", a.cfg.ListenAddr,
				"runs_root", a.cfg.RunsRoot,
				"journal_path", a.cfg.JournalPath,
			)
			return a.server().Run()
		},
	}
}

func psCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "ps",
		Short: "List active supervised jobs by user",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(v, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			groups, err := a.collector.RunningProcesses(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(groups)
			}

			tw := newTable()
			tw.AppendHeader(table.Row{"User", "Job", "State", "Uptime"})
			for _, g := range groups {
				for _, p := range g.Processes {
					tw.AppendRow(table.Row{g.User, p.Name, stateColor(p.State), p.Uptime})
				}
			}
			tw.Render()
			return nil
		},
	}
}

func statusCmd(v *viper.Viper) *cobra.Command {
	var taskID string
	cmd := &cobra.Command{
		Use:   "status <user>",
		Short: "Show a user's current job and VM state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(v, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			user := args[0]
			vm, err := a.catalog.UserVM(user)
			if err != nil {
				return err
			}
			st := a.collector.CollectVMInfo(cmd.Context(), user, taskID, vm)
			if jsonOutput(cmd) {
				return printJSON(st)
			}

			tw := newTable()
			tw.AppendRows([]table.Row{
				{"VM", vm.VMName + " @ " + st.Host},
				{"State", stateColor(strings.ToUpper(st.State))},
				{"Guest OS", st.GuestOS},
				{"Memory / CPUs", st.MemorySize + " / " + st.NumberOfCPUs},
				{"SSH " + st.PortSSH, openColor(st.PortSSHOpen)},
				{"RDP " + st.PortRDP, openColor(st.PortRDPOpen)},
				{"Sandboxed", st.StateSandboxed},
				{"Job", processSummary(st.Process)},
			})
			if st.Run != nil {
				tw.AppendRow(table.Row{"Run", st.Run.RunID + " (" + st.Run.InputDataset + ")"})
			}
			for _, pe := range st.ProbeErrors {
				tw.AppendRow(table.Row{"Probe error", color.New(color.FgRed).Sprint(pe)})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "task id for the ongoing run lookup")
	return cmd
}

func runsCmd(v *viper.Viper) *cobra.Command {
	var reviewer bool
	cmd := &cobra.Command{
		Use:   "runs <user>",
		Short: "List a user's runs, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(v, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			keys, err := a.runs.ListUserRuns(args[0])
			if err != nil {
				return err
			}
			runs, err := a.collector.UserRuns(cmd.Context(), keys, state.Viewer{Reviewer: reviewer})
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(runs)
			}

			tw := newTable()
			tw.AppendHeader(table.Row{"Run", "Dataset", "Software", "Status", "Runtime", "Size", "Review"})
			for _, r := range runs {
				review := ""
				if r.Review != nil {
					switch {
					case r.Review.HasErrors:
						review = color.New(color.FgRed).Sprint("errors")
					case r.Review.HasWarnings:
						review = color.New(color.FgYellow).Sprint("warnings")
					case r.Review.HasNoErrors:
						review = color.New(color.FgGreen).Sprint("ok")
					}
				}
				tw.AppendRow(table.Row{r.Key.RunID, r.Key.Dataset, r.Run.SoftwareID,
					statusColor(r.Status), r.Runtime, r.Size, review})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().BoolVar(&reviewer, "reviewer", false, "show unredacted output sizes")
	return cmd
}

func journalCmd(v *viper.Viper) *cobra.Command {
	var user string
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "List journaled submissions and kills",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(v, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			entries, total, err := a.journal.List(cmd.Context(), user, limit, offset)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(entries)
			}

			tw := newTable()
			tw.AppendHeader(table.Row{"Time", "Kind", "User", "Run", "Job", "Outcome", "Error"})
			for _, e := range entries {
				tw.AppendRow(table.Row{e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
					e.Kind, e.User, e.RunID, e.Job, outcomeColor(e.Outcome), e.Error})
			}
			tw.AppendFooter(table.Row{"", "", "", "", "", "total", total})
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "only entries of this user")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of entries")
	cmd.Flags().IntVar(&offset, "offset", 0, "entries to skip")
	return cmd
}

func configCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(v); err != nil {
				return err
			}
			settings := make(map[string]any, len(config.Keys()))
			for _, k := range config.Keys() {
				settings[k] = v.Get(k)
			}
			if jsonOutput(cmd) {
				return printJSON(settings)
			}
			tw := newTable()
			tw.AppendHeader(table.Row{"Key", "Value"})
			for _, k := range config.Keys() {
				tw.AppendRow(table.Row{k, settings[k]})
			}
			tw.Render()
			return nil
		},
	}
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	return tw
}

func jsonOutput(cmd *cobra.Command) bool {
	on, _ := cmd.Flags().GetBool("json")
	return on
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func processSummary(ps model.ProcessState) string {
	switch {
	case ps.Running:
		return fmt.Sprintf("%s %s (%s, %s)", ps.Type, ps.RunID, stateColor(strings.ToUpper(ps.State)), ps.Time)
	case ps.VMBooting:
		return color.New(color.FgYellow).Sprint("booting")
	case ps.VMPoweringOff:
		return color.New(color.FgYellow).Sprint("powering off")
	case ps.VMShuttingDown:
		return color.New(color.FgYellow).Sprint("shutting down")
	default:
		return model.None
	}
}

func stateColor(s string) string {
	switch s {
	case model.ProcRunning:
		return color.New(color.FgGreen).Sprint(s)
	case model.ProcStarting, model.ProcBackoff, model.ProcStopping:
		return color.New(color.FgYellow).Sprint(s)
	case strings.ToUpper(model.Unknown):
		return s
	default:
		return color.New(color.FgRed).Sprint(s)
	}
}

func statusColor(s string) string {
	switch s {
	case model.StatusRunning, model.StatusPending:
		return color.New(color.FgYellow).Sprint(s)
	case model.StatusFinished:
		return color.New(color.FgGreen).Sprint(s)
	case model.StatusFailed:
		return color.New(color.FgRed).Sprint(s)
	default:
		return s
	}
}

func outcomeColor(s string) string {
	switch s {
	case journal.OutcomeStarted:
		return color.New(color.FgGreen).Sprint(s)
	case journal.OutcomeRejected:
		return color.New(color.FgYellow).Sprint(s)
	default:
		return color.New(color.FgRed).Sprint(s)
	}
}

func openColor(open bool) string {
	if open {
		return color.New(color.FgGreen).Sprint("open")
	}
	return color.New(color.FgRed).Sprint("closed")
}
