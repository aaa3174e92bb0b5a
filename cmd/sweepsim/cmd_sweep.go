package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"text/tabwriter"

	"github.com/nvandessel/sweepsim/internal/adjust"
	"github.com/nvandessel/sweepsim/internal/models"
	"github.com/nvandessel/sweepsim/internal/pathutil"
	"github.com/nvandessel/sweepsim/internal/results"
	"github.com/nvandessel/sweepsim/internal/scheduler"
	"github.com/spf13/cobra"
)

// sweepReport is what the sweep command prints or exports.
type sweepReport struct {
	Status   scheduler.Status        `json:"status"`
	Snapshot results.Snapshot        `json:"snapshot"`
	Adjusted map[string]adjust.Rates `json:"adjusted"`
}

func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Simulate a scope and print the resulting rates",
		Long: `Run every encounter in a scope through the simulator, then aggregate
the instances and task sets it touches.

Scopes:
  all                    every zone encounter, instance and task set
  encounter:<id>         one encounter (member or instance/member)
  instance:<id>          every member of an instance
  taskset:<id>           every encounter in a task set's level range

Press Ctrl+C once to cancel; results already finished are kept.

Examples:
  sweepsim sweep --scope all
  sweepsim sweep --scope instance:crypt --agent agent.yaml --json
  sweepsim sweep --scope taskset:slayer-low --output results.json`,
		RunE: runSweep,
	}
	cmd.Flags().String("scope", "all", "What to simulate")
	cmd.Flags().String("agent", "", "Agent YAML file (default: built-in novice)")
	cmd.Flags().Int("trials", 0, "Trials per encounter (default from config)")
	cmd.Flags().Int("ticks", 0, "Tick cap per encounter (default from config)")
	cmd.Flags().String("output", "", "Also write the JSON report to this file")
	return cmd
}

func runSweep(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")
	scopeFlag, _ := cmd.Flags().GetString("scope")
	agentPath, _ := cmd.Flags().GetString("agent")
	trials, _ := cmd.Flags().GetInt("trials")
	ticks, _ := cmd.Flags().GetInt("ticks")
	output, _ := cmd.Flags().GetString("output")

	scope, err := scheduler.ParseScope(scopeFlag)
	if err != nil {
		return err
	}
	agent, err := loadAgent(agentPath)
	if err != nil {
		return err
	}
	if output != "" {
		if err := validateOutput(output); err != nil {
			return err
		}
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if trials == 0 {
		trials = cfg.Sweep.Trials
	}
	if ticks == 0 {
		ticks = cfg.Sweep.Ticks
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cmd, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	completions := make(chan scheduler.Completion, 1)
	a.engine.OnComplete(func(c scheduler.Completion) {
		select {
		case completions <- c:
		default:
		}
	})
	if !jsonOut {
		errOut := cmd.ErrOrStderr()
		a.engine.OnProgress(func(p scheduler.Progress) {
			fmt.Fprintf(errOut, "\r  %d/%d encounters", p.Completed, p.Total)
		})
	}

	sw, err := a.engine.RequestSweep(scheduler.Request{Scope: scope, Agent: agent, Trials: trials, Ticks: ticks})
	if err != nil {
		return fmt.Errorf("failed to start sweep: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	notifySignals(sigChan)
	defer signal.Stop(sigChan)

	select {
	case <-sw.Done():
	case <-sigChan:
		fmt.Fprintln(cmd.ErrOrStderr(), "\ncancelling, waiting for running encounters...")
		if err := a.engine.Cancel(sw.ID()); err != nil {
			return err
		}
		<-sw.Done()
	case <-ctx.Done():
		_ = a.engine.Cancel(sw.ID())
		<-sw.Done()
	}
	if !jsonOut {
		fmt.Fprintln(cmd.ErrOrStderr())
	}

	c := <-completions
	report := sweepReport{Status: sw.Status(), Snapshot: c.Snapshot, Adjusted: c.Adjusted}

	if output != "" {
		if err := writeReport(output, report); err != nil {
			return err
		}
	}
	if jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printReport(cmd.OutOrStdout(), report)
	return nil
}

// validateOutput keeps exports under the working directory or
// ~/.sweepsim/exports.
func validateOutput(path string) error {
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	dirs, err := pathutil.ExportDirs(wd)
	if err != nil {
		return err
	}
	return pathutil.ValidatePath(path, dirs)
}

func writeReport(path string, report sweepReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("writing report %s: %w", pathutil.RedactPath(path), err)
	}
	return nil
}

func printReport(w io.Writer, r sweepReport) {
	st := r.Status
	state := "completed"
	if st.Cancelled {
		state = "cancelled"
	}
	fmt.Fprintf(w, "Sweep %s (%s): %s, %d/%d encounters\n\n", st.ID, st.Scope, state, st.Completed, st.Total)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ENCOUNTER\tSTATUS\tKILL TIME\tADJ KILL TIME\tXP/S\tADJ XP/S\tGP/S\tDEATH RATE\tNOTE")
	for _, e := range r.Snapshot.Encounters {
		if e.Status == models.StatusNotRun && e.Telemetry.Reason == "" {
			continue
		}
		printRow(tw, e.ID.String(), string(e.Status), e.Telemetry, r.Adjusted[e.ID.String()], e.Included)
	}
	tw.Flush()

	if len(r.Snapshot.Groups) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "GROUP\tSTATUS\tKILL TIME\tADJ KILL TIME\tXP/S\tADJ XP/S\tGP/S\tDEATH RATE\tNOTE")
	for _, g := range r.Snapshot.Groups {
		status := "failed"
		if g.Telemetry.SimSuccess {
			status = "success"
		}
		printRow(tw, g.ID, status, g.Telemetry, r.Adjusted[g.ID], g.Included)
	}
	tw.Flush()
}

func printRow(w io.Writer, id, status string, t models.Telemetry, adj adjust.Rates, included bool) {
	note := t.Reason
	if !included {
		note = "excluded"
	}
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
		id, status,
		num(t.KillTimeSeconds), num(adj.KillTimeSeconds),
		num(sumRates(t.XPPerSecond)), num(sumRates(adj.XPPerSecond)),
		num(t.GPPerSecond), num(t.DeathRate), note)
}

func sumRates(m map[string]float64) float64 {
	if len(m) == 0 {
		return math.NaN()
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	sum := 0.0
	for _, k := range keys {
		sum += m[k]
	}
	return sum
}

// num formats a rate, printing "-" for values not computed.
func num(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "-"
	}
	return fmt.Sprintf("%.3f", v)
}
