package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/john/printer_remote/materials"
	"github.com/john/printer_remote/printer"
)

const maxParallel = 8

var (
	waitFlag     time.Duration
	refreshFlag  bool
	jsonOutput   bool
	intervalFlag time.Duration
)

var testCmd = &cobra.Command{
	Use:   "test [printer...]",
	Short: "Check that printers answer on their configured address",
	RunE: func(cmd *cobra.Command, args []string) error {
		targets, err := cfg.Select(args)
		if err != nil {
			return err
		}

		results := make([]bool, len(targets))
		var g errgroup.Group
		g.SetLimit(maxParallel)
		for i, t := range targets {
			g.Go(func() error {
				ok, err := testPrinter(cmd.Context(), t, waitFlag)
				if err != nil {
					return err
				}
				results[i] = ok
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		failed := 0
		out := cmd.OutOrStdout()
		for i, t := range targets {
			status := "reachable"
			if !results[i] {
				status = "unreachable"
				failed++
			}
			fmt.Fprintf(out, "%s\t%s\n", t.Name, status)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d printer(s) unreachable", failed, len(targets))
		}
		return nil
	},
}

// testPrinter tests one printer, retrying with exponential backoff for up to wait.
func testPrinter(ctx context.Context, pc PrinterConfig, wait time.Duration) (bool, error) {
	p, err := openPrinter(pc)
	if err != nil {
		return false, err
	}
	defer p.Close()

	if wait <= 0 {
		return p.TestConnection(ctx), nil
	}

	_, err = backoff.Retry(ctx,
		func() (struct{}, error) {
			if !p.TestConnection(ctx) {
				slog.DebugContext(ctx, "printer not reachable yet", "printer", pc.Name)
				return struct{}{}, fmt.Errorf("%s unreachable", pc.Name)
			}
			return struct{}{}, nil
		},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(wait),
	)
	return err == nil, nil
}

func controlCommand(use, short string, send func(printer.Printer, context.Context)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <printer>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pc, err := cfg.Printer(args[0])
			if err != nil {
				return err
			}
			p, err := openPrinter(pc)
			if err != nil {
				return err
			}
			send(p, cmd.Context())
			// Close waits for the request so the process does not exit under it.
			if err := p.Close(); err != nil {
				slog.DebugContext(cmd.Context(), "closing printer", "error", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s sent\n", pc.Name, use)
			return nil
		},
	}
}

var (
	estopCmd = controlCommand("estop", "Send an emergency stop",
		func(p printer.Printer, ctx context.Context) { p.EmergencyStop(ctx) })
	restartCmd = controlCommand("restart", "Restart the printer host software",
		func(p printer.Printer, ctx context.Context) { p.Restart(ctx) })
	firmwareRestartCmd = controlCommand("firmware-restart", "Restart the printer firmware",
		func(p printer.Printer, ctx context.Context) { p.FirmwareRestart(ctx) })
)

// moduleView is the printable form of one update module.
type moduleView struct {
	Module        string   `json:"module"`
	Kind          string   `json:"kind"`
	Local         string   `json:"local,omitempty"`
	Remote        string   `json:"remote,omitempty"`
	CommitsBehind int      `json:"commits_behind,omitempty"`
	Packages      []string `json:"packages,omitempty"`
}

type updatesView struct {
	Printer string       `json:"printer"`
	OK      bool         `json:"ok"`
	Modules []moduleView `json:"modules"`
}

func viewModules(result printer.UpdateCheckResult) []moduleView {
	out := make([]moduleView, 0, len(result))
	for _, m := range result {
		switch v := m.(type) {
		case printer.RepositoryModule:
			out = append(out, moduleView{
				Module:        v.Module,
				Kind:          "repository",
				Local:         v.Local,
				Remote:        v.Remote,
				CommitsBehind: v.CommitsBehind,
			})
		case printer.SystemPackageModule:
			out = append(out, moduleView{
				Module:   v.Module,
				Kind:     "system",
				Packages: v.Packages,
			})
		}
	}
	return out
}

var updatesCmd = &cobra.Command{
	Use:   "updates [printer...]",
	Short: "Show software update status",
	RunE: func(cmd *cobra.Command, args []string) error {
		targets, err := cfg.Select(args)
		if err != nil {
			return err
		}

		views := make([]updatesView, len(targets))
		var g errgroup.Group
		g.SetLimit(maxParallel)
		for i, t := range targets {
			g.Go(func() error {
				p, err := openPrinter(t)
				if err != nil {
					return err
				}
				defer p.Close()
				result, ok := p.CheckForUpdates(cmd.Context(), refreshFlag)
				views[i] = updatesView{Printer: t.Name, OK: ok, Modules: viewModules(result)}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		if jsonOutput {
			data, err := json.MarshalIndent(views, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal JSON: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}
		writeUpdates(cmd.OutOrStdout(), views)
		return nil
	},
}

func writeUpdates(w io.Writer, views []updatesView) {
	for _, v := range views {
		if !v.OK {
			fmt.Fprintf(w, "%s: update status unavailable\n", v.Printer)
			continue
		}
		fmt.Fprintf(w, "%s:\n", v.Printer)
		if len(v.Modules) == 0 {
			fmt.Fprintln(w, "  no modules reported")
		}
		for _, m := range v.Modules {
			switch m.Kind {
			case "repository":
				fmt.Fprintf(w, "  %-16s %s -> %s (%d behind)\n", m.Module, m.Local, m.Remote, m.CommitsBehind)
			case "system":
				fmt.Fprintf(w, "  %-16s %d package(s)", m.Module, len(m.Packages))
				if len(m.Packages) > 0 {
					fmt.Fprintf(w, ": %s", strings.Join(m.Packages, ", "))
				}
				fmt.Fprintln(w)
			}
		}
	}
}

var socketCmd = &cobra.Command{
	Use:   "socket <printer> <method> [params-json]",
	Short: "Open a WebSocket session and make one JSON-RPC call",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		pc, err := cfg.Printer(args[0])
		if err != nil {
			return err
		}

		var params any
		if len(args) == 3 {
			if err := json.Unmarshal([]byte(args[2]), &params); err != nil {
				return fmt.Errorf("parsing params: %w", err)
			}
		}

		p, err := openPrinter(pc)
		if err != nil {
			return err
		}
		defer p.Close()

		sess, err := p.OpenSocketConnection(cmd.Context())
		if err != nil {
			return err
		}

		var result json.RawMessage
		if err := sess.Call(cmd.Context(), args[1], params, &result); err != nil {
			return fmt.Errorf("%s: %w", args[1], err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(result))
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <printer>",
	Short: "Report when a printer becomes reachable or unreachable",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pc, err := cfg.Printer(args[0])
		if err != nil {
			return err
		}
		p, err := openPrinter(pc)
		if err != nil {
			return err
		}
		defer p.Close()

		var mu sync.Mutex
		out := cmd.OutOrStdout()
		w := printer.NewWatcher(p, intervalFlag, func(ok bool) {
			mu.Lock()
			defer mu.Unlock()
			state := "unreachable"
			if ok {
				state = "reachable"
			}
			fmt.Fprintf(out, "%s %s\t%s\n", time.Now().Format(time.TimeOnly), pc.Name, state)
		}, slog.Default().With("printer", pc.Name))

		w.Start(cmd.Context())
		<-cmd.Context().Done()
		w.Stop()
		return nil
	},
}

var materialsCmd = &cobra.Command{
	Use:   "materials",
	Short: "Track material usage",
}

func openStore() (*materials.Store, error) {
	path := cfg.Materials.Database
	if !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	return materials.Open(path, slog.Default())
}

var materialsAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a material",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		m := &materials.Material{Name: args[0]}
		if err := store.CreateMaterial(cmd.Context(), m); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), m.ID)
		return nil
	},
}

var materialsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List materials with total usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		list, err := store.ListMaterials(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, m := range list {
			total, err := store.TotalUsed(cmd.Context(), m.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s\t%s\t%.1fg\n", m.ID, m.Name, total)
		}
		return nil
	},
}

var materialsUseCmd = &cobra.Command{
	Use:   "use <material-id> <grams>",
	Short: "Record material removed",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		grams, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("parsing weight: %w", err)
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		u, err := store.RecordUsage(cmd.Context(), args[0], grams)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), u.ID)
		return nil
	},
}

var materialsHistoryCmd = &cobra.Command{
	Use:   "history <material-id>",
	Short: "List usage records for a material",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		usage, err := store.UsageForMaterial(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, u := range usage {
			fmt.Fprintf(out, "%s\t%.1fg\n", u.CreatedAt.Format(time.DateTime), u.WeightUsed)
		}
		return nil
	},
}

var materialsRemoveCmd = &cobra.Command{
	Use:     "rm <material-id>",
	Aliases: []string{"remove"},
	Short:   "Delete a material with no recorded usage",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		return store.DeleteMaterial(cmd.Context(), args[0])
	},
}

func init() {
	testCmd.Flags().DurationVar(&waitFlag, "wait", 0, "keep retrying for up to this long")
	updatesCmd.Flags().BoolVar(&refreshFlag, "refresh", false, "ask the server to refresh before answering")
	updatesCmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	watchCmd.Flags().DurationVar(&intervalFlag, "interval", 5*time.Second, "poll interval")

	materialsCmd.AddCommand(materialsAddCmd, materialsListCmd, materialsUseCmd, materialsHistoryCmd, materialsRemoveCmd)
}
