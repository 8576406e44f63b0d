// gip - find embedded boards on the local network
//
// Scans the local networks for the MAC addresses listed in the get_ip
// section of ~/.kdt and writes "<ip> <host>" entries to /etc/hosts, so the
// boards can be reached by name. Every host found is kept in the sighting
// history.
//
// Usage:
//   gip                              Scan in the background
//   gip -d                           Scan in the foreground printing commands
//   gip add rpi4 dc:a6:32:01:02:03   Add a host / MAC mapping
//   gip list                         Show the hosts found by the last scan
//   gip history rpi4                 Show where a host has been seen
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kdt-dev/kdt/pkg/config"
	"github.com/kdt-dev/kdt/pkg/install"
	"github.com/kdt-dev/kdt/pkg/kdterr"
	"github.com/kdt-dev/kdt/pkg/layout"
	"github.com/kdt-dev/kdt/pkg/logging"
	"github.com/kdt-dev/kdt/pkg/mac"
	"github.com/kdt-dev/kdt/pkg/netscan"
	"github.com/kdt-dev/kdt/pkg/runner"
)

// envDetached marks the background scan process.
const envDetached = "KDT_GIP_DETACHED"

var (
	version = "1.0.0"
	debug   bool
	verbose bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !kdterr.Silent(err) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(kdterr.Code(err))
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gip",
		Short: "Find known boards on the network and add them to /etc/hosts",
		Long: `gip scans the local networks with arp-scan for the MAC addresses of the
get_ip section in ~/.kdt and adds "<ip> <host> #gip added" lines to /etc/hosts.

Without --debug the scan runs in the background and gip returns immediately.

Environment Variables:
  KDT_CONFIG    Settings file (default ~/.kdt)
  KDT_DB        Sighting history database (default ~/.kdt.db)`,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !debug && os.Getenv(envDetached) == "" {
				return detach()
			}
			return scan(context.Background())
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Print all commands being executed")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose diagnostics")

	rootCmd.AddCommand(
		newAddCmd(),
		newListCmd(),
		newHistoryCmd(),
	)
	return rootCmd
}

// detach starts the scan again in the background, so the shell gets its
// prompt back while arp-scan runs. sudo is validated first, the child stays
// on the terminal to reuse the credentials and report errors.
func detach() error {
	log := logging.New(verbose)
	if _, err := runner.Must(context.Background(), runner.New(debug, log), runner.Cmd{
		Args:   []string{"-v"},
		Sudo:   true,
		Output: runner.Stream,
	}); err != nil {
		return err
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate gip: %w", err)
	}
	cmd := detachCmd(exe, os.Args[1:], os.Environ())
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start the background scan: %w", err)
	}
	return cmd.Process.Release()
}

// detachCmd re-runs gip marked as the background scan. Stdin is left to the
// shell.
func detachCmd(exe string, args, env []string) *exec.Cmd {
	cmd := exec.Command(exe, args...)
	cmd.Env = append(append([]string(nil), env...), envDetached+"=1")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd
}

func openHistory(log *zap.SugaredLogger) *sql.DB {
	path, err := mac.DatabasePath()
	if err != nil {
		log.Warnw("sighting history disabled", "error", err)
		return nil
	}
	db, err := mac.OpenDatabase(path)
	if err != nil {
		log.Warnw("sighting history disabled", "error", err)
		return nil
	}
	return db
}

func scan(ctx context.Context) error {
	log := logging.New(verbose)

	store, err := config.OpenDefault()
	if err != nil {
		return err
	}
	sec, _, err := store.ReadSection(config.SectionGetIP)
	if err != nil {
		return err
	}

	scanner := netscan.NewScanner(runner.New(debug, log), log)
	if db := openHistory(log); db != nil {
		defer db.Close()
		scanner.Record = func(e netscan.Entry) error {
			return mac.RecordSighting(db, e.Host, e.MAC, e.IP, time.Now())
		}
	}

	entries, err := scanner.Scan(ctx, netscan.HostsFromSection(sec))
	if err != nil {
		return err
	}
	if debug {
		for _, e := range entries {
			fmt.Printf("Found: %s %s\n", e.Host, e.IP)
		}
	}
	return nil
}

func newAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add [host mac]",
		Short: "Add a host / MAC mapping to be used by the scan",
		Long: `Add a host / MAC mapping to be used by the scan.

Without arguments the mappings are read interactively.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 || len(args) > 2 {
				return kdterr.Errorf(kdterr.KindUsage, "hostname and mac must be given together")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New(verbose)
			store, err := config.OpenDefault()
			if err != nil {
				return err
			}

			var mappings []install.Mapping
			if len(args) == 2 {
				m, err := install.ParseMapping(args[0] + " " + args[1])
				if err != nil {
					return err
				}
				if err := install.AddHosts(store, m); err != nil {
					return err
				}
				mappings = append(mappings, m)
			} else {
				mappings, err = install.PromptHosts(store, install.NewPrompter(os.Stdin, os.Stdout))
				if err != nil {
					return err
				}
			}

			if db := openHistory(log); db != nil {
				defer db.Close()
				for _, m := range mappings {
					if err := mac.RecordMapping(db, m.Host, m.MAC); err != nil {
						log.Warnw("failed to record mapping", "host", m.Host, "error", err)
					}
				}
			}
			for _, m := range mappings {
				fmt.Printf("✅ %s %s\n", m.Host, m.MAC)
			}
			return nil
		},
	}
	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the hostnames found by the last scan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(layout.HostsFile)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", layout.HostsFile, err)
			}
			defer f.Close()

			lines, err := netscan.ListAdded(f)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", layout.HostsFile, err)
			}
			for _, line := range lines {
				fmt.Println(line)
			}
			return nil
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var (
		limit int
		prune time.Duration
	)

	cmd := &cobra.Command{
		Use:   "history [host]",
		Short: "Show where hosts have been seen by previous scans",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := mac.DatabasePath()
			if err != nil {
				return err
			}
			db, err := mac.OpenDatabase(path)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer db.Close()

			if prune > 0 {
				count, err := mac.Prune(db, prune)
				if err != nil {
					return fmt.Errorf("failed to prune history: %w", err)
				}
				fmt.Printf("Removed %d sighting(s) older than %s\n", count, prune)
				return nil
			}

			if len(args) == 0 {
				hosts, err := mac.Hosts(db)
				if err != nil {
					return fmt.Errorf("failed to read history: %w", err)
				}
				if len(hosts) == 0 {
					fmt.Println("No sightings found")
					return nil
				}
				fmt.Printf("%-20s %-20s %-16s %-8s %s\n", "Host", "MAC Address", "IP Address", "Seen", "Last Seen")
				fmt.Println(strings.Repeat("-", 84))
				for _, h := range hosts {
					fmt.Printf("%-20s %-20s %-16s %-8d %s\n",
						h.Hostname, h.MACAddress, h.IPAddress, h.Count, h.LastSeen.Local().Format("2006-01-02 15:04"))
				}
				return nil
			}

			sightings, err := mac.ListSightings(db, args[0], limit)
			if err != nil {
				return fmt.Errorf("failed to read history: %w", err)
			}
			if len(sightings) == 0 {
				fmt.Printf("%s has not been seen\n", args[0])
				return nil
			}
			fmt.Printf("%-20s %-16s %s\n", "MAC Address", "IP Address", "Seen At")
			fmt.Println(strings.Repeat("-", 60))
			for _, s := range sightings {
				fmt.Printf("%-20s %-16s %s\n", s.MACAddress, s.IPAddress, s.SeenAt.Local().Format("2006-01-02 15:04"))
			}
			fmt.Printf("\nTotal: %d sighting(s)\n", len(sightings))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "Limit results")
	cmd.Flags().DurationVar(&prune, "prune", 0, "Delete sightings older than this age instead, e.g. 720h")
	return cmd
}
