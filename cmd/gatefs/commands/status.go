package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/marmos91/gatefs/pkg/apiclient"
)

var statusFlags struct {
	path       string
	jsonOut    bool
	audit      int
	brokerHost string
	brokerPort int
	socket     string
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show broker queue status",
	Long: `Show the broker's per-path lock queues.

Granted entries hold the lock; waiting entries are queued behind them in
grant order. Use --path to inspect a single path and --json for
machine-readable output.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusFlags.path, "path", "", "show a single path only")
	statusCmd.Flags().BoolVar(&statusFlags.jsonOut, "json", false, "emit JSON instead of a table")
	statusCmd.Flags().IntVar(&statusFlags.audit, "audit", 0, "also show the last N audit records")
	statusCmd.Flags().StringVar(&statusFlags.brokerHost, "broker-host", "", "broker address (env GATE_BROKER_HOST)")
	statusCmd.Flags().IntVar(&statusFlags.brokerPort, "broker-port", 0, "broker port (env GATE_BROKER_PORT)")
	statusCmd.Flags().StringVar(&statusFlags.socket, "socket", "", "broker Unix domain socket (overrides host/port)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	host := cfg.Mount.BrokerHost
	port := cfg.Mount.BrokerPort
	socket := cfg.Mount.Socket
	if statusFlags.brokerHost != "" {
		host = statusFlags.brokerHost
	}
	if statusFlags.brokerPort != 0 {
		port = statusFlags.brokerPort
	}
	if statusFlags.socket != "" {
		socket = statusFlags.socket
	}

	var client *apiclient.Client
	if socket != "" {
		client = apiclient.NewUnix(socket)
	} else {
		client = apiclient.New(host, port)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	paths, err := client.Status(ctx, statusFlags.path)
	if err != nil {
		return fmt.Errorf("failed to query broker: %w", err)
	}

	var audit []apiclient.AuditRecord
	if statusFlags.audit > 0 {
		audit, err = client.Audit(ctx, statusFlags.audit)
		if err != nil {
			return fmt.Errorf("failed to query audit log: %w", err)
		}
	}

	if statusFlags.jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		out := struct {
			Paths []apiclient.PathStatus   `json:"paths"`
			Audit []apiclient.AuditRecord  `json:"audit,omitempty"`
		}{Paths: paths, Audit: audit}
		return enc.Encode(out)
	}

	if len(paths) == 0 {
		fmt.Println("no locks held or queued")
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Path", "Owner", "Mode", "State", "Holds", "Request", "Enqueued", "Granted"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)

	for _, ps := range paths {
		for _, e := range ps.Entries {
			granted := ""
			if !e.GrantedAt.IsZero() {
				granted = e.GrantedAt.Local().Format(time.RFC3339)
			}
			table.Append([]string{
				ps.Path,
				shortOwner(e.Owner),
				e.Mode,
				e.State,
				fmt.Sprintf("%d", e.HoldCount),
				fmt.Sprintf("%d", e.RequestID),
				e.EnqueuedAt.Local().Format(time.RFC3339),
				granted,
			})
		}
	}
	if len(paths) > 0 {
		table.Render()
	}

	if len(audit) > 0 {
		fmt.Println()
		auditTable := tablewriter.NewWriter(os.Stdout)
		auditTable.SetHeader([]string{"Seq", "Time", "Event", "Path", "Owner", "Mode"})
		auditTable.SetBorder(false)
		auditTable.SetAutoWrapText(false)
		for _, rec := range audit {
			auditTable.Append([]string{
				fmt.Sprintf("%d", rec.Seq),
				rec.Timestamp.Local().Format(time.RFC3339),
				rec.Event,
				rec.Path,
				shortOwner(rec.Owner),
				rec.Mode,
			})
		}
		auditTable.Render()
	}
	return nil
}

// shortOwner trims UUID owner tokens for table display.
func shortOwner(owner string) string {
	if len(owner) > 13 {
		return owner[:13] + "…"
	}
	return owner
}
