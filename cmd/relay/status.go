package relay

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/igorsilveira/relay/pkg/channels"
	"github.com/igorsilveira/relay/pkg/config"
	"github.com/igorsilveira/relay/pkg/statusapi"
	"github.com/igorsilveira/relay/pkg/telemetry"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the connection status of every running adapter",
	RunE:  runStatus,
}

type statusReport struct {
	Ready    bool              `json:"ready"`
	Channels []channels.Status `json:"channels"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	url := statusURL(config.Current(), "/status")
	logger := telemetry.FromContext(cmd.Context())

	ctx, span := telemetry.StartSpan(cmd.Context(), "cli.status")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		telemetry.EndSpan(span, err)
		return fmt.Errorf("building status request: %w", err)
	}

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Do(req)
	telemetry.EndSpan(span, err)
	if err != nil {
		logger.Debug("status request failed", slog.String("url", url), slog.String("err", err.Error()))
		fmt.Println("status: relay is not running")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Printf("status: relay returned %s\n", resp.Status)
		return nil
	}

	var report statusReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return fmt.Errorf("decoding status: %w", err)
	}
	printStatus(cmd.OutOrStdout(), report)
	return nil
}

func printStatus(w io.Writer, report statusReport) {
	if len(report.Channels) == 0 {
		fmt.Fprintln(w, "No channels running.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHANNEL\tSTATE\tMODE\tLAST ERROR")
	for _, st := range report.Channels {
		lastErr := st.LastError
		if lastErr == "" {
			lastErr = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", st.Channel, st.State, st.Mode, lastErr)
	}
	tw.Flush()

	for _, st := range report.Channels {
		if st.QRChallenge != "" {
			fmt.Fprintf(w, "\n%s is waiting for a QR scan. Challenge:\n%s\n", st.Channel, st.QRChallenge)
		}
	}

	if report.Ready {
		fmt.Fprintln(w, "\nready")
	} else {
		fmt.Fprintln(w, "\nnot ready")
	}
}

func statusURL(cfg *config.Config, path string) string {
	bind := cfg.Status.Bind
	if bind == "lan" || bind == "all" || bind == "0.0.0.0" {
		bind = "loopback"
	}
	return "http://" + statusapi.ResolveAddr(bind, cfg.Status.Port) + "/" + strings.TrimPrefix(path, "/")
}
