package relay

import (
	"context"
	"fmt"
	"sort"

	"github.com/igorsilveira/relay/pkg/channels"
	"github.com/igorsilveira/relay/pkg/config"
	"github.com/igorsilveira/relay/pkg/store"
	"github.com/igorsilveira/relay/pkg/telemetry"
	"github.com/spf13/cobra"
)

var logCmd = &cobra.Command{
	Use:   "log [channel source-id [thread-id]]",
	Short: "Show logged envelopes for a conversation, or per-channel totals",
	Args:  cobra.RangeArgs(0, 3),
	RunE:  runLog,
}

var logLimit int

func init() {
	logCmd.Flags().IntVar(&logLimit, "limit", 20, "maximum number of envelopes")
}

func runLog(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		return fmt.Errorf("a source ID is required with a channel")
	}

	db, err := store.New(config.Current().Store.DSN)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	if len(args) == 0 {
		return printCounts(ctx, db)
	}

	key := channels.ConversationKey{Channel: args[0], SourceID: args[1]}
	if len(args) == 3 {
		key.ThreadID = args[2]
	}

	recs, err := db.Recent(ctx, key, logLimit)
	if err != nil {
		return fmt.Errorf("reading envelopes: %w", err)
	}
	if len(recs) == 0 {
		fmt.Println("No envelopes found.")
		return nil
	}

	for _, r := range recs {
		ts := r.CreatedAt.Format("2006-01-02 15:04:05")
		who := r.SenderName
		if r.Direction == store.DirectionOutbound {
			who = "relay (" + r.Status + ")"
		}
		fmt.Printf("[%s] %-8s %-20s %s\n", ts, r.Direction, who, telemetry.Sanitize(r.Content))
	}
	return nil
}

func printCounts(ctx context.Context, db *store.Store) error {
	counts, err := db.Counts(ctx)
	if err != nil {
		return fmt.Errorf("counting envelopes: %w", err)
	}
	if len(counts) == 0 {
		fmt.Println("No envelopes logged.")
		return nil
	}

	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		c := counts[name]
		fmt.Printf("%-12s inbound=%-6d outbound=%d\n", name, c[store.DirectionInbound], c[store.DirectionOutbound])
	}
	return nil
}
