package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/odyssey-erp/odyssey-ledger/cmd/ledgerctl/cli"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

const usage = `usage: ledgerctl <command> [flags]

commands:
  trigger <job>   enqueue a job (ledger:verify-projection, inventory:low-stock-scan, maintenance:idempotency-cleanup)
  queue           show default queue statistics
  scheduled       list scheduled tasks
  verify          verify the stock projection against the ledger now
`

func main() {
	_ = godotenv.Load()
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	os.Exit(run(ctx, cfg, os.Args[1], os.Args[2:]))
}

func run(ctx context.Context, cfg *app.Config, command string, args []string) int {
	switch command {
	case "trigger":
		fs := flag.NewFlagSet("trigger", flag.ExitOnError)
		repair := fs.Bool("repair", false, "rebuild drifted rows (verify-projection only)")
		olderThan := fs.Duration("older-than", 0, "retention for idempotency-cleanup (default 7 days)")
		_ = fs.Parse(args)
		if fs.NArg() != 1 {
			fmt.Fprint(os.Stderr, usage)
			return 1
		}
		jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
		defer jobsCLI.Close()
		info, err := jobsCLI.Trigger(ctx, fs.Arg(0), cli.TriggerOptions{Repair: *repair, OlderThan: *olderThan})
		if err != nil {
			fmt.Fprintf(os.Stderr, "trigger: %v\n", err)
			return 1
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return 0

	case "queue":
		jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
		defer jobsCLI.Close()
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "queue: %v\n", err)
			return 1
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
		return 0

	case "scheduled":
		fs := flag.NewFlagSet("scheduled", flag.ExitOnError)
		size := fs.Int("size", 10, "page size")
		_ = fs.Parse(args)
		jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
		defer jobsCLI.Close()
		tasks, err := jobsCLI.ListScheduled(ctx, *size)
		if err != nil {
			fmt.Fprintf(os.Stderr, "scheduled: %v\n", err)
			return 1
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTYPE\tNEXT")
		for _, t := range tasks {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", t.ID, t.Type, t.NextProcessAt.Format(time.RFC3339))
		}
		_ = tw.Flush()
		return 0

	case "verify":
		fs := flag.NewFlagSet("verify", flag.ExitOnError)
		repair := fs.Bool("repair", false, "rebuild drifted rows")
		asJSON := fs.Bool("json", false, "print JSON")
		_ = fs.Parse(args)
		policy, _ := cfg.OversellPolicy()
		pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
		if err != nil {
			fmt.Fprintf(os.Stderr, "connect database: %v\n", err)
			return 1
		}
		defer pool.Close()
		service := ledger.NewService(ledger.NewRepository(pool), ledger.ServiceConfig{Policy: policy})
		return cli.VerifyCommand(ctx, service, cli.VerifyOptions{
			Repair:     *repair,
			JSONOutput: *asJSON,
			Stdout:     os.Stdout,
			Stderr:     os.Stderr,
		})

	default:
		fmt.Fprint(os.Stderr, usage)
		return 1
	}
}
