package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
)

// Verifier checks the stock projection against the ledger.
type Verifier interface {
	Verify(ctx context.Context) ([]ledger.Drift, error)
	Rebuild(ctx context.Context, itemCode string) (ledger.Drift, error)
}

// VerifyOptions configures a synchronous verification run.
type VerifyOptions struct {
	Repair     bool
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// VerifySummary is the structured outcome of a run.
type VerifySummary struct {
	Drifted  []ledger.Drift `json:"drifted"`
	Repaired []string       `json:"repaired,omitempty"`
}

// VerifyCommand runs verification inline and returns the process exit code:
// 0 when clean or fully repaired, 2 when drift remains, 1 on failure.
func VerifyCommand(ctx context.Context, verifier Verifier, opts VerifyOptions) int {
	drifts, err := verifier.Verify(ctx)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "verify: %v\n", err)
		return 1
	}
	summary := VerifySummary{Drifted: drifts}
	if opts.Repair {
		for _, d := range drifts {
			if _, err := verifier.Rebuild(ctx, d.ItemCode); err != nil {
				fmt.Fprintf(opts.Stderr, "rebuild %s: %v\n", d.ItemCode, err)
				return 1
			}
			summary.Repaired = append(summary.Repaired, d.ItemCode)
		}
	}

	if opts.JSONOutput {
		enc := json.NewEncoder(opts.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			fmt.Fprintf(opts.Stderr, "encode: %v\n", err)
			return 1
		}
	} else {
		writeDrifts(opts.Stdout, summary)
	}

	if len(drifts) > len(summary.Repaired) {
		return 2
	}
	return 0
}

func writeDrifts(w io.Writer, summary VerifySummary) {
	if len(summary.Drifted) == 0 {
		fmt.Fprintln(w, "projection matches ledger")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ITEM\tPROJECTED\tREPLAYED\tMOVEMENTS")
	for _, d := range summary.Drifted {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", d.ItemCode, d.Projected, d.Replayed, d.Movements)
	}
	_ = tw.Flush()
	if len(summary.Repaired) > 0 {
		fmt.Fprintf(w, "repaired %d item(s)\n", len(summary.Repaired))
	}
}
