package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/kardex_backend/config"
	"github.com/mmdatafocus/kardex_backend/utils"
	"github.com/mmdatafocus/kardex_backend/workflow"
)

func main() {
	key := flag.String("key", "", "Group key {companyId}|{account}|{custodianId}|{instrumentId}")
	companyID := flag.Int64("company", 0, "Recost every group of this company instead of one key")
	continueOnError := flag.Bool("continue-on-error", false, "With --company: skip failing groups and continue")
	sqlitePath := flag.String("sqlite", "", "Optional: run against a local SQLite file instead of MySQL")
	flag.Parse()

	if (strings.TrimSpace(*key) == "") == (*companyID == 0) {
		fmt.Fprintln(os.Stderr, "exactly one of --key or --company is required")
		os.Exit(1)
	}

	if err := workflow.Connect(*sqlitePath); err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	wf, err := workflow.NewFromConfig(config.GetLogger())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	ctx := utils.SetTriggerInContext(context.Background(), "cli")

	if *companyID != 0 {
		res, err := wf.RecostCompany(ctx, *companyID, *continueOnError)
		for _, o := range res.Recosted {
			fmt.Printf("recosted group=%s processed=%d entries=%d flagged=%d\n", o.Group, o.Processed, o.EntriesAppended, len(o.Flagged))
		}
		for _, f := range res.Failed {
			fmt.Fprintf(os.Stderr, "failed group=%s: %s\n", f.Group, f.Reason)
		}
		fmt.Printf("company=%d recosted=%d failed=%d\n", *companyID, len(res.Recosted), len(res.Failed))
		if err != nil {
			os.Exit(1)
		}
		return
	}

	o, err := wf.Recost(ctx, strings.TrimSpace(*key))
	if err != nil {
		fmt.Fprintf(os.Stderr, "recost %s: %v\n", *key, err)
		os.Exit(1)
	}
	fmt.Printf("recosted group=%s processed=%d entries=%d flagged=%d\n", o.Group, o.Processed, o.EntriesAppended, len(o.Flagged))
	if o.Balance != nil {
		fmt.Printf("balance quantity=%s total_cost=%s\n", o.Balance.Quantity, o.Balance.TotalCost)
	}
}
