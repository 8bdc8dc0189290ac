package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/kardex_backend/config"
	"github.com/mmdatafocus/kardex_backend/kardex"
	"github.com/mmdatafocus/kardex_backend/workflow"
)

// kardex-verify re-folds every ledger and reports groups whose running totals
// do not match their rows. Exit status 1 when any group fails.
func main() {
	key := flag.String("key", "", "Optional: verify one group key. Defaults to all groups.")
	companyID := flag.Int64("company", 0, "Optional: only verify groups of this company")
	sqlitePath := flag.String("sqlite", "", "Optional: verify a local SQLite file instead of MySQL")
	flag.Parse()

	if err := workflow.Connect(*sqlitePath); err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	wf, err := workflow.NewFromConfig(config.GetLogger())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	engine := wf.Engine()
	ctx := context.Background()

	var keys []kardex.GroupKey
	if strings.TrimSpace(*key) != "" {
		k, err := kardex.ParseGroupKey(strings.TrimSpace(*key))
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		keys = append(keys, k)
	} else {
		all, err := engine.Groups(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "list groups: %v\n", err)
			os.Exit(1)
		}
		for _, k := range all {
			if *companyID == 0 || k.CompanyID == *companyID {
				keys = append(keys, k)
			}
		}
	}

	failed := 0
	for _, k := range keys {
		if err := engine.VerifyGroup(ctx, k); err != nil {
			failed++
			fmt.Printf("FAIL %s: %v\n", k, err)
			continue
		}
		fmt.Printf("ok   %s\n", k)
	}
	fmt.Printf("verified=%d failed=%d\n", len(keys), failed)
	if failed > 0 {
		os.Exit(1)
	}
}
