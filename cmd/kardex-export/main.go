package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/kardex_backend/config"
	"github.com/mmdatafocus/kardex_backend/kardex"
	"github.com/mmdatafocus/kardex_backend/utils"
	"github.com/mmdatafocus/kardex_backend/workflow"
)

func main() {
	key := flag.String("key", "", "Required: group key {companyId}|{account}|{custodianId}|{instrumentId}")
	from := flag.String("from", "", "Optional: first date (YYYY-MM-DD)")
	to := flag.String("to", "", "Optional: last date (YYYY-MM-DD)")
	out := flag.String("out", "", "Output .xlsx path. Defaults to kardex_<company>_<custodian>_<instrument>.xlsx")
	gcs := flag.Bool("gcs", false, "Upload to GCS_BUCKET instead of writing a local file")
	sqlitePath := flag.String("sqlite", "", "Optional: export from a local SQLite file instead of MySQL")
	flag.Parse()

	k, err := kardex.ParseGroupKey(strings.TrimSpace(*key))
	if err != nil {
		fmt.Fprintf(os.Stderr, "--key: %v\n", err)
		os.Exit(1)
	}
	fromDate, err := utils.ParseOptionalDate(*from)
	if err != nil {
		fmt.Fprintf(os.Stderr, "--from: %v\n", err)
		os.Exit(1)
	}
	toDate, err := utils.ParseOptionalDate(*to)
	if err != nil {
		fmt.Fprintf(os.Stderr, "--to: %v\n", err)
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
	ctx := context.Background()

	if *gcs {
		uri, err := wf.ExportLedgerToGCS(ctx, k, fromDate, toDate)
		if err != nil {
			fmt.Fprintf(os.Stderr, "export: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(uri)
		return
	}

	data, err := wf.ExportLedger(ctx, k, fromDate, toDate)
	if err != nil {
		fmt.Fprintf(os.Stderr, "export: %v\n", err)
		os.Exit(1)
	}
	path := strings.TrimSpace(*out)
	if path == "" {
		path = fmt.Sprintf("kardex_%d_%d_%d.xlsx", k.CompanyID, k.CustodianID, k.InstrumentID)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", path, err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s (%d bytes)\n", path, len(data))
}
