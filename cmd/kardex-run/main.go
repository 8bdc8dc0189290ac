package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/mmdatafocus/kardex_backend/config"
	"github.com/mmdatafocus/kardex_backend/utils"
	"github.com/mmdatafocus/kardex_backend/workflow"
)

func main() {
	sqlitePath := flag.String("sqlite", "", "Optional: run against a local SQLite file instead of MySQL")
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

	ctx := utils.SetTriggerInContext(context.Background(), "cli")
	report, runErr := wf.Run(ctx)

	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "costing run finished with errors: %v\n", runErr)
		os.Exit(1)
	}
}
