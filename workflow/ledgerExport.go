package workflow

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/mmdatafocus/kardex_backend/kardex"
	"github.com/mmdatafocus/kardex_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	ledgerSheet = "Kardex"
	dailySheet  = "Daily"
)

var ledgerHeaders = []interface{}{
	"Sequence", "Date", "Transaction", "Kind",
	"Acquired Qty", "Acquired Unit Cost",
	"Consumed Qty", "Consumed Unit Cost", "Lot", "Lot Date",
	"Disposal Price", "Realized Result",
	"Running Qty", "Running Total Cost", "Average Cost",
}

var dailyHeaders = []interface{}{"Date", "Quantity", "Total Cost", "Average Cost"}

func decimalCell(d decimal.Decimal) interface{} {
	f, _ := d.Float64()
	return f
}

func dateCell(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(utils.DateLayout)
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

// WriteLedgerWorkbook renders ledger rows and daily balances of one group.
func WriteLedgerWorkbook(key kardex.GroupKey, entries []kardex.LedgerEntry, daily []kardex.DailyBalance) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", ledgerSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(dailySheet); err != nil {
		return nil, err
	}
	if err := f.SetDocProps(&excelize.DocProperties{Title: "Kardex " + key.String()}); err != nil {
		return nil, err
	}

	if err := writeRow(f, ledgerSheet, 1, ledgerHeaders); err != nil {
		return nil, err
	}
	for i, e := range entries {
		lotDate := ""
		if e.LotAcquisitionDate != nil {
			lotDate = dateCell(*e.LotAcquisitionDate)
		}
		row := []interface{}{
			e.Sequence, dateCell(e.Date), e.TransactionID, string(e.Kind),
			decimalCell(e.AcquiredQuantity), decimalCell(e.AcquiredUnitCost),
			decimalCell(e.ConsumedQuantity), decimalCell(e.ConsumedUnitCost), e.LotSequence, lotDate,
			decimalCell(e.DisposalUnitPrice), decimalCell(e.RealizedResult),
			decimalCell(e.RunningQuantity), decimalCell(e.RunningTotalCost), decimalCell(e.AverageCost()),
		}
		if err := writeRow(f, ledgerSheet, i+2, row); err != nil {
			return nil, err
		}
	}

	if err := writeRow(f, dailySheet, 1, dailyHeaders); err != nil {
		return nil, err
	}
	for i, b := range daily {
		row := []interface{}{dateCell(b.Date), decimalCell(b.Quantity), decimalCell(b.TotalCost), decimalCell(b.AverageCost)}
		if err := writeRow(f, dailySheet, i+2, row); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// ExportLedger renders the group ledger in [from, to] as xlsx bytes.
func (w *CostingWorkflow) ExportLedger(ctx context.Context, key kardex.GroupKey, from, to time.Time) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "kardex.export")
	defer span.End()

	if err := key.Validate(); err != nil {
		return nil, err
	}
	entries, err := w.engine.EntriesInRange(ctx, key, from, to)
	if err != nil {
		return nil, err
	}
	daily, err := w.engine.DailyBalances(ctx, key, from, to)
	if err != nil {
		return nil, err
	}
	f, err := WriteLedgerWorkbook(key, entries, daily)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExportObjectName is the GCS object path of a ledger export.
func ExportObjectName(key kardex.GroupKey, at time.Time) string {
	return fmt.Sprintf("kardex/%d/%s_%d_%d_%s.xlsx",
		key.CompanyID, key.Account, key.CustodianID, key.InstrumentID, at.UTC().Format("20060102T150405"))
}

// ExportLedgerToGCS renders the export and uploads it to GCS_BUCKET.
func (w *CostingWorkflow) ExportLedgerToGCS(ctx context.Context, key kardex.GroupKey, from, to time.Time) (string, error) {
	data, err := w.ExportLedger(ctx, key, from, to)
	if err != nil {
		return "", err
	}
	return utils.UploadBytesToGCS(ctx, ExportObjectName(key, time.Now()), data, utils.XlsxContentType)
}
