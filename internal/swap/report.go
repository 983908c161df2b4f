package swap

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var reportHeader = []string{
	"time", "trade_id", "kind", "input_mint", "output_mint",
	"in_amount_sol", "out_amount", "price_impact_pct",
	"estimated_fee_sol", "total_cost_sol", "cost_percent",
	"synthetic", "reason",
}

// DryRunReport appends one CSV row per dry-run probe so a paper
// session leaves an auditable cost trail.
type DryRunReport struct {
	path string
	mu   sync.Mutex
	log  zerolog.Logger
}

// NewDryRunReport builds the report writer. An empty path disables it.
func NewDryRunReport(path string, log zerolog.Logger) *DryRunReport {
	return &DryRunReport{
		path: path,
		log:  log.With().Str("component", "dry_run_report").Logger(),
	}
}

// Append writes one probe result. The header is written when the file
// is created.
func (r *DryRunReport) Append(res *Result) error {
	if r == nil || r.path == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	info, statErr := os.Stat(r.path)
	fresh := statErr != nil || info.Size() == 0

	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open dry-run report: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if fresh {
		if err := w.Write(reportHeader); err != nil {
			return fmt.Errorf("write report header: %w", err)
		}
	}

	row := []string{
		time.Now().UTC().Format(time.RFC3339),
		res.TradeID.String(),
		res.Kind,
		res.InputMint,
		res.OutputMint,
		strconv.FormatFloat(res.InAmountSOL, 'f', 9, 64),
		strconv.FormatFloat(res.OutAmount, 'f', -1, 64),
		strconv.FormatFloat(res.PriceImpactPct, 'f', 4, 64),
		strconv.FormatFloat(res.EstimatedFeeSOL, 'f', 9, 64),
		strconv.FormatFloat(res.TotalCostSOL, 'f', 9, 64),
		strconv.FormatFloat(res.CostPercent, 'f', 6, 64),
		strconv.FormatBool(res.Synthetic),
		res.Reason,
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("write report row: %w", err)
	}
	w.Flush()
	return w.Error()
}
