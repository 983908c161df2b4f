package swap

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func probeResult(kind string) *Result {
	return &Result{
		TradeID:         uuid.New(),
		Kind:            kind,
		Success:         true,
		DryRun:          true,
		InputMint:       WSOLMint,
		OutputMint:      testMint,
		InAmountSOL:     0.1,
		OutAmount:       5_000_000,
		PriceImpactPct:  0.9,
		EstimatedFeeSOL: defaultFeeSOL,
		TotalCostSOL:    0.000905,
		CostPercent:     0.00905,
	}
}

func TestDryRunReport_AppendsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "probes.csv")
	report := NewDryRunReport(path, zerolog.Nop())

	require.NoError(t, report.Append(probeResult(KindSingle)))
	require.NoError(t, report.Append(probeResult(KindRoundTrip)))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3, "one header and two probes")

	assert.Equal(t, reportHeader, rows[0])
	assert.Equal(t, KindSingle, rows[1][2])
	assert.Equal(t, KindRoundTrip, rows[2][2])
	assert.Equal(t, WSOLMint, rows[1][3])
	assert.Equal(t, testMint, rows[1][4])
	assert.NotEmpty(t, rows[1][1], "trade id recorded")
	assert.Equal(t, "0.009050", rows[1][10])
	assert.Equal(t, "false", rows[1][11])
}

func TestDryRunReport_HeaderWrittenOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "probes.csv")

	// Two report instances against the same file, as after a restart.
	first := NewDryRunReport(path, zerolog.Nop())
	require.NoError(t, first.Append(probeResult(KindSingle)))

	second := NewDryRunReport(path, zerolog.Nop())
	require.NoError(t, second.Append(probeResult(KindSingle)))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, reportHeader, rows[0])
	assert.NotEqual(t, reportHeader, rows[1])
}

func TestDryRunReport_DisabledWithoutPath(t *testing.T) {
	report := NewDryRunReport("", zerolog.Nop())
	require.NoError(t, report.Append(probeResult(KindSingle)))
}

func TestDryRunReport_NilReceiver(t *testing.T) {
	var report *DryRunReport
	require.NoError(t, report.Append(probeResult(KindSingle)))
}
