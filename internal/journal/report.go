package journal

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
)

// WriteSummary renders the end-of-day report as a console table.
func WriteSummary(w io.Writer, sum DaySummary) {
	fmt.Fprintf(w, "\n=== %s: %d signal(s), %d trade(s), P&L %.2f ===\n",
		sum.Day, sum.Signals, len(sum.Trades), sum.TotalPnL)
	if len(sum.Trades) == 0 {
		fmt.Fprintln(w, "no trades")
		return
	}

	table := tablewriter.NewWriter(w)
	table.Header("Symbol", "Qty", "Entry", "Exit", "Reason", "P&L", "P&L %")
	for _, t := range sum.Trades {
		table.Append(
			t.Symbol,
			fmt.Sprintf("%d", t.Quantity),
			fmt.Sprintf("%.2f", t.EntryPrice),
			fmt.Sprintf("%.2f", t.ExitPrice),
			t.ExitReason,
			fmt.Sprintf("%.2f", t.PnL),
			fmt.Sprintf("%.2f%%", t.PnLPercent),
		)
	}
	table.Render()
	fmt.Fprintf(w, "wins: %d  losses: %d\n", sum.WinCount, sum.LossCount)
}
