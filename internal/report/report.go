// Package report formats a dr.Aggregate into the column table spec.md §6
// asks for: one row per channel plus an Official DR summary line. Layout
// follows internal/cli's key/value styling rather than a third-party table
// library — none of the example repos pull one in for CLI output, they all
// hand-format with lipgloss + text/tabwriter-style column alignment.
package report

import (
	"fmt"
	"io"
	"math"
	"text/tabwriter"

	"github.com/linuxmatters/drmeter/internal/cli"
	"github.com/linuxmatters/drmeter/internal/dr"
)

// WriteTable renders one channel-by-channel DR table plus the Official DR
// summary line to w. fileName is printed as a header so batch runs can be
// told apart in redirected output.
func WriteTable(w io.Writer, fileName string, agg dr.Aggregate) {
	fmt.Fprintln(w, cli.HeaderStyle.Render(fileName))

	if agg.NoValid {
		fmt.Fprintln(w, cli.ErrorStyle.Render("No channel produced a valid DR measurement."))
		return
	}

	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "Channel\tDR\tRMS(20%)\tPeak(2nd)\tGlobal Peak\tGlobal RMS")
	for _, r := range agg.Results {
		fmt.Fprintf(tw, "%d\tDR%d\t%.2f dB\t%.2f dB\t%.2f dB\t%.2f dB\n",
			r.ChannelIndex,
			int(r.DRValue+0.5),
			linearToDB(r.RMS),
			linearToDB(r.Peak),
			linearToDB(r.GlobalPeak),
			linearToDB(r.GlobalRMS),
		)
	}
	tw.Flush()

	fmt.Fprintln(w)
	summary := fmt.Sprintf("Official DR: %s", cli.HighlightStyle.Render(fmt.Sprintf("DR%d", agg.OfficialDR)))
	fmt.Fprintln(w, cli.SuccessStyle.Render(summary))
	fmt.Fprintf(w, "%s %.3f\n", cli.KeyStyle.Render("Precise DR:"), agg.PreciseDR)

	if agg.BoundaryHit {
		fmt.Fprintln(w, cli.PrintWarningString("Result sits within 0.05 of a rounding boundary; re-measurement may shift the Official DR by 1."))
	}
}

// linearToDB converts a linear amplitude value (RMS or peak, both already
// in [0,1]) to dBFS for display. A non-positive input (a silent or
// already-excluded channel) reports -infinity as a large negative number
// rather than NaN, so table columns stay numeric.
func linearToDB(v float64) float64 {
	if v <= 0 {
		return -144.0
	}
	return 20 * math.Log10(v)
}
