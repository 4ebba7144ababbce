package benchstat

import (
	"fmt"
	"io"
)

// WriteMarkdown writes c as a Markdown section.
func WriteMarkdown(w io.Writer, title string, c Comparison) {
	fmt.Fprintf(w, "## %s\n\n", title)
	fmt.Fprintf(w, "| Metric (ms) | %s | %s |\n", c.NameA, c.NameB)
	fmt.Fprintln(w, "|---|---|---|")
	row := func(name string, a, b float64) {
		fmt.Fprintf(w, "| %s | %.3f | %.3f |\n", name, a, b)
	}
	fmt.Fprintf(w, "| N | %d | %d |\n", c.A.N, c.B.N)
	row("Mean", c.A.Mean, c.B.Mean)
	row("Std Dev", c.A.StdDev, c.B.StdDev)
	row("P50", c.A.P50, c.B.P50)
	row("P90", c.A.P90, c.B.P90)
	row("P99", c.A.P99, c.B.P99)
	row("Max", c.A.Max, c.B.Max)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "- **Mann-Whitney U:** %.1f (z=%.2f, p=%.4f)\n", c.Test.U, c.Test.Z, c.Test.PValue)
	fmt.Fprintf(w, "- **Effect size (Cohen's d):** %.2f (%s)\n", c.EffectSize, c.Effect)
	if c.Speedup > 0 {
		fmt.Fprintf(w, "- **Speedup:** %.1fx\n", c.Speedup)
	}
	verdict := "not significant"
	if c.Test.Significant {
		verdict = "significant"
	}
	fmt.Fprintf(w, "- **Faster:** %s (%s)\n\n", c.Winner, verdict)
}
