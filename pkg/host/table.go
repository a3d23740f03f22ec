package host

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"
)

const never = "never"

// WriteTable prints the angle table : one row per group with the value and
// age of every angle type, stale entries are marked with '*'
func WriteTable(w io.Writer, groups []Group, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GROUP\tROLL\tAGE\tPITCH\tAGE\tHEADING\tAGE\tLAST")
	for _, g := range groups {
		fmt.Fprintf(tw, "%d", g.ID)
		for _, angleType := range AngleTypes {
			sample, ok := g.Angles[angleType]
			if !ok {
				fmt.Fprintf(tw, "\t--\t%v", never)
				continue
			}
			mark := ""
			if g.Stale(angleType, now) {
				mark = "*"
			}
			fmt.Fprintf(tw, "\t%v%v\t%v", sample.Value, mark, FormatElapsed(now.Sub(sample.Updated)))
		}
		if g.LastUpdate.IsZero() {
			fmt.Fprintf(tw, "\t%v\n", never)
		} else {
			fmt.Fprintf(tw, "\t%v\n", FormatElapsed(now.Sub(g.LastUpdate)))
		}
	}
	return tw.Flush()
}
