package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jomardyan/FlexiFocus/internal/methods"
)

func newMethodsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "methods",
		Short: "List the built-in timing methods",
		Run: func(cmd *cobra.Command, args []string) {
			printMethods(cmd.OutOrStdout())
		},
	}
}

func printMethods(out io.Writer) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tLABEL\tWORK\tBREAK\tLONG BREAK\tCYCLES")
	for _, m := range methods.Catalog() {
		if m.Flexible {
			fmt.Fprintf(w, "%s\t%s\tflexible\t~%dm\t-\t-\n", m.Key, m.Label, m.SuggestedBreakMinutes)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%dm\t%dm\t%dm\t%d\n",
			m.Key, m.Label, m.WorkMinutes, m.ShortBreakMinutes, m.LongBreakMinutes, m.CyclesBeforeLongBreak)
	}
	w.Flush()
}
