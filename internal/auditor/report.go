package auditor

import (
	"fmt"
	"io"
)

// WriteText prints a minimal human-readable rendering of a Report. This
// format is not a wire contract: nothing else in this module parses it.
func WriteText(w io.Writer, r *Report) {
	fmt.Fprintf(w, "audit: %d agents, %d rows checked\n", r.AgentsChecked, r.RowsChecked)
	if r.OK() {
		fmt.Fprintln(w, "audit: OK, no integrity failures found")
		return
	}
	fmt.Fprintf(w, "audit: %d failure(s)\n", len(r.Failures))
	for _, f := range r.Failures {
		fmt.Fprintf(w, "  agent=%s row_id=%d reason=%s\n", f.AgentID, f.RowID, f.Reason)
	}
}
