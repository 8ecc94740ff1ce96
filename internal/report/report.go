// Package report renders run plans, run results and sink counters for the console.
package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/malbeclabs/quicflood/internal/flood"
	"github.com/malbeclabs/quicflood/internal/packet"
	"github.com/malbeclabs/quicflood/internal/sink"
)

// PrintPlan writes the target, mode and the parameters that mode uses.
func PrintPlan(w io.Writer, cfg *flood.Config) {
	fmt.Fprintf(w, "Target: %s\n", cfg.Addr())
	fmt.Fprintf(w, "Mode: %s | Packet type: %s\n", cfg.Mode, cfg.Shape)
	switch cfg.Mode {
	case flood.ModeConstant:
		fmt.Fprintf(w, "Rate: %s pps | Duration: %ss\n", humanize.Comma(int64(cfg.Rate)), seconds(cfg.Duration))
	case flood.ModeBurst:
		fmt.Fprintf(w, "Packets: %s\n", humanize.Comma(int64(cfg.Packets)))
	case flood.ModeRamp:
		fmt.Fprintf(w, "Max rate: %s pps | Duration: %ss\n", humanize.Comma(int64(cfg.MaxRate)), seconds(cfg.Duration))
	case flood.ModeChaos:
		fmt.Fprintf(w, "Duration: %ss\n", seconds(cfg.Duration))
	}
}

// PrintResult writes the run summary. savedPath is omitted when empty.
func PrintResult(w io.Writer, res *flood.Result, savedPath string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Results:")
	fmt.Fprintf(w, "  Sent: %s packets\n", humanize.Comma(res.Sent))
	fmt.Fprintf(w, "  Bytes: %s\n", humanize.Comma(res.Bytes))
	fmt.Fprintf(w, "  Elapsed: %.2fs\n", res.Elapsed)
	fmt.Fprintf(w, "  Rate: %s pps\n", humanize.Comma(int64(res.PPS)))
	fmt.Fprintf(w, "  Throughput: %.2f Mbps\n", res.Mbps)
	if res.Failed > 0 {
		fmt.Fprintf(w, "  Failed: %s\n", humanize.Comma(res.Failed))
	}
	if savedPath != "" {
		fmt.Fprintf(w, "  Saved: %s\n", savedPath)
	}
}

// PrintSinkStats writes one row per packet shape plus a total row.
func PrintSinkStats(w io.Writer, s sink.Stats) {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetHeader([]string{"Type", "Packets", "Bytes", "Share\n(%)"})

	for _, shape := range packet.Shapes() {
		st := s.Shapes[shape]
		table.Append([]string{
			shape.String(),
			humanize.Comma(int64(st.Packets)),
			humanize.Comma(int64(st.Bytes)),
			fmt.Sprintf("%.1f", share(st.Packets, s.Packets)),
		})
	}
	table.SetFooter([]string{
		"total",
		humanize.Comma(int64(s.Packets)),
		humanize.Comma(int64(s.Bytes)),
		fmt.Sprintf("%s pps", humanize.Comma(int64(s.PPS()))),
	})
	table.Render()
}

func share(n, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
