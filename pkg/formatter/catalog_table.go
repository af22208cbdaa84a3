package formatter

import (
	"fmt"
	"io"

	"github.com/younsl/spotnode/internal/models"
)

// PrintCatalogTable prints the instance catalog in preference order
func PrintCatalogTable(w io.Writer, profiles []models.InstanceProfile) {
	tw := newTable(w)
	fmt.Fprintln(tw, "#\tTYPE\tGPU\tVCPU\tRAM\tARCH\tSTORAGE\tSCORE\tIMAGES")
	for i, p := range profiles {
		fmt.Fprintf(tw, "%d\t%s\t%dx %s\t%d\t%.0fG\t%s\t%s\t%d\t%d\n",
			i+1,
			p.InstanceType,
			p.GPUCount,
			p.GPUType,
			p.VCPUs,
			p.RAMGB,
			p.Architecture,
			orDash(p.LocalStorage),
			p.PerformanceScore,
			len(p.Images),
		)
	}
	tw.Flush()
}
