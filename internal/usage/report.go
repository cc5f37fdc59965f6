package usage

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/incentive-match/internal/cost"
	"github.com/sells-group/incentive-match/internal/model"
)

// Totals aggregates usage for one source.
type Totals struct {
	Source           string
	Calls            int
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
}

// Summary is the usage report: one row per source plus the grand total.
type Summary struct {
	BySource []Totals
	Total    Totals
}

// Summarize groups records by source, sorted by descending cost.
func Summarize(records []model.UsageRecord) Summary {
	bySource := make(map[string]*Totals)
	sum := Summary{Total: Totals{Source: "TOTAL"}}

	for _, rec := range records {
		t, ok := bySource[rec.Source]
		if !ok {
			t = &Totals{Source: rec.Source}
			bySource[rec.Source] = t
		}
		for _, acc := range []*Totals{t, &sum.Total} {
			acc.Calls++
			acc.PromptTokens += rec.PromptTokens
			acc.CompletionTokens += rec.CompletionTokens
			acc.CostUSD += rec.EstimatedCostUSD
		}
	}

	for _, t := range bySource {
		t.CostUSD = cost.Round(t.CostUSD)
		sum.BySource = append(sum.BySource, *t)
	}
	sum.Total.CostUSD = cost.Round(sum.Total.CostUSD)

	sort.Slice(sum.BySource, func(i, j int) bool {
		if sum.BySource[i].CostUSD != sum.BySource[j].CostUSD {
			return sum.BySource[i].CostUSD > sum.BySource[j].CostUSD
		}
		return sum.BySource[i].Source < sum.BySource[j].Source
	})
	return sum
}

// WriteTable renders the summary as an aligned text table.
func (s Summary) WriteTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tCALLS\tPROMPT\tCOMPLETION\tCOST_USD")
	for _, t := range append(append([]Totals{}, s.BySource...), s.Total) {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.6f\n", t.Source, t.Calls, t.PromptTokens, t.CompletionTokens, t.CostUSD)
	}
	return tw.Flush()
}

// WriteXLSX saves the summary as a single-sheet workbook.
func (s Summary) WriteXLSX(path string) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("usage")
	if err != nil {
		return eris.Wrap(err, "usage: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range []string{"source", "calls", "prompt_tokens", "completion_tokens", "estimated_cost_usd"} {
		header.AddCell().SetString(h)
	}
	for _, t := range append(append([]Totals{}, s.BySource...), s.Total) {
		row := sheet.AddRow()
		row.AddCell().SetString(t.Source)
		row.AddCell().SetInt(t.Calls)
		row.AddCell().SetInt(t.PromptTokens)
		row.AddCell().SetInt(t.CompletionTokens)
		row.AddCell().SetFloat(t.CostUSD)
	}

	return eris.Wrap(f.Save(path), "usage: save xlsx")
}
