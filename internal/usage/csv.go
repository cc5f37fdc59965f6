package usage

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/incentive-match/internal/model"
)

// Header is the column order of the usage CSV.
var Header = []string{
	"timestamp", "source", "model", "prompt_tokens",
	"completion_tokens", "estimated_cost_usd", "metadata_json",
}

// CSVSink appends rows to a CSV file, writing the header once.
type CSVSink struct {
	path string
}

// NewCSVSink returns a sink for path. The file is created on first append.
func NewCSVSink(path string) *CSVSink {
	return &CSVSink{path: path}
}

// Append implements Sink.
func (s *CSVSink) Append(_ context.Context, rec model.UsageRecord) error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return eris.Wrap(err, "usage: open csv")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return eris.Wrap(err, "usage: stat csv")
	}

	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return eris.Wrap(err, "usage: encode metadata")
	}
	if rec.Metadata == nil {
		meta = []byte("{}")
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(Header); err != nil {
			return eris.Wrap(err, "usage: write header")
		}
	}
	row := []string{
		rec.Timestamp.UTC().Format(time.RFC3339),
		rec.Source,
		rec.Model,
		strconv.Itoa(rec.PromptTokens),
		strconv.Itoa(rec.CompletionTokens),
		strconv.FormatFloat(rec.EstimatedCostUSD, 'f', 8, 64),
		string(meta),
	}
	if err := w.Write(row); err != nil {
		return eris.Wrap(err, "usage: write row")
	}
	w.Flush()
	return eris.Wrap(w.Error(), "usage: flush csv")
}

// Records implements Sink. A missing file yields no records.
func (s *CSVSink) Records(_ context.Context) ([]model.UsageRecord, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "usage: open csv")
	}
	defer f.Close()
	return ReadCSV(f)
}

// Close implements Sink.
func (s *CSVSink) Close() error { return nil }

// ReadCSV parses a usage log. Columns are located by header name.
func ReadCSV(r io.Reader) ([]model.UsageRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "usage: read header")
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[h] = i
	}
	for _, col := range []string{"source", "model", "prompt_tokens", "completion_tokens", "estimated_cost_usd"} {
		if _, ok := idx[col]; !ok {
			return nil, eris.Errorf("usage: missing column %q", col)
		}
	}

	get := func(row []string, col string) string {
		i, ok := idx[col]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	var out []model.UsageRecord
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "usage: read line %d", line)
		}

		rec := model.UsageRecord{
			Source: get(row, "source"),
			Model:  get(row, "model"),
		}
		rec.Timestamp, _ = time.Parse(time.RFC3339, get(row, "timestamp"))
		rec.PromptTokens, _ = strconv.Atoi(get(row, "prompt_tokens"))
		rec.CompletionTokens, _ = strconv.Atoi(get(row, "completion_tokens"))
		rec.EstimatedCostUSD, _ = strconv.ParseFloat(get(row, "estimated_cost_usd"), 64)
		if m := get(row, "metadata_json"); m != "" {
			_ = json.Unmarshal([]byte(m), &rec.Metadata)
		}
		out = append(out, rec)
	}
	return out, nil
}
