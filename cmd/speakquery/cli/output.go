package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"

	"speakquery/internal/dataset"
	"speakquery/internal/table"
)

const formatTable = "table"

// printer writes datasets as an aligned table or in any table file format
// that can be streamed (csv, tsv, json, jsonl, yaml).
type printer struct {
	format string
	w      io.Writer
}

func newPrinter(w io.Writer, format string) (*printer, error) {
	format = strings.ToLower(format)
	if format != formatTable {
		f, err := table.ParseFormat(format)
		if err != nil {
			return nil, err
		}
		if f == table.FormatSQLite {
			return nil, fmt.Errorf("%w: sqlite output needs a file", table.ErrUnsupportedFormat)
		}
	}
	return &printer{format: format, w: w}, nil
}

func (p *printer) dataset(ds *dataset.Dataset) error {
	if p.format == formatTable {
		p.table(ds.Columns, ds.Strings())
		return nil
	}
	f, err := table.ParseFormat(p.format)
	if err != nil {
		return err
	}
	return table.Encode(p.w, f, ds)
}

// table writes rows under header. An empty header prints rows only.
func (p *printer) table(header []string, rows [][]string) {
	tw := tablewriter.NewWriter(p.w)
	if len(header) > 0 {
		tw.SetHeader(header)
	}
	tw.SetAutoFormatHeaders(false)
	tw.SetAutoWrapText(false)
	tw.AppendBulk(rows)
	tw.Render()
}

// kv prints a key-value detail view.
func (p *printer) kv(pairs [][2]string) {
	tw := tablewriter.NewWriter(p.w)
	tw.SetBorder(false)
	tw.SetColumnSeparator("")
	tw.SetAutoWrapText(false)
	tw.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, pair := range pairs {
		tw.Append([]string{pair[0] + ":", pair[1]})
	}
	tw.Render()
}
