package sheets

import (
	"strings"

	"tally/internal/core"
)

const pathSeparator = " > "

// YearRows is the export of one year bucket.
type YearRows struct {
	Year int
	Rows []Row
}

// BuildRows flattens buckets into rows, one per category of userID's split,
// grouped by year in bucket order. Transactions where userID holds no split
// are skipped. The Amount column carries the transaction total and Share the
// category portion belonging to userID.
func BuildRows(b core.Buckets, userID string) []YearRows {
	var out []YearRows
	for _, year := range b {
		var rows []Row
		for _, month := range year {
			for _, day := range month {
				for _, tx := range day {
					rows = append(rows, txRows(tx, userID)...)
				}
			}
		}
		if len(rows) == 0 {
			continue
		}
		out = append(out, YearRows{Year: rows[0].Date.Year(), Rows: rows})
	}
	return out
}

func txRows(tx core.Tx, userID string) []Row {
	i := tx.SplitFor(userID)
	if i < 0 {
		return nil
	}
	merged := core.MergeSplitCategories(tx.Splits[i : i+1])
	rows := make([]Row, 0, len(merged))
	for _, mc := range merged {
		rows = append(rows, Row{
			Date:     tx.AuthorizedAt,
			Name:     tx.Name,
			Category: strings.Join(mc.NamePath, pathSeparator),
			Amount:   tx.Amount,
			Share:    mc.Amount,
			TxID:     tx.ID(),
		})
	}
	return rows
}

// Values renders rows as a sheet value matrix, header first.
func Values(rows []Row) [][]any {
	out := make([][]any, 0, len(rows)+1)
	header := make([]any, len(Header))
	for i, h := range Header {
		header[i] = h
	}
	out = append(out, header)
	for _, r := range rows {
		out = append(out, []any{
			r.Date.Format("2006-01-02"),
			escapeFormula(r.Name),
			escapeFormula(r.Category),
			r.Amount,
			r.Share,
			r.TxID,
		})
	}
	return out
}

// escapeFormula quotes text the spreadsheet would otherwise evaluate as a
// formula when written with USER_ENTERED.
func escapeFormula(s string) string {
	t := strings.TrimSpace(s)
	if t == "" {
		return s
	}
	switch t[0] {
	case '=', '+', '-', '@':
		return "'" + s
	}
	return s
}
