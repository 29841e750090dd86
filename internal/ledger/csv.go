package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ikimina/circles/internal/models"
)

// DateLayout is the date format of the CSV Date column.
const DateLayout = "2006-01-02"

// Header is the first CSV line.
var Header = []string{"Date", "Type", "Amount", "Group", "Description", "Status"}

var errBadHeader = errors.New("unexpected csv header")

// Row is one exported transaction.
type Row struct {
	Date        string
	Type        models.TransactionType
	Amount      decimal.Decimal
	Group       string
	Description string
	Status      models.TransactionStatus
}

// RowOf converts an entry to its exported form. Dates are in UTC and line
// breaks in text fields are written as a bare "\n", which is how ReadCSV
// returns them.
func RowOf(e Entry) Row {
	group := e.GroupName
	if group == "" {
		group = UnknownGroup
	}
	return Row{
		Date:        time.UnixMilli(e.CreatedAt).UTC().Format(DateLayout),
		Type:        e.Type,
		Amount:      e.Amount,
		Group:       crlf.Replace(group),
		Description: crlf.Replace(e.Description),
		Status:      e.Status,
	}
}

var crlf = strings.NewReplacer("\r\n", "\n")

// Filename names an export made at now.
func Filename(now time.Time) string {
	return "transactions-" + now.UTC().Format(DateLayout) + ".csv"
}

// WriteCSV writes the header and one line per entry.
func WriteCSV(w io.Writer, entries []Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, e := range entries {
		r := RowOf(e)
		if err := cw.Write([]string{
			r.Date,
			string(r.Type),
			r.Amount.String(),
			r.Group,
			r.Description,
			string(r.Status),
		}); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses an export written by WriteCSV.
func ReadCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	if !slices.Equal(header, Header) {
		return nil, fmt.Errorf("%w: %v", errBadHeader, header)
	}

	rows := []Row{}
	for {
		fields, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv row: %w", err)
		}
		line, _ := cr.FieldPos(0)

		if _, err := time.Parse(DateLayout, fields[0]); err != nil {
			return nil, fmt.Errorf("line %d: invalid date %q", line, fields[0])
		}
		amount, err := decimal.NewFromString(fields[2])
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid amount %q", line, fields[2])
		}
		rows = append(rows, Row{
			Date:        fields[0],
			Type:        models.TransactionType(fields[1]),
			Amount:      amount,
			Group:       fields[3],
			Description: fields[4],
			Status:      models.TransactionStatus(fields[5]),
		})
	}
	return rows, nil
}
