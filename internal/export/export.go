package export

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"rollcall/internal/roster"
)

// SheetName is the worksheet holding the attendance table.
const SheetName = "Attendance"

// HeaderRows counts the rows written before the first record.
const HeaderRows = 5

// DefaultCourse names files and headers when no course label was given.
const DefaultCourse = "Course"

// Columns is the record table header.
var Columns = []string{"#", "Name", "Student No", "Check-in Time", "Session ID", "Source"}

var unsafeChars = regexp.MustCompile(`[^\p{L}\p{N}_-]+`)

// Meta describes the export header block.
type Meta struct {
	Course      string
	Presenter   string
	GeneratedAt time.Time
	Localizer   roster.Localizer
}

// Rows lays out the export as a table of strings: the header block followed
// by one row per record.
func Rows(meta Meta, records []roster.ViewRecord) [][]string {
	rows := make([][]string, 0, len(records)+HeaderRows)
	rows = append(rows,
		[]string{"Course:", meta.Course},
		[]string{"Presenter:", meta.Presenter},
		[]string{"Date:", meta.Localizer.Format(meta.GeneratedAt)},
		[]string{},
		append([]string(nil), Columns...),
	)
	for i, r := range records {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			orDash(r.StudentName),
			orDash(r.StudentNumber),
			orDash(r.DisplayTime),
			orDash(r.SessionID),
			orDash(r.Source),
		})
	}
	return rows
}

// Filename builds a file name from the sanitized course label and the export
// time to the second, in UTC.
func Filename(course string, at time.Time) string {
	if course == "" {
		course = DefaultCourse
	}
	safe := unsafeChars.ReplaceAllString(course, "_")
	return fmt.Sprintf("Attendance_%s_%s.xlsx", safe, at.UTC().Format("2006-01-02-15-04-05"))
}

// Workbook renders the export into a new spreadsheet.
func Workbook(meta Meta, records []roster.ViewRecord) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		f.Close()
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	for i, row := range Rows(meta, records) {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			f.Close()
			return nil, err
		}
		values := make([]any, len(row))
		for j, v := range row {
			values[j] = v
		}
		if i >= HeaderRows {
			// sequence numbers stay numeric in the sheet
			values[0] = i - HeaderRows + 1
		}
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			f.Close()
			return nil, fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	return f, nil
}

// Write streams the workbook as xlsx to w.
func Write(w io.Writer, meta Meta, records []roster.ViewRecord) error {
	f, err := Workbook(meta, records)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
