// Package export converts sessions and directory snapshots to and from spreadsheets.
package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/example/counselling-scheduler/internal/application"
)

// SessionsSheet is the name of the worksheet written by WriteSessions.
const SessionsSheet = "Sessions"

// ContentType is the MIME type of the generated workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var sessionHeader = []any{
	"Session ID", "Counsellor ID", "Student ID", "Date", "Start", "End",
	"Type", "Location", "Status", "Confirmed", "Notes", "Cancellation reason", "Report available",
}

// WriteSessions writes one row per session, in the given order, to w.
func WriteSessions(w io.Writer, sessions []application.Session) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SessionsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(SessionsSheet, "A1", &sessionHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, session := range sessions {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{
			session.ID,
			session.CounsellorID,
			session.StudentID,
			session.Date.String(),
			session.Start.String(),
			session.End.String(),
			string(session.Type),
			derefString(session.Location),
			string(session.Status),
			session.Confirmed,
			session.Notes,
			derefString(session.CancellationReason),
			session.ReportAvailable,
		}
		if err := f.SetSheetRow(SessionsSheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	if err := f.SetPanes(SessionsSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// Filename suggests a download name for an export generated at now.
func Filename(now time.Time) string {
	return fmt.Sprintf("sessions-%s.xlsx", now.UTC().Format("20060102-150405"))
}

// ReadCounsellors reads a directory snapshot from the first sheet of a
// workbook. Columns are located by header name; rows without an id are skipped.
func ReadCounsellors(r io.Reader) ([]application.Counsellor, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	cols := detectColumns(rows[0])
	if cols["id"] < 0 || cols["display_name"] < 0 {
		return nil, fmt.Errorf("workbook must have id and name columns")
	}

	var out []application.Counsellor
	for _, row := range rows[1:] {
		id := cell(row, cols["id"])
		if id == "" {
			continue
		}
		out = append(out, application.Counsellor{
			ID:          id,
			DisplayName: cell(row, cols["display_name"]),
			Specialty:   cell(row, cols["specialty"]),
		})
	}
	return out, nil
}

func detectColumns(header []string) map[string]int {
	cols := map[string]int{"id": -1, "display_name": -1, "specialty": -1}
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "id", "counsellor id", "counsellor_id":
			cols["id"] = i
		case "name", "display name", "display_name":
			cols["display_name"] = i
		case "specialty", "speciality", "focus":
			cols["specialty"] = i
		}
	}
	return cols
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
