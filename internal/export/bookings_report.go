// Package export renders bookings into XLSX workbooks.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"appointly/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const (
	listSheet     = "Bookings"
	scheduleSheet = "Schedule"
	dateLayout    = "2006-01-02"
)

// MaxRangeDays bounds a single report.
const MaxRangeDays = 92

var listHeaders = []string{
	"ID", "Service", "Date", "Time", "Duration (min)", "Status", "Client", "Email", "Phone",
	"Amount", "Currency", "Paid", "Payment Status", "Source", "Created At",
}

type BookingLister interface {
	ListBookings(ctx context.Context, f models.BookingFilter) ([]*models.Booking, error)
}

// BookingsReport builds a workbook with a flat booking list and a
// service-by-day schedule grid.
type BookingsReport struct {
	store  BookingLister
	dir    string
	loc    *time.Location
	logger *zerolog.Logger
}

func NewBookingsReport(store BookingLister, dir string, loc *time.Location, logger *zerolog.Logger) *BookingsReport {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &BookingsReport{store: store, dir: dir, loc: loc, logger: logger}
}

// Range normalizes [from, to] to whole local days and checks its length.
func (r *BookingsReport) Range(from, to time.Time) (time.Time, time.Time, error) {
	start := dayStart(from.In(r.loc))
	end := dayStart(to.In(r.loc)).AddDate(0, 0, 1)
	if !end.After(start) {
		return time.Time{}, time.Time{}, errors.New("export range is empty")
	}
	if end.Sub(start) > MaxRangeDays*24*time.Hour {
		return time.Time{}, time.Time{}, fmt.Errorf("export range exceeds %d days", MaxRangeDays)
	}
	return start, end, nil
}

// Build loads bookings scheduled between the local days of from and to, inclusive.
func (r *BookingsReport) Build(ctx context.Context, from, to time.Time) (*excelize.File, error) {
	start, end, err := r.Range(from, to)
	if err != nil {
		return nil, err
	}

	bookings, err := r.store.ListBookings(ctx, models.BookingFilter{From: &start, To: &end})
	if err != nil {
		return nil, fmt.Errorf("error getting bookings: %w", err)
	}

	f := excelize.NewFile()
	if err := r.writeList(f, bookings); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := r.writeSchedule(f, bookings, start, end); err != nil {
		_ = f.Close()
		return nil, err
	}
	_ = f.DeleteSheet("Sheet1")
	return f, nil
}

// Write streams the workbook to w.
func (r *BookingsReport) Write(ctx context.Context, w io.Writer, from, to time.Time) error {
	f, err := r.Build(ctx, from, to)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

// SaveToFile writes the workbook into the export directory and returns its path.
func (r *BookingsReport) SaveToFile(ctx context.Context, from, to time.Time) (string, error) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	f, err := r.Build(ctx, from, to)
	if err != nil {
		return "", err
	}
	defer f.Close()

	path := filepath.Join(r.dir, FileName(from, to))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}

	r.logger.Info().Str("file_path", path).Msg("bookings export created")
	return path, nil
}

func FileName(from, to time.Time) string {
	return fmt.Sprintf("bookings_%s_to_%s.xlsx", from.Format(dateLayout), to.Format(dateLayout))
}

func (r *BookingsReport) writeList(f *excelize.File, bookings []*models.Booking) error {
	index, err := f.NewSheet(listSheet)
	if err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	for i, h := range listHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(listSheet, cell, h)
	}
	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
	})
	if err == nil {
		last, _ := excelize.CoordinatesToCellName(len(listHeaders), 1)
		_ = f.SetCellStyle(listSheet, "A1", last, header)
	}

	for i, b := range bookings {
		at := b.ScheduledAt.In(r.loc)
		row := []interface{}{
			b.ID, b.ServiceName, at.Format(dateLayout), at.Format("15:04"), b.DurationMinutes,
			b.Status.Label(), b.ClientName, b.ClientEmail, b.ClientPhone,
			float64(b.AmountCents) / 100, b.Currency, yesNo(b.IsPaid), b.PaymentStatus, b.Source,
			b.CreatedAt.In(r.loc).Format("2006-01-02 15:04"),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(listSheet, cell, &row); err != nil {
			return fmt.Errorf("error writing row %d: %w", i+2, err)
		}
	}

	_ = f.SetColWidth(listSheet, "A", "A", 38)
	_ = f.SetColWidth(listSheet, "B", "B", 20)
	_ = f.SetColWidth(listSheet, "G", "H", 24)
	return nil
}

// writeSchedule lays services out as rows and days as columns. Each cell lists
// that day's bookings and is colored by the least settled active booking.
func (r *BookingsReport) writeSchedule(f *excelize.File, bookings []*models.Booking, start, end time.Time) error {
	if _, err := f.NewSheet(scheduleSheet); err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}

	days := 0
	dateCols := make(map[string]int)
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		col := days + 2
		cell, _ := excelize.CoordinatesToCellName(col, 2)
		_ = f.SetCellValue(scheduleSheet, cell, d.Format("Mon 02.01"))
		dateCols[d.Format(dateLayout)] = col
		days++
	}

	_ = f.SetCellValue(scheduleSheet, "A1", fmt.Sprintf("Period: %s - %s",
		start.Format("02.01.2006"), end.AddDate(0, 0, -1).Format("02.01.2006")))
	lastCol, _ := excelize.ColumnNumberToName(days + 1)
	_ = f.MergeCell(scheduleSheet, "A1", lastCol+"1")
	if title, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	}); err == nil {
		_ = f.SetCellStyle(scheduleSheet, "A1", "A1", title)
	}

	grid := make(map[string]map[string][]*models.Booking)
	var services []string
	for _, b := range bookings {
		if _, ok := grid[b.ServiceName]; !ok {
			grid[b.ServiceName] = make(map[string][]*models.Booking)
			services = append(services, b.ServiceName)
		}
		key := b.ScheduledAt.In(r.loc).Format(dateLayout)
		grid[b.ServiceName][key] = append(grid[b.ServiceName][key], b)
	}
	sort.Strings(services)

	styles := newCellStyles(f)
	for i, name := range services {
		row := i + 3
		cell, _ := excelize.CoordinatesToCellName(1, row)
		_ = f.SetCellValue(scheduleSheet, cell, name)

		for key, col := range dateCols {
			dayBookings := grid[name][key]
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(scheduleSheet, cell, r.cellText(dayBookings))
			if style, ok := styles[cellTone(dayBookings)]; ok {
				_ = f.SetCellStyle(scheduleSheet, cell, cell, style)
			}
		}
	}

	_ = f.SetColWidth(scheduleSheet, "A", "A", 25)
	if days > 0 {
		_ = f.SetColWidth(scheduleSheet, "B", lastCol, 22)
	}
	return nil
}

func (r *BookingsReport) cellText(bookings []*models.Booking) string {
	if len(bookings) == 0 {
		return "Free"
	}
	var sb strings.Builder
	for _, b := range bookings {
		fmt.Fprintf(&sb, "%s %s (%s)\n", b.ScheduledAt.In(r.loc).Format("15:04"), b.ClientName, b.Status.Label())
	}
	return strings.TrimRight(sb.String(), "\n")
}

type tone int

const (
	toneFree tone = iota
	tonePending
	toneSettled
)

// cellTone is pending when any active booking is still unconfirmed.
func cellTone(bookings []*models.Booking) tone {
	active := 0
	for _, b := range bookings {
		if !b.Status.IsActive() && b.Status != models.StatusCompleted {
			continue
		}
		active++
		if b.Status == models.StatusCreated {
			return tonePending
		}
	}
	if active == 0 {
		return toneFree
	}
	return toneSettled
}

func newCellStyles(f *excelize.File) map[tone]int {
	colors := map[tone]string{
		toneFree:    "#FFFFFF",
		tonePending: "#FFEB9C",
		toneSettled: "#C6EFCE",
	}
	out := make(map[tone]int, len(colors))
	for t, color := range colors {
		id, err := f.NewStyle(&excelize.Style{
			Fill:      excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
			Alignment: &excelize.Alignment{Horizontal: "left", Vertical: "top", WrapText: true},
		})
		if err == nil {
			out[t] = id
		}
	}
	return out
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}
