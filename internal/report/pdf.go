package report

import (
	"bytes"
	"fmt"
	"image/color"
	"io"
	"strconv"

	"codeberg.org/go-pdf/fpdf"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var (
	hourlyBarColor = color.RGBA{R: 0x8b, G: 0x5c, B: 0xf6, A: 0xff}
	dailyBarColor  = color.RGBA{R: 0x22, G: 0xc5, B: 0x5e, A: 0xff}
)

// BarChartPNG renders a labelled bar chart.
func BarChartPNG(title string, labels []string, values []float64, fill color.Color) ([]byte, error) {
	p := plot.New()
	p.Title.Text = title
	p.Y.Label.Text = "Visitors"
	p.Y.Min = 0

	bars, err := plotter.NewBarChart(plotter.Values(values), vg.Points(14))
	if err != nil {
		return nil, fmt.Errorf("bar chart: %w", err)
	}
	bars.Color = fill
	bars.LineStyle.Width = 0
	p.Add(bars)
	p.Add(plotter.NewGrid())
	p.NominalX(labels...)

	wt, err := p.WriterTo(16*vg.Centimeter, 7*vg.Centimeter, "png")
	if err != nil {
		return nil, fmt.Errorf("encode chart: %w", err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RenderPDF writes d as an A4 report.
func RenderPDF(w io.Writer, d Data) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Footfall Analytics Report", true)
	pdf.SetMargins(15, 15, 15)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(0, 10, "Footfall Analytics Report", "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.SetTextColor(75, 85, 99)
	pdf.CellFormat(0, 6, fmt.Sprintf("%s to %s", d.StartDate, d.EndDate), "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 6, "Generated on "+d.GeneratedAt.Format("January 2, 2006 15:04"), "", 1, "C", false, 0, "")
	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(6)

	section(pdf, "Summary Statistics")
	footfallLabel, footfallValue := "Daily Footfall", strconv.Itoa(d.TotalUniqueVisitors)
	if d.MultiDay() {
		footfallLabel, footfallValue = "Average Daily Footfall", strconv.FormatFloat(d.AverageDailyFootfall, 'f', 1, 64)
	}
	daysLabel := "Days Analyzed"
	if d.Days == 1 {
		daysLabel = "Day Analyzed"
	}
	rows := [][2]string{
		{"Total Unique Visitors", strconv.Itoa(d.TotalUniqueVisitors)},
		{footfallLabel, footfallValue},
		{daysLabel, strconv.Itoa(d.Days)},
	}
	if d.PeakHour != "" {
		rows = append(rows, [2]string{"Peak Hour", d.PeakHour})
	}
	rows = append(rows, [2]string{"Mean Hourly Entries", strconv.FormatFloat(d.MeanHourly, 'f', 1, 64)})
	table(pdf, rows)

	hourlyTitle := "Hourly Traffic Pattern"
	if d.MultiDay() {
		hourlyTitle = "Average Hourly Traffic"
	}
	section(pdf, hourlyTitle)
	if len(d.HourlyData) > 0 {
		if err := chart(pdf, "hourly", hourlyTitle, d.HourlyLabels, d.HourlyData, hourlyBarColor); err != nil {
			return err
		}
	} else {
		note(pdf, "No hourly data for this period.")
	}

	if d.MultiDay() && len(d.Daily) > 0 {
		section(pdf, "Daily Footfall Trend")
		labels := make([]string, len(d.Daily))
		values := make([]float64, len(d.Daily))
		dailyRows := make([][2]string, len(d.Daily))
		for i, v := range d.Daily {
			labels[i] = v.Date
			values[i] = float64(v.Visitors)
			dailyRows[i] = [2]string{v.Date, strconv.Itoa(v.Visitors)}
		}
		if err := chart(pdf, "daily", "Daily Footfall Trend", labels, values, dailyBarColor); err != nil {
			return err
		}
		table(pdf, dailyRows)
	}

	if d.NewCustomers > 0 || d.ReturningCustomers > 0 {
		section(pdf, "New vs Returning Visitors")
		table(pdf, [][2]string{
			{"New Visitors", strconv.Itoa(d.NewCustomers)},
			{"Returning Visitors", strconv.Itoa(d.ReturningCustomers)},
		})
		newPct, retPct, _ := d.NewRatio()
		note(pdf, fmt.Sprintf("Total Ratio: %.1f%% new, %.1f%% returning", newPct, retPct))
	}

	pdf.Ln(8)
	pdf.SetFont("Helvetica", "I", 9)
	pdf.SetTextColor(107, 114, 128)
	pdf.CellFormat(0, 5, "This report was automatically generated by the Footfall Analytics System", "", 1, "C", false, 0, "")

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

func section(pdf *fpdf.Fpdf, title string) {
	pdf.Ln(4)
	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 8, title, "B", 1, "L", false, 0, "")
	pdf.Ln(2)
}

func note(pdf *fpdf.Fpdf, text string) {
	pdf.SetFont("Helvetica", "", 10)
	pdf.MultiCell(0, 5, text, "", "L", false)
}

func table(pdf *fpdf.Fpdf, rows [][2]string) {
	pdf.SetFillColor(243, 244, 246)
	for i, r := range rows {
		fill := i%2 == 0
		pdf.SetFont("Helvetica", "", 10)
		pdf.CellFormat(90, 7, r[0], "1", 0, "L", fill, 0, "")
		pdf.SetFont("Helvetica", "B", 10)
		pdf.CellFormat(90, 7, r[1], "1", 1, "R", fill, 0, "")
	}
}

func chart(pdf *fpdf.Fpdf, name, title string, labels []string, values []float64, fill color.Color) error {
	png, err := BarChartPNG(title, labels, values, fill)
	if err != nil {
		return err
	}
	opts := fpdf.ImageOptions{ImageType: "PNG", ReadDpi: false}
	pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(png))
	if pdf.Err() {
		return fmt.Errorf("register %s chart: %w", name, pdf.Error())
	}
	pdf.ImageOptions(name, pdf.GetX(), pdf.GetY(), 180, 0, true, opts, 0, "")
	pdf.Ln(2)
	return nil
}
