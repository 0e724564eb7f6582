package report

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// SaveSummaryPDF renders the upload summary into a PDF document. When the
// summary has a digest, its QR code is printed next to the header.
func SaveSummaryPDF(s Summary, out string) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Upload Decode Report", false)
	pdf.SetAuthor("uploadctl", false)
	pdf.SetCreator("uploadctl", false)
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	addPDFTitle(pdf, "Upload Decode Report")
	if s.Digest != "" {
		if err := addDigestQR(pdf, s.Digest); err != nil {
			return err
		}
	}
	addSummarySection(pdf, s)
	addTypeSection(pdf, s.ByType)
	addGapSection(pdf, s)
	addOverlapSection(pdf, s)

	if pdf.Err() {
		return pdf.Error()
	}
	return pdf.OutputFileAndClose(out)
}

func addPDFTitle(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, title)
	pdf.Ln(12)
}

func addDigestQR(pdf *gofpdf.Fpdf, digest string) error {
	png, err := DigestToQR(digest, 256)
	if err != nil {
		return fmt.Errorf("digest qr: %w", err)
	}
	opts := gofpdf.ImageOptions{ImageType: "PNG", ReadDpi: false}
	pdf.RegisterImageOptionsReader("digest", opts, bytes.NewReader(png))
	pageW, _ := pdf.GetPageSize()
	_, _, right, _ := pdf.GetMargins()
	pdf.ImageOptions("digest", pageW-right-30, 15, 30, 30, false, opts, 0, "")
	return nil
}

func addSummarySection(pdf *gofpdf.Fpdf, s Summary) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Summary")
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "", 11)
	items := []struct {
		label string
		value string
	}{
		{label: "Batch", value: emptyFallback(s.BatchID, "-")},
		{label: "Family", value: s.Family},
		{label: "Device", value: emptyFallback(s.DeviceID, "-")},
		{label: "Pages", value: strconv.Itoa(s.Pages)},
		{label: "Records", value: strconv.Itoa(s.Records)},
		{label: "First record", value: timeLabel(s.First)},
		{label: "Last record", value: timeLabel(s.Last)},
		{label: "Gaps", value: strconv.Itoa(len(s.Gaps))},
		{label: "Rejected", value: strconv.Itoa(len(s.Rejected))},
		{label: "Duplicates", value: strconv.Itoa(len(s.Duplicates))},
		{label: "Overall", value: completeLabel(s.Complete())},
	}
	for _, item := range items {
		pdf.CellFormat(50, 6, item.label, "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, item.value, "", 1, "L", false, 0, "")
	}
	if s.Error != "" {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.MultiCell(0, 5, "Error: "+s.Error, "", "L", false)
	}
	if s.Digest != "" {
		pdf.SetFont("Courier", "", 8)
		pdf.MultiCell(0, 4, "sha256 "+s.Digest, "", "L", false)
	}
	pdf.Ln(4)
}

func addTypeSection(pdf *gofpdf.Fpdf, rows []TypeCount) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Records by Type")
	pdf.Ln(9)

	headers := []string{"Type", "Count"}
	widths := []float64{120, 40}

	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Helvetica", "B", 10)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	for _, row := range rows {
		renderTableRow(pdf, widths, []string{row.Type, strconv.Itoa(row.Count)}, 5)
	}
	pdf.Ln(4)
}

func addGapSection(pdf *gofpdf.Fpdf, s Summary) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Skipped Data")
	pdf.Ln(9)

	if len(s.Gaps) == 0 && len(s.Rejected) == 0 {
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 6, "Nothing was skipped.", "", "L", false)
		pdf.Ln(4)
		return
	}

	headers := []string{"Page", "Stage", "Reason", "Detail"}
	widths := []float64{18, 28, 40, 94}
	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Helvetica", "B", 10)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	for _, g := range s.Gaps {
		detail := ""
		if g.Count > 1 {
			detail = fmt.Sprintf("%d pages", g.Count)
		}
		if g.Offset > 0 {
			detail = fmt.Sprintf("offset %d", g.Offset)
		}
		renderTableRow(pdf, widths, []string{strconv.Itoa(g.Page), "page", string(g.Reason), detail}, 5)
	}
	for _, r := range s.Rejected {
		renderTableRow(pdf, widths, []string{strconv.Itoa(r.Page), r.Stage, r.Type, r.Reason}, 5)
	}
	pdf.Ln(4)
}

func addOverlapSection(pdf *gofpdf.Fpdf, s Summary) {
	if len(s.Overlaps) == 0 && len(s.Duplicates) == 0 {
		return
	}
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Overlaps and Duplicates")
	pdf.Ln(9)

	pdf.SetFont("Helvetica", "", 10)
	for _, o := range s.Overlaps {
		line := fmt.Sprintf("Upload %s ends at log entry %d, after upload %s starts at entry %d.",
			o.Earlier, o.EarlierEnd, o.Later, o.LaterStart)
		pdf.MultiCell(0, 5, line, "", "L", false)
	}
	for _, d := range s.Duplicates {
		line := fmt.Sprintf("%s %s: kept input %d, dropped input %d", d.Type, d.Identity, d.Kept, d.Dropped)
		pdf.MultiCell(0, 5, line, "", "L", false)
	}
}

func renderTableRow(pdf *gofpdf.Fpdf, widths []float64, values []string, lineHeight float64) {
	xStart := pdf.GetX()
	yStart := pdf.GetY()
	maxLines := 1
	splitCols := make([][]string, len(values))
	for i, val := range values {
		text := strings.TrimSpace(val)
		if text == "" {
			text = "-"
		}
		lines := pdf.SplitText(text, widths[i]-2)
		if len(lines) == 0 {
			lines = []string{""}
		}
		splitCols[i] = lines
		if len(lines) > maxLines {
			maxLines = len(lines)
		}
	}
	rowHeight := float64(maxLines) * lineHeight
	x := xStart
	for i, lines := range splitCols {
		pdf.SetXY(x, yStart)
		pdf.MultiCell(widths[i], lineHeight, strings.Join(lines, "\n"), "1", "L", false)
		x += widths[i]
	}
	pdf.SetXY(xStart, yStart+rowHeight)
}

func completeLabel(ok bool) string {
	if ok {
		return "COMPLETE"
	}
	return "INCOMPLETE"
}

func timeLabel(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func emptyFallback(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}
