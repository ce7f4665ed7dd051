package services

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/gridwatt/smart-meter-server/models"
)

// BillPDF renders a client's bill as a printable A4 statement with a QR
// payment reference.
type BillPDF struct {
	issuer string
}

func NewBillPDF(issuer string) *BillPDF {
	if issuer == "" {
		issuer = "GridWatt Energy"
	}
	return &BillPDF{issuer: issuer}
}

// Render produces the PDF bytes for one bill.
func (bp *BillPDF) Render(clientID string, bill models.Bill) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.AddPage()

	// Header
	pdf.SetFont("Arial", "B", 24)
	pdf.SetTextColor(0, 123, 255)
	pdf.Cell(0, 10, "Electricity Bill")
	pdf.Ln(8)

	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(100, 100, 100)
	pdf.Cell(0, 6, bp.issuer)
	pdf.Ln(4)
	pdf.Cell(0, 6, "Meter #"+clientID)
	pdf.Ln(10)

	// Billing period
	pdf.SetFont("Arial", "B", 10)
	pdf.SetTextColor(100, 100, 100)
	pdf.Cell(0, 6, "BILLING PERIOD")
	pdf.Ln(6)

	pdf.SetFont("Arial", "", 9)
	pdf.SetTextColor(0, 0, 0)
	pdf.Cell(0, 4, fmt.Sprintf("%s to %s",
		bill.BillingPeriod.Start.Format("2006-01-02"),
		bill.BillingPeriod.End.Format("2006-01-02")))
	pdf.Ln(10)

	// Line items table
	pdf.SetFillColor(249, 249, 249)
	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(130, 8, "Description", "B", 0, "L", true, 0, "")
	pdf.CellFormat(50, 8, "Amount", "B", 0, "R", true, 0, "")
	pdf.Ln(8)

	pdf.SetFont("Arial", "", 9)
	usageLine := fmt.Sprintf("Usage: %.2f kWh x %.3f (from %.2f to %.2f)",
		bill.UnitsEnd-bill.UnitsStart, bill.PricePerUnit, bill.UnitsStart, bill.UnitsEnd)
	pdf.CellFormat(130, 7, usageLine, "", 0, "L", false, 0, "")
	pdf.CellFormat(50, 7, fmt.Sprintf("%.2f", bill.ActualUsage), "", 0, "R", false, 0, "")
	pdf.Ln(7)

	standingLine := fmt.Sprintf("Standing charge (%.3f / day)", bill.DailyStandingCharge)
	pdf.CellFormat(130, 7, standingLine, "", 0, "L", false, 0, "")
	pdf.CellFormat(50, 7, fmt.Sprintf("%.2f", bill.StandingCharge), "", 0, "R", false, 0, "")
	pdf.Ln(10)

	// Total
	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(130, 8, "Total", "T", 0, "L", false, 0, "")
	pdf.CellFormat(50, 8, fmt.Sprintf("%.2f", bill.Total), "T", 0, "R", false, 0, "")
	pdf.Ln(14)

	// QR payment reference
	reference := fmt.Sprintf("gridwatt:bill:%s:%s:%.2f",
		clientID, bill.BillingPeriod.Start.Format("2006-01-02"), bill.Total)
	png, err := qrcode.Encode(reference, qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("encode payment QR: %w", err)
	}

	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("payment-qr", opts, bytes.NewReader(png))
	pdf.ImageOptions("payment-qr", 15, pdf.GetY(), 35, 35, false, opts, 0, "")
	pdf.SetY(pdf.GetY() + 37)

	pdf.SetFont("Arial", "", 8)
	pdf.SetTextColor(100, 100, 100)
	pdf.Cell(0, 4, "Scan to pay - reference "+reference)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render bill pdf: %w", err)
	}
	return buf.Bytes(), nil
}
