package interfaces

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	billingapp "school-billing/internal/billing/application"
	billing "school-billing/internal/billing/domain"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func money(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

func statusLabel(p billing.ResolvedPayment) string {
	if p.Scholarship {
		return "scholarship"
	}
	return string(p.ResolvedStatus)
}

// BuildStatementPDF renders a student's ledger as of the statement's reference date.
func BuildStatementPDF(stmt *billingapp.Statement) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Student Payment Statement")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Student: %s (%s)", stmt.Student.Name, stmt.Student.ID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Reference date: %s", stmt.Summary.ReferenceDate))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Monthly fee: %s", money(stmt.Student.MonthlyFee)))
	pdf.Ln(5)
	if stmt.Policy != nil {
		label := stmt.Policy.ID
		if stmt.Policy.IsScholarship {
			label += " (scholarship)"
		}
		pdf.Cell(0, 6, fmt.Sprintf("Pricing policy: %s", label))
		pdf.Ln(5)
	}

	pdf.Ln(4)
	pdf.Cell(0, 6, fmt.Sprintf("Outstanding: %s", money(stmt.Summary.Outstanding)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Of which overdue: %s", money(stmt.Summary.OverdueAmount)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Interest accrued: %s", money(stmt.Summary.InterestAccrued)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Collected: %s", money(stmt.Summary.Collected)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(28, 6, "Due", "1", 0, "C", false, 0, "")
	pdf.CellFormat(26, 6, "Status", "1", 0, "C", false, 0, "")
	pdf.CellFormat(18, 6, "Days", "1", 0, "C", false, 0, "")
	pdf.CellFormat(28, 6, "Base", "1", 0, "C", false, 0, "")
	pdf.CellFormat(28, 6, "Interest", "1", 0, "C", false, 0, "")
	pdf.CellFormat(28, 6, "Total", "1", 0, "C", false, 0, "")
	pdf.CellFormat(28, 6, "Paid", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, p := range stmt.Payments {
		paidAt := ""
		if p.PaidAt != nil {
			paidAt = p.PaidAt.String()
		}
		pdf.CellFormat(28, 6, p.DueDate.String(), "1", 0, "C", false, 0, "")
		pdf.CellFormat(26, 6, statusLabel(p), "1", 0, "C", false, 0, "")
		pdf.CellFormat(18, 6, fmt.Sprintf("%d", p.OverdueDays), "1", 0, "R", false, 0, "")
		pdf.CellFormat(28, 6, money(p.BaseAmount), "1", 0, "R", false, 0, "")
		pdf.CellFormat(28, 6, money(p.InterestAmount), "1", 0, "R", false, 0, "")
		pdf.CellFormat(28, 6, money(p.CalculatedAmount), "1", 0, "R", false, 0, "")
		pdf.CellFormat(28, 6, paidAt, "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildStatementXLSX renders a student's ledger as a workbook.
func BuildStatementXLSX(stmt *billingapp.Statement) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	paymentsSheet := "payments"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(paymentsSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Student Payment Statement")
	_ = f.SetCellValue(summarySheet, "A3", "Student")
	_ = f.SetCellValue(summarySheet, "B3", stmt.Student.Name)
	_ = f.SetCellValue(summarySheet, "A4", "Student ID")
	_ = f.SetCellValue(summarySheet, "B4", stmt.Student.ID)
	_ = f.SetCellValue(summarySheet, "A5", "Reference date")
	_ = f.SetCellValue(summarySheet, "B5", stmt.Summary.ReferenceDate.String())
	_ = f.SetCellValue(summarySheet, "A6", "Outstanding")
	_ = f.SetCellValue(summarySheet, "B6", stmt.Summary.Outstanding.InexactFloat64())
	_ = f.SetCellValue(summarySheet, "A7", "Overdue")
	_ = f.SetCellValue(summarySheet, "B7", stmt.Summary.OverdueAmount.InexactFloat64())
	_ = f.SetCellValue(summarySheet, "A8", "Interest accrued")
	_ = f.SetCellValue(summarySheet, "B8", stmt.Summary.InterestAccrued.InexactFloat64())
	_ = f.SetCellValue(summarySheet, "A9", "Collected")
	_ = f.SetCellValue(summarySheet, "B9", stmt.Summary.Collected.InexactFloat64())
	if stmt.Policy != nil {
		_ = f.SetCellValue(summarySheet, "A10", "Pricing policy")
		_ = f.SetCellValue(summarySheet, "B10", stmt.Policy.ID)
	}

	headers := []string{"Payment ID", "Due date", "Status", "Overdue days", "Base", "Interest", "Total", "Paid at", "Interest waived"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(paymentsSheet, cell, header)
	}
	for i, p := range stmt.Payments {
		row := i + 2
		paidAt := ""
		if p.PaidAt != nil {
			paidAt = p.PaidAt.String()
		}
		_ = f.SetCellValue(paymentsSheet, fmt.Sprintf("A%d", row), p.ID)
		_ = f.SetCellValue(paymentsSheet, fmt.Sprintf("B%d", row), p.DueDate.String())
		_ = f.SetCellValue(paymentsSheet, fmt.Sprintf("C%d", row), statusLabel(p))
		_ = f.SetCellValue(paymentsSheet, fmt.Sprintf("D%d", row), p.OverdueDays)
		_ = f.SetCellValue(paymentsSheet, fmt.Sprintf("E%d", row), p.BaseAmount.InexactFloat64())
		_ = f.SetCellValue(paymentsSheet, fmt.Sprintf("F%d", row), p.InterestAmount.InexactFloat64())
		_ = f.SetCellValue(paymentsSheet, fmt.Sprintf("G%d", row), p.CalculatedAmount.InexactFloat64())
		_ = f.SetCellValue(paymentsSheet, fmt.Sprintf("H%d", row), paidAt)
		_ = f.SetCellValue(paymentsSheet, fmt.Sprintf("I%d", row), p.InterestWaived)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildReceivablesXLSX lists every unpaid, billable payment of the school.
func BuildReceivablesXLSX(receivables []billingapp.Receivable, today billing.Date) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := "receivables"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(sheet, "A1", "Receivables as of")
	_ = f.SetCellValue(sheet, "B1", today.String())
	headers := []string{"Student ID", "Student", "Guardian phone", "Payment ID", "Due date", "Status", "Overdue days", "Base", "Interest", "Total"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 3)
		_ = f.SetCellValue(sheet, cell, header)
	}

	row := 4
	for _, r := range receivables {
		p := r.Payment
		if p.ResolvedStatus == billing.PaymentStatusPaid || p.Scholarship {
			continue
		}
		_ = f.SetCellValue(sheet, fmt.Sprintf("A%d", row), r.Student.ID)
		_ = f.SetCellValue(sheet, fmt.Sprintf("B%d", row), r.Student.Name)
		_ = f.SetCellValue(sheet, fmt.Sprintf("C%d", row), r.Student.GuardianPhone)
		_ = f.SetCellValue(sheet, fmt.Sprintf("D%d", row), p.ID)
		_ = f.SetCellValue(sheet, fmt.Sprintf("E%d", row), p.DueDate.String())
		_ = f.SetCellValue(sheet, fmt.Sprintf("F%d", row), string(p.ResolvedStatus))
		_ = f.SetCellValue(sheet, fmt.Sprintf("G%d", row), p.OverdueDays)
		_ = f.SetCellValue(sheet, fmt.Sprintf("H%d", row), p.BaseAmount.InexactFloat64())
		_ = f.SetCellValue(sheet, fmt.Sprintf("I%d", row), p.InterestAmount.InexactFloat64())
		_ = f.SetCellValue(sheet, fmt.Sprintf("J%d", row), p.CalculatedAmount.InexactFloat64())
		row++
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
