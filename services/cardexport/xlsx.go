// Package cardexport renders a guidance card as an xlsx workbook.
package cardexport

import (
	"fmt"
	"io"
	"sort"

	"bimbingan_go/models"
	"bimbingan_go/services/orchestrator"
	"bimbingan_go/utils"

	"github.com/xuri/excelize/v2"
)

const (
	SheetCard = "Kartu Bimbingan"
	SheetLog  = "Log Bimbingan"

	dateLayout = "2006-01-02 15:04"
)

// FileName is the download name for a submission's card.
func FileName(submissionID uint) string {
	return fmt.Sprintf("kartu_bimbingan_%d.xlsx", submissionID)
}

// Write renders d into w.
func Write(w io.Writer, d *orchestrator.CardDetails) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetCard); err != nil {
		return err
	}
	if _, err := f.NewSheet(SheetLog); err != nil {
		return err
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	title, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return err
	}

	if err := writeCard(f, d, bold, title); err != nil {
		return err
	}
	if err := writeLog(f, d.Messages, bold); err != nil {
		return err
	}

	f.SetActiveSheet(0)
	_, err = f.WriteTo(w)
	return err
}

func writeCard(f *excelize.File, d *orchestrator.CardDetails, bold, title int) error {
	sh := SheetCard
	set := func(cell string, v interface{}) error { return f.SetCellValue(sh, cell, v) }

	if err := f.MergeCell(sh, "A1", "D1"); err != nil {
		return err
	}
	if err := set("A1", "KARTU BIMBINGAN TUGAS AKHIR"); err != nil {
		return err
	}
	if err := f.SetCellStyle(sh, "A1", "D1", title); err != nil {
		return err
	}

	info := [][2]interface{}{
		{"Nama Mahasiswa", displayName(d.Student)},
		{"NIM", nim(d.Student)},
		{"Judul", d.Submission.Title},
		{"Pembimbing 1", displayName(d.Primary)},
		{"Pembimbing 2", displayName(d.Secondary)},
		{"Jumlah Bimbingan", d.Card.MessageCount},
		{"Bab Diterima", d.Card.AcceptedChapters},
		{"Progres Bab", d.Card.ProgressChapter},
		{"Tanggal Terbit", d.Card.GeneratedAt.Format(dateLayout)},
	}
	row := 3
	for _, kv := range info {
		if err := set(cell(1, row), kv[0]); err != nil {
			return err
		}
		if err := set(cell(2, row), kv[1]); err != nil {
			return err
		}
		row++
	}
	if err := f.SetCellStyle(sh, "A3", cell(1, row-1), bold); err != nil {
		return err
	}

	row++
	header := []string{"Bab", "Status", "Dikirim", "Ditinjau"}
	for i, h := range header {
		if err := set(cell(i+1, row), h); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(sh, cell(1, row), cell(len(header), row), bold); err != nil {
		return err
	}

	chapters := append([]models.ChapterSubmission(nil), d.Chapters...)
	sort.Slice(chapters, func(i, j int) bool { return chapters[i].ChapterNumber < chapters[j].ChapterNumber })
	for _, ch := range chapters {
		row++
		reviewed := ""
		if ch.ReviewedAt != nil {
			reviewed = ch.ReviewedAt.Format(dateLayout)
		}
		values := []interface{}{ch.ChapterNumber, string(ch.Status), ch.SubmittedAt.Format(dateLayout), reviewed}
		for i, v := range values {
			if err := set(cell(i+1, row), v); err != nil {
				return err
			}
		}
	}

	if err := f.SetColWidth(sh, "A", "A", 20); err != nil {
		return err
	}
	return f.SetColWidth(sh, "B", "D", 28)
}

func writeLog(f *excelize.File, messages []models.Message, bold int) error {
	sh := SheetLog
	header := []string{"No", "Tanggal", "Pengirim", "Pesan", "Lampiran"}
	for i, h := range header {
		if err := f.SetCellValue(sh, cell(i+1, 1), h); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(sh, "A1", cell(len(header), 1), bold); err != nil {
		return err
	}

	for i, m := range messages {
		row := i + 2
		dto := utils.ToMessageDTO(m)
		values := []interface{}{i + 1, m.CreatedAt.Format(dateLayout), senderName(dto.Sender), m.Content, m.AttachmentRef}
		for c, v := range values {
			if err := f.SetCellValue(sh, cell(c+1, row), v); err != nil {
				return err
			}
		}
	}

	if err := f.SetColWidth(sh, "B", "C", 20); err != nil {
		return err
	}
	return f.SetColWidth(sh, "D", "E", 50)
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}

func displayName(u *models.User) string {
	if u == nil {
		return "-"
	}
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}

func nim(u *models.User) string {
	if u == nil || u.NIM == "" {
		return "-"
	}
	return u.NIM
}

func senderName(s utils.UserShort) string {
	if s.FullName != "" {
		return s.FullName
	}
	return fmt.Sprintf("user #%d", s.ID)
}
