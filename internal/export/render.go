package export

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Format selects a rendition.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat accepts csv (default) or xlsx.
func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("export: unsupported format %q", raw)
}

// Rendered is a ready-to-send file.
type Rendered struct {
	Filename    string
	ContentType string
	Body        []byte
	// ContentSHA256 is set for CSV only: the hex digest of the body without the BOM.
	ContentSHA256 string
}

const (
	csvFlushEvery = 200
	csvBufferSize = 32 * 1024
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type csvStreamer struct {
	buf          *bufio.Writer
	csv          *csv.Writer
	flushEvery   int
	pendingLines int
}

func newCSVStreamer(w io.Writer) *csvStreamer {
	buf := bufio.NewWriterSize(w, csvBufferSize)
	writer := csv.NewWriter(buf)
	writer.UseCRLF = true
	return &csvStreamer{buf: buf, csv: writer, flushEvery: csvFlushEvery}
}

func (s *csvStreamer) writeRow(row []string) error {
	if err := s.csv.Write(row); err != nil {
		return err
	}
	s.pendingLines++
	if s.flushEvery > 0 && s.pendingLines >= s.flushEvery {
		return s.Flush()
	}
	return nil
}

func (s *csvStreamer) Flush() error {
	s.csv.Flush()
	if err := s.csv.Error(); err != nil {
		return err
	}
	if err := s.buf.Flush(); err != nil {
		return err
	}
	s.pendingLines = 0
	return nil
}

// WriteCSV streams the header and sorted rows of ds to w with CRLF line endings and no BOM.
func WriteCSV(w io.Writer, ds Dataset) error {
	if len(ds.Columns) == 0 {
		return errors.New("export: dataset has no columns")
	}
	s := newCSVStreamer(w)
	if err := s.writeRow(ds.Columns); err != nil {
		return err
	}
	for _, row := range ds.Sorted() {
		if err := s.writeRow(row); err != nil {
			return err
		}
	}
	return s.Flush()
}

// CSV renders ds with a UTF-8 BOM. Identical data always yields identical bytes and hash.
func CSV(ds Dataset) (Rendered, error) {
	var content bytes.Buffer
	if err := WriteCSV(&content, ds); err != nil {
		return Rendered{}, err
	}
	sum := sha256.Sum256(content.Bytes())
	body := make([]byte, 0, len(utf8BOM)+content.Len())
	body = append(body, utf8BOM...)
	body = append(body, content.Bytes()...)
	return Rendered{
		Filename:      ds.Name + ".csv",
		ContentType:   "text/csv; charset=utf-8",
		Body:          body,
		ContentSHA256: hex.EncodeToString(sum[:]),
	}, nil
}

const sheetName = "Sheet1"

// XLSX renders ds as a single-sheet workbook.
func XLSX(ds Dataset) (Rendered, error) {
	if len(ds.Columns) == 0 {
		return Rendered{}, errors.New("export: dataset has no columns")
	}
	f := excelize.NewFile()
	defer f.Close()

	write := func(rowNo int, cells []string) error {
		for i, v := range cells {
			name, err := excelize.CoordinatesToCellName(i+1, rowNo)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheetName, name, v); err != nil {
				return err
			}
		}
		return nil
	}
	if err := write(1, ds.Columns); err != nil {
		return Rendered{}, fmt.Errorf("export: xlsx header: %w", err)
	}
	for i, row := range ds.Sorted() {
		if err := write(i+2, row); err != nil {
			return Rendered{}, fmt.Errorf("export: xlsx row %d: %w", i+1, err)
		}
	}
	var out bytes.Buffer
	if err := f.Write(&out); err != nil {
		return Rendered{}, fmt.Errorf("export: xlsx write: %w", err)
	}
	return Rendered{
		Filename:    ds.Name + ".xlsx",
		ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		Body:        out.Bytes(),
	}, nil
}

// Render dispatches on format.
func Render(ds Dataset, format Format) (Rendered, error) {
	if format == FormatXLSX {
		return XLSX(ds)
	}
	return CSV(ds)
}
