package services

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
	"gorm.io/datatypes"

	"look-marketplace/internal/clients"
	"look-marketplace/internal/clients/tiny"
	"look-marketplace/internal/models"
)

const (
	defaultImportPages = 10
	maxImportPages     = 50
	templateSheet      = "Produtos"
)

var (
	ErrMissingToken      = errors.New("token is required")
	ErrUnsupportedFormat = errors.New("only CSV and XLSX files are supported")
	ErrEmptyFile         = errors.New("the file contains no data rows")
)

// TinyCatalog is the part of the Tiny client used by imports and previews
type TinyCatalog interface {
	SearchProducts(ctx context.Context, token string, page int) (*tiny.SearchPage, error)
	FetchStock(ctx context.Context, token string, refs []clients.ProductRef) *clients.StockLookup
}

// RowStager stores rows as staging drafts
type RowStager interface {
	StageRows(ctx context.Context, rows []models.StagingRow) (int, error)
}

// ImportService fills the staging table from Tiny or from spreadsheets
type ImportService struct {
	tiny   TinyCatalog
	stager RowStager
	logger *logrus.Entry
}

// NewImportService creates an import service
func NewImportService(tinyCatalog TinyCatalog, stager RowStager, logger *logrus.Logger) *ImportService {
	return &ImportService{
		tiny:   tinyCatalog,
		stager: stager,
		logger: logger.WithField("component", "import_service"),
	}
}

// ImportFromTiny pages through the account's products, resolves their stock
// and stages one draft row per Tiny product. The Tiny payload is kept in
// raw_payload.
func (s *ImportService) ImportFromTiny(ctx context.Context, storeID int64, token string, pages int) (int, error) {
	if storeID <= 0 {
		return 0, ErrMissingStoreID
	}
	if strings.TrimSpace(token) == "" {
		return 0, ErrMissingToken
	}
	if pages <= 0 {
		pages = defaultImportPages
	}
	if pages > maxImportPages {
		pages = maxImportPages
	}

	var products []tiny.Product
	for page := 1; page <= pages; page++ {
		result, err := s.tiny.SearchProducts(ctx, token, page)
		if err != nil {
			return 0, fmt.Errorf("failed to list tiny products (page %d): %w", page, err)
		}
		products = append(products, result.Products...)
		if result.TotalPages <= page || len(result.Products) == 0 {
			break
		}
	}
	if len(products) == 0 {
		return 0, nil
	}

	refs := make([]clients.ProductRef, 0, len(products))
	for _, p := range products {
		refs = append(refs, clients.ProductRef{ID: p.ID, Code: p.Code})
	}
	lookup := s.tiny.FetchStock(ctx, token, refs)
	if len(lookup.Debug) > 0 {
		s.logger.WithFields(logrus.Fields{
			"store_id": storeID,
			"missing":  len(lookup.Debug),
		}).Warn("some tiny products have no stock")
	}

	rows := make([]models.StagingRow, 0, len(products))
	for _, p := range products {
		row := models.StagingRow{
			StoreID:    storeID,
			RawName:    p.Name,
			RawPrice:   p.Price.String(),
			RawPayload: datatypes.JSON(p.Raw),
		}
		if p.ID != "" {
			id := p.ID
			row.ExternalID = &id
		}
		if name := strings.TrimSpace(p.Name); name != "" {
			row.Name = &name
		}
		price := tinyPrice(p)
		row.Price = &price
		if stock, ok := lookup.ByID[p.ID]; ok {
			row.RawStock = strconv.Itoa(stock)
			if stock < 0 {
				stock = 0
			}
			row.Stock = &stock
		}
		rows = append(rows, row)
	}

	staged, err := s.stager.StageRows(ctx, rows)
	if err != nil {
		return 0, err
	}
	s.logger.WithFields(logrus.Fields{"store_id": storeID, "staged": staged}).Info("tiny import staged")
	return staged, nil
}

// ImportFromSpreadsheet stages the rows of a CSV or XLSX upload. Invalid rows
// are reported and skipped; the others are staged.
func (s *ImportService) ImportFromSpreadsheet(ctx context.Context, storeID int64, filename string, file io.Reader) (*models.StagingUploadResult, error) {
	if storeID <= 0 {
		return nil, ErrMissingStoreID
	}

	var records []map[string]string
	var err error
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		records, err = ParseCSV(file)
	case ".xlsx":
		records, err = ParseXLSX(file)
	default:
		return nil, ErrUnsupportedFormat
	}
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrEmptyFile
	}

	result := &models.StagingUploadResult{Errors: []models.ImportRowError{}}
	rows := make([]models.StagingRow, 0, len(records))
	for _, record := range records {
		row, rowErrs := stagingRowFromRecord(storeID, record)
		if len(rowErrs) > 0 {
			result.Errors = append(result.Errors, rowErrs...)
			continue
		}
		rows = append(rows, row)
	}

	if len(rows) > 0 {
		if result.Staged, err = s.stager.StageRows(ctx, rows); err != nil {
			return nil, err
		}
	}
	s.logger.WithFields(logrus.Fields{
		"store_id": storeID,
		"staged":   result.Staged,
		"errors":   len(result.Errors),
	}).Info("spreadsheet import staged")
	return result, nil
}

func stagingRowFromRecord(storeID int64, record map[string]string) (models.StagingRow, []models.ImportRowError) {
	rowNum, _ := strconv.Atoi(record["_row"])
	var errs []models.ImportRowError
	addError := func(column, code, message string) {
		errs = append(errs, models.ImportRowError{Row: rowNum, Column: column, Code: code, Message: message})
	}

	row := models.StagingRow{
		StoreID:     storeID,
		RawName:     record["name"],
		RawPrice:    record["price"],
		RawStock:    record["stock"],
		ImageURL:    record["image_url"],
		Category:    record["category"],
		Gender:      strings.ToLower(record["gender"]),
		Subcategory: record["subcategory"],
	}

	if row.RawName == "" {
		addError("name", "REQUIRED", "Product name is required")
	} else {
		name := row.RawName
		row.Name = &name
	}

	if row.RawPrice == "" {
		addError("price", "REQUIRED", "Price is required")
	} else if !hasDigit(row.RawPrice) {
		addError("price", "INVALID", "Price must be a number")
	} else {
		price := coerceDecimal(row.RawPrice)
		if price.IsNegative() {
			addError("price", "INVALID", "Price cannot be negative")
		}
		row.Price = &price
	}

	if row.RawStock != "" {
		if !hasDigit(row.RawStock) {
			addError("stock", "INVALID", "Stock must be a number")
		} else {
			stock := coerceStock(row.RawStock)
			row.Stock = &stock
		}
	}

	if ext := record["external_id"]; ext != "" {
		row.ExternalID = &ext
	}
	if sizes := models.SplitSizes(record["sizes"]); len(sizes) > 0 {
		data, _ := json.Marshal(sizes)
		row.Sizes = datatypes.JSON(data)
	}
	if photos := splitURLs(record["photo_urls"]); len(photos) > 0 {
		data, _ := json.Marshal(photos)
		row.PhotoURLs = datatypes.JSON(data)
	}

	raw, _ := json.Marshal(record)
	row.RawPayload = datatypes.JSON(raw)
	return row, errs
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

func splitURLs(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == '|' || unicode.IsSpace(r)
	})
	return cleanURLs(fields)
}

func normalizeHeaders(headers []string) {
	for i := range headers {
		h := strings.TrimSpace(strings.ToLower(headers[i]))
		h = strings.TrimPrefix(h, "\ufeff")
		headers[i] = strings.TrimSuffix(h, " *")
	}
}

// ParseCSV reads a CSV upload into header-keyed rows. Each row carries its
// 1-based line number under "_row". Comma and semicolon separators are both
// accepted.
func ParseCSV(file io.Reader) ([]map[string]string, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	reader := csv.NewReader(strings.NewReader(string(data)))
	if firstLine, _, _ := strings.Cut(string(data), "\n"); strings.Count(firstLine, ";") > strings.Count(firstLine, ",") {
		reader.Comma = ';'
	}
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	normalizeHeaders(headers)

	var rows []map[string]string
	lineNum := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading line %d: %w", lineNum+1, err)
		}
		lineNum++
		if isBlankRecord(record) {
			continue
		}

		row := make(map[string]string, len(headers)+1)
		for i, value := range record {
			if i < len(headers) {
				row[headers[i]] = strings.TrimSpace(value)
			}
		}
		row["_row"] = strconv.Itoa(lineNum)
		rows = append(rows, row)
	}
	return rows, nil
}

// ParseXLSX reads the first sheet of an Excel upload, or the template sheet
// when present, into header-keyed rows
func ParseXLSX(file io.Reader) ([]map[string]string, error) {
	f, err := excelize.OpenReader(file)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("no sheets found in Excel file")
	}
	sheetName := sheets[0]
	for _, name := range sheets {
		if strings.EqualFold(name, templateSheet) {
			sheetName = name
			break
		}
	}

	excelRows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet: %w", err)
	}
	if len(excelRows) == 0 {
		return nil, nil
	}

	headers := excelRows[0]
	normalizeHeaders(headers)

	var rows []map[string]string
	for idx, excelRow := range excelRows[1:] {
		if isBlankRecord(excelRow) {
			continue
		}
		row := make(map[string]string, len(headers)+1)
		for i, value := range excelRow {
			if i < len(headers) {
				row[headers[i]] = strings.TrimSpace(value)
			}
		}
		row["_row"] = strconv.Itoa(idx + 2)
		rows = append(rows, row)
	}
	return rows, nil
}

func isBlankRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// WriteStagingTemplate writes the upload template as CSV (headers only) or as
// an XLSX workbook with an instructions sheet
func WriteStagingTemplate(w io.Writer, format string) error {
	columns := models.StagingTemplateColumns()
	switch format {
	case "csv":
		writer := csv.NewWriter(w)
		headers := make([]string, len(columns))
		for i, col := range columns {
			headers[i] = col.Name
		}
		if err := writer.Write(headers); err != nil {
			return err
		}
		writer.Flush()
		return writer.Error()
	case "xlsx":
		return writeXLSXTemplate(w, columns)
	default:
		return ErrUnsupportedFormat
	}
}

func writeXLSXTemplate(w io.Writer, columns []models.TemplateColumn) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", templateSheet); err != nil {
		return err
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:   &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:   excelize.Fill{Type: "pattern", Color: []string{"1F1F1F"}, Pattern: 1},
		Border: []excelize.Border{{Type: "bottom", Color: "000000", Style: 1}},
	})
	if err != nil {
		return err
	}
	requiredStyle, err := f.NewStyle(&excelize.Style{
		Font:   &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:   excelize.Fill{Type: "pattern", Color: []string{"B4235A"}, Pattern: 1},
		Border: []excelize.Border{{Type: "bottom", Color: "000000", Style: 1}},
	})
	if err != nil {
		return err
	}

	for i, col := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		header, style := col.Name, headerStyle
		if col.Required {
			header, style = col.Name+" *", requiredStyle
		}
		f.SetCellValue(templateSheet, cell, header)
		f.SetCellStyle(templateSheet, cell, cell, style)

		example, _ := excelize.CoordinatesToCellName(i+1, 2)
		f.SetCellValue(templateSheet, example, col.Example)

		colName, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(templateSheet, colName, colName, 22)
	}

	const instructions = "Instrucoes"
	if _, err := f.NewSheet(instructions); err != nil {
		return err
	}
	f.SetCellValue(instructions, "A1", "Importacao de produtos Look")
	f.SetCellValue(instructions, "A2", "Linhas com o mesmo nome e tamanhos diferentes (\"Vestido Azul - P\", \"Vestido Azul - M\") viram um produto com grade.")
	f.SetCellValue(instructions, "A4", "Coluna")
	f.SetCellValue(instructions, "B4", "Descricao")
	f.SetCellValue(instructions, "C4", "Obrigatoria")
	f.SetCellValue(instructions, "D4", "Exemplo")
	for i, col := range columns {
		row := i + 5
		required := "Nao"
		if col.Required {
			required = "Sim"
		}
		f.SetCellValue(instructions, fmt.Sprintf("A%d", row), col.Name)
		f.SetCellValue(instructions, fmt.Sprintf("B%d", row), col.Description)
		f.SetCellValue(instructions, fmt.Sprintf("C%d", row), required)
		f.SetCellValue(instructions, fmt.Sprintf("D%d", row), col.Example)
	}
	f.SetColWidth(instructions, "A", "A", 20)
	f.SetColWidth(instructions, "B", "B", 70)
	f.SetColWidth(instructions, "D", "D", 35)

	if idx, err := f.GetSheetIndex(templateSheet); err == nil {
		f.SetActiveSheet(idx)
	}
	_, err = f.WriteTo(w)
	return err
}

func tinyPrice(p tiny.Product) decimal.Decimal {
	return p.Price.Round(2)
}
