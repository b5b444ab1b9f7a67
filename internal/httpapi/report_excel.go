package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"loan-monitor/internal/models"
)

const (
	summarySheet      = "Summary"
	maxSheetNameRunes = 31
)

// GenerateReportWorkbook 报告导出为 Excel
// Summary 表：报告元数据 + data 中的标量字段（嵌套对象展开为 a.b.c）
// 对象数组（如 equipment.mostUsed）各自一张表，列为所有对象键的并集
func GenerateReportWorkbook(report *models.ReportSnapshot) ([]byte, error) {
	var data map[string]any
	dec := json.NewDecoder(bytes.NewReader(report.Data))
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode report data: %w", err)
	}

	scalars := map[string]any{}
	tables := map[string][]map[string]any{}
	flattenReportData("", data, scalars, tables)

	f := excelize.NewFile()
	// Note: Don't defer Close() here, because WriteTo needs the file to be open

	index, err := f.NewSheet(summarySheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	rows := [][]any{
		{"Report ID", report.ID},
		{"Report Type", string(report.ReportType)},
		{"Period", report.Period},
		{"Generated At", report.GeneratedAt.UTC().Format(time.RFC3339)},
		{"Download Count", report.DownloadCount},
	}
	for _, key := range sortedKeys(scalars) {
		rows = append(rows, []any{key, scalars[key]})
	}
	if err := writeSheet(f, summarySheet, []string{"Field", "Value"}, rows, headerStyle, []float64{36, 40}); err != nil {
		f.Close()
		return nil, err
	}

	used := map[string]bool{summarySheet: true}
	for _, key := range sortedKeys(tables) {
		items := tables[key]
		name := sheetName(key, used)
		columns := unionKeys(items)
		tableRows := make([][]any, 0, len(items))
		for _, item := range items {
			row := make([]any, len(columns))
			for i, c := range columns {
				row[i] = cellValue(item[c])
			}
			tableRows = append(tableRows, row)
		}
		if _, err := f.NewSheet(name); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create sheet %s: %w", name, err)
		}
		if err := writeSheet(f, name, columns, tableRows, headerStyle, nil); err != nil {
			f.Close()
			return nil, err
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return buf.Bytes(), nil
}

// flattenReportData 标量写入 scalars，对象数组写入 tables，标量数组合并为逗号分隔字符串
func flattenReportData(prefix string, v map[string]any, scalars map[string]any, tables map[string][]map[string]any) {
	for key, value := range v {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		switch val := value.(type) {
		case map[string]any:
			flattenReportData(path, val, scalars, tables)
		case []any:
			if objects, ok := objectSlice(val); ok {
				tables[path] = objects
				continue
			}
			parts := make([]string, 0, len(val))
			for _, item := range val {
				parts = append(parts, fmt.Sprint(cellValue(item)))
			}
			scalars[path] = strings.Join(parts, ", ")
		default:
			scalars[path] = cellValue(val)
		}
	}
}

func objectSlice(in []any) ([]map[string]any, bool) {
	if len(in) == 0 {
		return nil, false
	}
	out := make([]map[string]any, 0, len(in))
	for _, item := range in {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		out = append(out, m)
	}
	return out, true
}

// cellValue 数字转 float64/int64，嵌套结构转 JSON 文本
func cellValue(v any) any {
	switch val := v.(type) {
	case nil:
		return ""
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case map[string]any, []any:
		raw, _ := json.Marshal(val)
		return string(raw)
	default:
		return val
	}
}

func writeSheet(f *excelize.File, sheet string, headers []string, rows [][]any, headerStyle int, widths []float64) error {
	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
		width := 20.0
		if col < len(widths) {
			width = widths[col]
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(sheet, name, name, width); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for rowIdx, row := range rows {
		for colIdx, value := range row {
			cell, err := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2) // 从第2行开始（第1行是表头）
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return fmt.Errorf("failed to set cell %s on %s: %w", cell, sheet, err)
			}
		}
	}

	// 冻结表头
	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze panes: %w", err)
	}
	return nil
}

// sheetName 表名最长 31 字符，且不能含 : \ / ? * [ ]
func sheetName(key string, used map[string]bool) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			return '_'
		}
		return r
	}, key)
	if runes := []rune(name); len(runes) > maxSheetNameRunes {
		name = string(runes[:maxSheetNameRunes])
	}
	base := name
	for i := 2; used[name]; i++ {
		suffix := fmt.Sprintf("~%d", i)
		runes := []rune(base)
		if len(runes)+len(suffix) > maxSheetNameRunes {
			runes = runes[:maxSheetNameRunes-len(suffix)]
		}
		name = string(runes) + suffix
	}
	used[name] = true
	return name
}

func unionKeys(items []map[string]any) []string {
	seen := map[string]bool{}
	var keys []string
	for _, item := range items {
		for k := range item {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
