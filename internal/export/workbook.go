// Package export serializes today's active operator records into the
// Excel 2003 SpreadsheetML workbook the vendor data loader ingests. The
// workbook shape is vendor-defined and fixed: a header row of field codes
// the loader maps onto its import screen, then one "[u:1]" update row per
// record. Only the row contents vary; everything else is template.
package export

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
	"time"

	"github.com/erimojdehi/licsync/internal/domain"
)

// workbookTmpl is the loader's import workbook. The first table row maps
// workbook columns to loader field ids (licence, department, class,
// expiry); the leading 2022 cell selects the loader's import table.
const workbookTmpl = `<?xml version="1.0"?>
<?mso-application progid="Excel.Sheet"?>
<Workbook xmlns="urn:schemas-microsoft-com:office:spreadsheet"
 xmlns:o="urn:schemas-microsoft-com:office:office"
 xmlns:x="urn:schemas-microsoft-com:office:excel"
 xmlns:ss="urn:schemas-microsoft-com:office:spreadsheet"
 xmlns:html="http://www.w3.org/TR/REC-html40">
 <DocumentProperties xmlns="urn:schemas-microsoft-com:office:office">
  <Author>Operator Licence Sync</Author>
  <LastAuthor>Operator Licence Sync</LastAuthor>
  <Created>{{.Created}}</Created>
  <Version>16.00</Version>
 </DocumentProperties>
 <ExcelWorkbook xmlns="urn:schemas-microsoft-com:office:excel">
  <ProtectStructure>False</ProtectStructure>
  <ProtectWindows>False</ProtectWindows>
 </ExcelWorkbook>
 <Styles>
  <Style ss:ID="Default" ss:Name="Normal">
   <Alignment ss:Vertical="Bottom"/>
   <Borders/>
   <Font ss:FontName="Calibri" x:Family="Swiss" ss:Size="11" ss:Color="#000000"/>
   <Interior/>
   <NumberFormat/>
   <Protection/>
  </Style>
  <Style ss:ID="s62">
   <NumberFormat ss:Format="@"/>
  </Style>
 </Styles>
 <Worksheet ss:Name="Work Order Center">
  <Table ss:ExpandedColumnCount="5" x:FullColumns="1" x:FullRows="1">
   <Row>
    <Cell ss:StyleID="s62"><Data ss:Type="Number">2022</Data></Cell>
    <Cell ss:StyleID="s62"><Data ss:Type="String">101:2</Data></Cell>
    <Cell ss:StyleID="s62"><Data ss:Type="String">103:4</Data></Cell>
    <Cell ss:StyleID="s62"><Data ss:Type="String">105:6</Data></Cell>
    <Cell ss:StyleID="s62"><Data ss:Type="String">107:8</Data></Cell>
   </Row>
{{- range .Rows}}
   <Row>
    <Cell><Data ss:Type="String">[u:1]</Data></Cell>
    <Cell><Data ss:Type="String">{{xml .Licence}}</Data></Cell>
    <Cell><Data ss:Type="String">{{xml .Department}}</Data></Cell>
    <Cell><Data ss:Type="String">{{xml .Class}}</Data></Cell>
    <Cell><Data ss:Type="String">{{xml .Expiry}}</Data></Cell>
   </Row>
{{- end}}
  </Table>
  <WorksheetOptions xmlns="urn:schemas-microsoft-com:office:excel">
   <ProtectObjects>False</ProtectObjects>
   <ProtectScenarios>False</ProtectScenarios>
  </WorksheetOptions>
 </Worksheet>
</Workbook>
`

type row struct {
	Licence    string
	Department string
	Class      string
	Expiry     string
}

var tmpl = template.Must(template.New("workbook").Funcs(template.FuncMap{
	"xml": escape,
}).Parse(workbookTmpl))

// escape renders s as XML character data.
func escape(s string) string {
	var b bytes.Buffer
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return ""
	}
	return b.String()
}

// Render produces the workbook bytes for the given records.
func Render(when time.Time, recs []domain.OperatorRecord) ([]byte, error) {
	rows := make([]row, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, row{
			Licence:    r.Licence,
			Department: r.Department,
			Class:      r.Class,
			Expiry:     r.Expiry.Format(domain.DateLayout),
		})
	}
	data := struct {
		Created string
		Rows    []row
	}{
		Created: when.UTC().Format("2006-01-02T15:04:05Z"),
		Rows:    rows,
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteWorkbook renders the upload workbook for recs and writes it to
// path atomically (temp file + rename), so a crash never leaves a
// half-written upload file for the loader to pick up.
func WriteWorkbook(path string, when time.Time, recs []domain.OperatorRecord) error {
	data, err := Render(when, recs)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create upload dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write upload file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("place upload file: %w", err)
	}
	return nil
}
