package tabular

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadCSV(t *testing.T) {
	t.Run("plain comma file", func(t *testing.T) {
		path := writeTempFile(t, "customers.csv",
			"customer_id,customer_name,email\n"+
				"C001,Alice,alice@example.com\n"+
				"C002,Bob,bob@example.com\n")

		table, err := Read(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"customer_id", "customer_name", "email"}, table.Headers)
		require.Len(t, table.Rows, 2)
		assert.Equal(t, "C002", table.Rows[1][0])
	})

	t.Run("semicolon delimiter", func(t *testing.T) {
		path := writeTempFile(t, "orders.csv",
			"order_id;amount;date\nO1;10.50;2024-01-15\n")

		table, err := Read(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"order_id", "amount", "date"}, table.Headers)
		require.Len(t, table.Rows, 1)
	})

	t.Run("utf8 bom stripped", func(t *testing.T) {
		path := writeTempFile(t, "bom.csv",
			"\uFEFFname,email\nAlice,a@b.com\n")

		table, err := Read(path)
		require.NoError(t, err)
		assert.Equal(t, "name", table.Headers[0])
	})

	t.Run("latin1 bytes decoded", func(t *testing.T) {
		// "Jos<e-acute>" in Latin-1 is not valid UTF-8.
		content := append([]byte("name,city\nJos"), 0xE9)
		content = append(content, []byte(",Lisboa\n")...)
		path := filepath.Join(t.TempDir(), "latin1.csv")
		require.NoError(t, os.WriteFile(path, content, 0o644))

		table, err := Read(path)
		require.NoError(t, err)
		require.Len(t, table.Rows, 1)
		assert.Equal(t, "José", table.Rows[0][0])
	})

	t.Run("metadata lines above headers skipped", func(t *testing.T) {
		path := writeTempFile(t, "export.csv",
			"Exported 2024-06-01\n"+
				"\n"+
				"customer_id,customer_name,email\n"+
				"C001,Alice,alice@example.com\n")

		table, err := Read(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"customer_id", "customer_name", "email"}, table.Headers)
		require.Len(t, table.Rows, 1)
	})

	t.Run("empty rows dropped", func(t *testing.T) {
		path := writeTempFile(t, "gaps.csv",
			"name,email\nAlice,a@b.com\n,\n  , \nBob,b@b.com\n")

		table, err := Read(path)
		require.NoError(t, err)
		assert.Len(t, table.Rows, 2)
	})

	t.Run("header on the last scanned line found", func(t *testing.T) {
		var b strings.Builder
		for i := 0; i < 19; i++ {
			fmt.Fprintf(&b, "noise %d\n", i)
		}
		b.WriteString("name,email\nAlice,a@b.com\n")
		path := writeTempFile(t, "deep.csv", b.String())

		table, err := Read(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"name", "email"}, table.Headers)
		require.Len(t, table.Rows, 1)
	})

	t.Run("header beyond twenty lines not found", func(t *testing.T) {
		var b strings.Builder
		for i := 0; i < 20; i++ {
			fmt.Fprintf(&b, "noise %d\n", i)
		}
		b.WriteString("name,email\nAlice,a@b.com\n")
		path := writeTempFile(t, "deeper.csv", b.String())

		_, err := Read(path)
		assert.ErrorIs(t, err, ErrUnreadableFile)
	})

	t.Run("empty file fails", func(t *testing.T) {
		path := writeTempFile(t, "empty.csv", "")
		_, err := Read(path)
		assert.ErrorIs(t, err, ErrUnreadableFile)
	})

	t.Run("headers only fails", func(t *testing.T) {
		path := writeTempFile(t, "only.csv", "name,email\n")
		_, err := Read(path)
		assert.ErrorIs(t, err, ErrUnreadableFile)
	})

	t.Run("missing file fails", func(t *testing.T) {
		_, err := Read(filepath.Join(t.TempDir(), "nope.csv"))
		assert.ErrorIs(t, err, ErrUnreadableFile)
	})

	t.Run("unsupported extension", func(t *testing.T) {
		path := writeTempFile(t, "data.json", "{}")
		_, err := Read(path)
		assert.ErrorIs(t, err, ErrUnsupportedType)
	})
}

func TestReadExcel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.xlsx")

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	cells := [][]any{
		{"item_code", "item_name", "price"},
		{"SKU-1", "Widget", 9.99},
		{"SKU-2", "Gadget", 19.99},
	}
	for r, row := range cells {
		for c, v := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue(sheet, cell, v))
		}
	}
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	table, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"item_code", "item_name", "price"}, table.Headers)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "SKU-1", table.Rows[0][0])
}

func TestReadExcelHeaderScanWindow(t *testing.T) {
	write := func(t *testing.T, noiseRows int) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "deep.xlsx")
		f := excelize.NewFile()
		sheet := f.GetSheetName(0)
		for r := 0; r < noiseRows; r++ {
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue(sheet, cell, "noise"))
		}
		for r, row := range [][]string{{"item_code", "item_name"}, {"SKU-1", "Widget"}} {
			for c, v := range row {
				cell, err := excelize.CoordinatesToCellName(c+1, noiseRows+r+1)
				require.NoError(t, err)
				require.NoError(t, f.SetCellValue(sheet, cell, v))
			}
		}
		require.NoError(t, f.SaveAs(path))
		require.NoError(t, f.Close())
		return path
	}

	t.Run("header on the last scanned row found", func(t *testing.T) {
		table, err := Read(write(t, 19))
		require.NoError(t, err)
		assert.Equal(t, []string{"item_code", "item_name"}, table.Headers)
		require.Len(t, table.Rows, 1)
	})

	t.Run("header beyond twenty rows not found", func(t *testing.T) {
		_, err := Read(write(t, 20))
		assert.ErrorIs(t, err, ErrUnreadableFile)
	})
}

func TestTableHelpers(t *testing.T) {
	table := &Table{
		Headers: []string{"name", "email"},
		Rows: [][]string{
			{"Alice", "a@b.com"},
			{"Bob"},
		},
	}

	t.Run("column", func(t *testing.T) {
		assert.Equal(t, []string{"a@b.com", ""}, table.Column("email"))
		assert.Nil(t, table.Column("missing"))
	})

	t.Run("row map pads short rows", func(t *testing.T) {
		m := table.RowMap(1)
		assert.Equal(t, "Bob", m["name"])
		assert.Equal(t, "", m["email"])
	})
}
