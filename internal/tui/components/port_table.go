package components

import (
	"github.com/allbin/go-updi"
	"github.com/allbin/go-updi/internal/tui/colors"
	"github.com/allbin/go-updi/internal/tui/styles"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/evertras/bubble-table/table"
)

const (
	columnKeyPort    = "port"
	columnKeyType    = "type"
	columnKeyUSB     = "usb"
	columnKeySerial  = "serial"
	columnKeyProduct = "product"
)

// PortTable lists serial ports with their USB identity
type PortTable struct {
	table table.Model
	ports []*updi.PortInfo
}

func NewPortTable(ports []*updi.PortInfo) *PortTable {
	columns := []table.Column{
		table.NewColumn(columnKeyPort, "Port", 16),
		table.NewColumn(columnKeyType, "Type", 20),
		table.NewColumn(columnKeyUSB, "VID:PID", 10),
		table.NewColumn(columnKeySerial, "Serial", 14),
		table.NewColumn(columnKeyProduct, "Product", 28),
	}

	rows := make([]table.Row, 0, len(ports))
	for _, info := range ports {
		rows = append(rows, table.NewRow(RowData(info)))
	}

	t := table.New(columns).
		WithRows(rows).
		Focused(true).
		BorderRounded().
		WithBaseStyle(lipgloss.NewStyle().
			BorderForeground(colors.Surface1).
			Foreground(colors.Text).
			Align(lipgloss.Left)).
		HeaderStyle(styles.HeaderStyle).
		HighlightStyle(styles.HighlightStyle)

	return &PortTable{
		table: t,
		ports: ports,
	}
}

// RowData maps a port to the table's columns
func RowData(info *updi.PortInfo) table.RowData {
	usb := ""
	if info.IsUSB() {
		usb = info.VendorID + ":" + info.ProductID
	}
	product := info.Product
	if product == "" {
		product = info.Description
	}
	return table.RowData{
		columnKeyPort:    info.Path,
		columnKeyType:    info.Description,
		columnKeyUSB:     usb,
		columnKeySerial:  info.SerialNumber,
		columnKeyProduct: product,
	}
}

// Selected returns the highlighted port's path
func (pt *PortTable) Selected() string {
	if len(pt.ports) == 0 {
		return ""
	}
	path, _ := pt.table.HighlightedRow().Data[columnKeyPort].(string)
	return path
}

func (pt *PortTable) Update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	pt.table, cmd = pt.table.Update(msg)
	return cmd
}

func (pt *PortTable) View() string {
	return pt.table.View()
}
