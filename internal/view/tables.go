package view

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/rbright/pyronotes/internal/audio"
	"github.com/rbright/pyronotes/internal/drafts"
)

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetBorder(false)
	table.SetCenterSeparator("|")
	table.SetColumnSeparator("|")
	table.SetRowSeparator("-")
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	return table
}

// DraftsTable lists unsaved drafts, newest first as given.
func DraftsTable(w io.Writer, list []drafts.Draft) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No unsaved drafts.")
		return
	}

	table := newTable(w, []string{"ID", "Source", "Status", "Updated", "Duration", "Words", "Error"})
	for _, d := range list {
		table.Append([]string{
			d.ID,
			d.Source,
			d.Status,
			d.UpdatedAt.Local().Format("2006-01-02 15:04"),
			fmt.Sprintf("%d s", d.DurationSec),
			strconv.Itoa(len(strings.Fields(d.Transcript))),
			d.LastError,
		})
	}
	table.Render()
}

// DevicesTable lists capture sources; the default is starred.
func DevicesTable(w io.Writer, devices []audio.Device) {
	if len(devices) == 0 {
		fmt.Fprintln(w, "No audio devices found.")
		return
	}

	table := newTable(w, []string{"", "ID", "Description", "State", "Available", "Muted"})
	for _, d := range devices {
		mark := ""
		if d.Default {
			mark = "*"
		}
		table.Append([]string{
			mark,
			d.ID,
			d.Description,
			d.State,
			yesNo(d.Available),
			yesNo(d.Muted),
		})
	}
	table.Render()
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
