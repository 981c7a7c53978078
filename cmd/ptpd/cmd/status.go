/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	ptp "github.com/facebook/ptpd/ptp/protocol"
	"github.com/facebook/ptpd/ptp/ptpd/stats"
)

var (
	statusAddressFlag  string
	statusCountersFlag bool
)

func init() {
	RootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVarP(&statusAddressFlag, "address", "a", "http://localhost:4269", "address of ptpd monitoring server")
	statusCmd.Flags().BoolVarP(&statusCountersFlag, "counters", "c", false, "also print all counters")
}

func colorState(state string) string {
	switch state {
	case ptp.PortStateSlave.String(), ptp.PortStateMaster.String():
		return color.GreenString(state)
	case ptp.PortStateFaulty.String(), ptp.PortStateDisabled.String():
		return color.RedString(state)
	default:
		return color.YellowString(state)
	}
}

func statusRows(st *stats.Status) [][]string {
	q := st.GrandmasterClockQuality
	return [][]string{
		{"state", colorState(st.State)},
		{"port identity", st.PortIdentity},
		{"parent port identity", st.ParentPortIdentity},
		{"grandmaster", st.GrandmasterIdentity},
		{"grandmaster class", fmt.Sprintf("%d", q.ClockClass)},
		{"grandmaster accuracy", fmt.Sprintf("0x%02x", uint8(q.ClockAccuracy))},
		{"grandmaster variance", fmt.Sprintf("%d", q.OffsetScaledLogVariance)},
		{"grandmaster priority1", fmt.Sprintf("%d", st.GrandmasterPriority1)},
		{"grandmaster priority2", fmt.Sprintf("%d", st.GrandmasterPriority2)},
		{"steps removed", fmt.Sprintf("%d", st.StepsRemoved)},
		{"utc offset", fmt.Sprintf("%d", st.CurrentUTCOffset)},
		{"offset from master", fmt.Sprintf("%dns", st.Offset)},
		{"mean path delay", fmt.Sprintf("%dns", st.MeanPathDelay)},
		{"frequency", fmt.Sprintf("%dppb", st.Freq)},
		{"foreign masters", fmt.Sprintf("%d", st.ForeignMasters)},
	}
}

func portStatsRows(c stats.Counters) [][]string {
	tx, rx := c.PortStats()
	names := map[string]bool{}
	for k := range tx {
		names[k] = true
	}
	for k := range rx {
		names[k] = true
	}
	keys := make([]string, 0, len(names))
	for k := range names {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{k, fmt.Sprintf("%d", tx[k]), fmt.Sprintf("%d", rx[k])})
	}
	return rows
}

func renderTable(w io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetColWidth(40)
	table.SetHeader(header)
	for _, val := range rows {
		table.Append(val)
	}
	table.Render()
}

func statusRun(address string, counters bool) error {
	st, err := stats.FetchStatus(address)
	if err != nil {
		return fmt.Errorf("fetching status: %w", err)
	}
	renderTable(os.Stdout, []string{"field", "value"}, statusRows(st))

	c, err := stats.FetchCounters(address)
	if err != nil {
		return fmt.Errorf("fetching counters: %w", err)
	}
	renderTable(os.Stdout, []string{"message", "tx", "rx"}, portStatsRows(c))
	if !counters {
		return nil
	}
	rows := [][]string{}
	for _, k := range c.Keys() {
		rows = append(rows, []string{k, fmt.Sprintf("%d", c[k])})
	}
	renderTable(os.Stdout, []string{"counter", "value"}, rows)
	return nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print status of running ptpd",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()

		if err := statusRun(statusAddressFlag, statusCountersFlag); err != nil {
			log.Fatal(err)
		}
	},
}
