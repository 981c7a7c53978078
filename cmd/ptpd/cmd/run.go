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
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/facebook/ptpd/ptp/ptpd/daemon"
	"github.com/facebook/ptpd/ptp/ptpd/port"

	_ "net/http/pprof"
)

var (
	runConfigFlag         string
	runDelayMechanismFlag string
	runTimestampingFlag   string
	runPprofFlag          string
	runFlags              = daemon.DefaultConfig()
)

func init() {
	RootCmd.AddCommand(runCmd)
	f := runCmd.Flags()
	f.StringVarP(&runConfigFlag, "config", "c", "", "path to the config")
	f.StringVarP(&runFlags.Iface, "iface", "i", runFlags.Iface, "network interface to use")
	f.StringVarP(&runFlags.UnicastAddress, "unicast", "u", "", "also send messages to this IPv4 address")
	f.Uint8VarP(&runFlags.DomainNumber, "domain", "d", runFlags.DomainNumber, "PTP domain number")
	f.BoolVarP(&runFlags.SlaveOnly, "slave-only", "g", runFlags.SlaveOnly, "never become master")
	f.StringVar(&runDelayMechanismFlag, "delay-mechanism", string(runFlags.DelayMechanism), "delay mechanism, E2E or P2P")
	f.IntVar(&runFlags.DSCP, "dscp", runFlags.DSCP, "DSCP for PTP packets, valid values are between 0-63")
	f.StringVar(&runTimestampingFlag, "timestamping", runFlags.Timestamping.String(), "timestamping to use, software or user")
	f.StringVarP(&runFlags.RecordFile, "record-file", "R", "", "append sequence id and sync receive time of every sync to this file")
	f.IntVar(&runFlags.MonitoringPort, "monitoringport", runFlags.MonitoringPort, "port to run JSON monitoring server on, 0 disables it")
	f.IntVar(&runFlags.PrometheusPort, "prometheusport", runFlags.PrometheusPort, "port to run prometheus exporter on, 0 disables it")
	f.BoolVarP(&runFlags.DisplayStats, "display-stats", "D", false, "log port and servo stats on every change")
	f.StringVar(&runPprofFlag, "pprof", "", "Address to have the profiler listen on, disabled if empty.")
}

func changedFlags(fs *pflag.FlagSet) map[string]bool {
	setFlags := map[string]bool{}
	fs.Visit(func(f *pflag.Flag) {
		setFlags[f.Name] = true
	})
	return setFlags
}

func runDaemon(setFlags map[string]bool) error {
	runFlags.DelayMechanism = port.DelayMechanism(runDelayMechanismFlag)
	if err := runFlags.Timestamping.UnmarshalText([]byte(runTimestampingFlag)); err != nil {
		return err
	}
	cfg, err := daemon.PrepareConfig(runConfigFlag, runFlags, setFlags)
	if err != nil {
		return err
	}
	if runPprofFlag != "" {
		go func() {
			if err := http.ListenAndServe(runPprofFlag, nil); err != nil {
				log.Errorf("Failed to start pprof. Err: %v", err)
			}
		}()
	}
	d, err := daemon.New(cfg)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return d.Run(ctx)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run PTP ordinary clock on the interface",
	Run: func(c *cobra.Command, _ []string) {
		ConfigureVerbosity()

		if err := runDaemon(changedFlags(c.Flags())); err != nil {
			log.Fatal(err)
		}
	},
}
