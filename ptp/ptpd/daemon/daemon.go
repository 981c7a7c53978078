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

/*
Package daemon wires a PTP port to the network, the system clock and the
monitoring servers and runs them until the context is cancelled.
*/
package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	sddaemon "github.com/coreos/go-systemd/daemon"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/facebook/ptpd/clock"
	"github.com/facebook/ptpd/leapsectz"
	ptp "github.com/facebook/ptpd/ptp/protocol"
	"github.com/facebook/ptpd/ptp/ptpd/netio"
	"github.com/facebook/ptpd/ptp/ptpd/port"
	"github.com/facebook/ptpd/ptp/ptpd/stats"
	"github.com/facebook/ptpd/ptp/ptpd/timer"
)

// how often the status snapshot is refreshed
const statusInterval = time.Second

// Daemon runs a single PTP port
type Daemon struct {
	cfg   *Config
	port  *port.Port
	stats *stats.Stats

	notified bool
}

// ClockIdentity derives clock identity from the MAC address of iface
func ClockIdentity(iface string) (ptp.ClockIdentity, error) {
	i, err := net.InterfaceByName(iface)
	if err != nil {
		return 0, fmt.Errorf("looking up interface %q: %w", iface, err)
	}
	return ptp.NewClockIdentity(i.HardwareAddr)
}

// applyLeapFile sets current_utc_offset from the leap second table, if configured
func applyLeapFile(cfg *Config, now time.Time) error {
	if cfg.LeapFile == "" {
		return nil
	}
	ls, err := leapsectz.Parse(cfg.LeapFile)
	if err != nil {
		return err
	}
	cfg.CurrentUTCOffset = leapsectz.UTCOffset(ls, now)
	log.Infof("current UTC offset is %ds according to %s", cfg.CurrentUTCOffset, cfg.LeapFile)
	return nil
}

// New creates Daemon using the interface from cfg and the system clock
func New(cfg *Config) (*Daemon, error) {
	if err := applyLeapFile(cfg, time.Now()); err != nil {
		log.Warningf("keeping current_utc_offset %d: %v", cfg.CurrentUTCOffset, err)
	}
	clockID, err := ClockIdentity(cfg.Iface)
	if err != nil {
		return nil, err
	}
	return newDaemon(cfg, clockID, netio.New(cfg.NetConfig()), clock.NewSysClock(), timer.NewMonotonic())
}

func newDaemon(cfg *Config, clockID ptp.ClockIdentity, n port.Network, c port.Clock, ticks timer.TickSource) (*Daemon, error) {
	st := stats.NewStats()
	p, err := port.New(&cfg.Config, clockID, n, c, ticks, st)
	if err != nil {
		return nil, err
	}
	return &Daemon{cfg: cfg, port: p, stats: st}, nil
}

// Stats returns stats the daemon reports to
func (d *Daemon) Stats() *stats.Stats {
	return d.stats
}

// Status builds monitoring snapshot of the port
func Status(p *port.Port) *stats.Status {
	parent := p.Parent()
	st := &stats.Status{
		State:                   p.State().String(),
		PortIdentity:            p.PortIdentity().String(),
		ParentPortIdentity:      parent.ParentPortIdentity.String(),
		GrandmasterIdentity:     parent.GrandmasterIdentity.String(),
		GrandmasterClockQuality: parent.GrandmasterClockQuality,
		GrandmasterPriority1:    parent.GrandmasterPriority1,
		GrandmasterPriority2:    parent.GrandmasterPriority2,
		StepsRemoved:            int(parent.StepsRemoved),
		CurrentUTCOffset:        int(parent.CurrentUTCOffset),
		ForeignMasters:          p.Foreign().Len(),
	}
	switch p.State() {
	case ptp.PortStateSlave, ptp.PortStateUncalibrated:
		s := p.Servo()
		st.Offset = s.Offset().Nanoseconds64()
		st.MeanPathDelay = s.MeanPathDelay().Nanoseconds64()
		st.Freq = int64(s.Freq())
	}
	return st
}

func (d *Daemon) publish() {
	d.stats.SetStatus(Status(d.port))
	if d.notified || d.port.State() == ptp.PortStateInitializing {
		return
	}
	d.notified = true
	ok, err := sddaemon.SdNotify(false, sddaemon.SdNotifyReady)
	if err != nil {
		log.Warningf("failed to notify systemd: %v", err)
	} else if ok {
		log.Debug("notified systemd")
	}
}

// runPort drives the port state machine. Status is published every statusInterval.
func (d *Daemon) runPort(ctx context.Context) error {
	log.Infof("starting port %s", d.port.PortIdentity())
	defer func() {
		d.publish()
		if err := d.port.Close(); err != nil {
			log.Warningf("closing port: %v", err)
		}
	}()
	last := time.Time{}
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		d.port.DoState()
		if now := time.Now(); now.Sub(last) >= statusInterval {
			d.publish()
			last = now
		}
	}
}

// reopenOnHangup reopens record file on SIGHUP so it can be rotated
func (d *Daemon) reopenOnHangup(ctx context.Context) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGHUP)
	defer signal.Stop(sigs)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sigs:
			r := d.port.Record()
			if r == nil {
				continue
			}
			log.Info("reopening record file")
			if err := r.Reopen(); err != nil {
				log.Errorf("reopening record file: %v", err)
			}
		}
	}
}

// Run starts the port and monitoring until ctx is done
func (d *Daemon) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	if d.cfg.MonitoringPort > 0 {
		eg.Go(func() error {
			return stats.NewJSONStats(d.stats).Start(ctx, d.cfg.MonitoringPort)
		})
	}
	if d.cfg.PrometheusPort > 0 {
		eg.Go(func() error {
			return stats.NewPrometheusExporter(d.stats, d.cfg.PrometheusPort, d.cfg.StatsInterval).Start(ctx)
		})
	}
	sys, err := stats.NewSysStats()
	if err != nil {
		log.Warningf("not collecting sys stats: %v", err)
	} else {
		eg.Go(func() error {
			return sys.Run(ctx, d.stats, d.cfg.StatsInterval)
		})
	}
	eg.Go(func() error {
		return d.reopenOnHangup(ctx)
	})
	eg.Go(func() error {
		return d.runPort(ctx)
	})
	return eg.Wait()
}
