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

package daemon

import (
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v2"

	"github.com/facebook/ptpd/ptp/ptpd/netio"
	"github.com/facebook/ptpd/ptp/ptpd/port"
	"github.com/facebook/ptpd/timestamp"
)

// Config specifies ptpd run options
type Config struct {
	port.Config `yaml:",inline"`

	Iface          string              `yaml:"iface"`
	UnicastAddress string              `yaml:"unicast_address"`
	TTL            int                 `yaml:"ttl"`
	DSCP           int                 `yaml:"dscp"`
	Timestamping   timestamp.Timestamp `yaml:"timestamping"`
	MonitoringPort int                 `yaml:"monitoring_port"`
	PrometheusPort int                 `yaml:"prometheus_port"`
	StatsInterval  time.Duration       `yaml:"stats_interval"`
	// LeapFile is a tzfile with leap seconds to derive current_utc_offset from
	LeapFile string `yaml:"leap_file"`
}

// DefaultConfig returns Config initialized with default values
func DefaultConfig() *Config {
	return &Config{
		Config:         *port.DefaultConfig(),
		Iface:          "eth0",
		TTL:            1,
		Timestamping:   timestamp.SW,
		MonitoringPort: 4269,
		StatsInterval:  time.Minute,
	}
}

// NetConfig returns the network part of Config
func (c *Config) NetConfig() *netio.Config {
	return &netio.Config{
		Iface:          c.Iface,
		UnicastAddress: c.UnicastAddress,
		TTL:            c.TTL,
		DSCP:           c.DSCP,
		Timestamping:   c.Timestamping,
	}
}

// Validate config is sane
func (c *Config) Validate() error {
	if err := c.Config.Validate(); err != nil {
		return err
	}
	if err := c.NetConfig().Validate(); err != nil {
		return err
	}
	if c.MonitoringPort < 0 || c.MonitoringPort > 65535 {
		return fmt.Errorf("monitoring_port must be in [0, 65535]")
	}
	if c.PrometheusPort < 0 || c.PrometheusPort > 65535 {
		return fmt.Errorf("prometheus_port must be in [0, 65535]")
	}
	if c.PrometheusPort != 0 && c.PrometheusPort == c.MonitoringPort {
		return fmt.Errorf("prometheus_port and monitoring_port must differ")
	}
	if c.StatsInterval <= 0 {
		return fmt.Errorf("stats_interval must be greater than zero")
	}
	return nil
}

// ReadConfig reads config from the file
func ReadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	cData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	err = yaml.Unmarshal(cData, &c)
	if err != nil {
		return nil, err
	}

	return c, nil
}

// PrepareConfig reads config from cfgPath (if any) and applies values of
// flags explicitly set on the command line
func PrepareConfig(cfgPath string, flags *Config, setFlags map[string]bool) (*Config, error) {
	cfg := DefaultConfig()
	var err error
	warn := func(name string) {
		log.Warningf("overriding %s from CLI flag", name)
	}
	if cfgPath != "" {
		cfg, err = ReadConfig(cfgPath)
		if err != nil {
			return nil, fmt.Errorf("reading config from %q: %w", cfgPath, err)
		}
	}
	if setFlags["iface"] {
		warn("iface")
		cfg.Iface = flags.Iface
	}
	if setFlags["unicast"] {
		warn("unicast")
		cfg.UnicastAddress = flags.UnicastAddress
	}
	if setFlags["domain"] {
		warn("domain")
		cfg.DomainNumber = flags.DomainNumber
	}
	if setFlags["slave-only"] {
		warn("slave-only")
		cfg.SlaveOnly = flags.SlaveOnly
	}
	if setFlags["delay-mechanism"] {
		warn("delay-mechanism")
		cfg.DelayMechanism = flags.DelayMechanism
	}
	if setFlags["dscp"] {
		warn("dscp")
		cfg.DSCP = flags.DSCP
	}
	if setFlags["timestamping"] {
		warn("timestamping")
		cfg.Timestamping = flags.Timestamping
	}
	if setFlags["record-file"] {
		warn("record-file")
		cfg.RecordFile = flags.RecordFile
	}
	if setFlags["monitoringport"] {
		warn("monitoringport")
		cfg.MonitoringPort = flags.MonitoringPort
	}
	if setFlags["prometheusport"] {
		warn("prometheusport")
		cfg.PrometheusPort = flags.PrometheusPort
	}
	if setFlags["display-stats"] {
		warn("display-stats")
		cfg.DisplayStats = flags.DisplayStats
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	log.Debugf("config: %+v", cfg)
	return cfg, nil
}
