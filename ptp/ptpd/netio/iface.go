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

package netio

import (
	"fmt"
	"net"

	"github.com/jsimonetti/rtnetlink/rtnl"
	"golang.org/x/sys/unix"
)

// InterfaceIPv4 looks up an interface by name over netlink and returns it with its first IPv4 address.
// The interface must be up.
func InterfaceIPv4(name string) (*net.Interface, net.IP, error) {
	conn, err := rtnl.Dial(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("can't establish netlink connection: %w", err)
	}
	defer conn.Close()

	links, err := conn.Links()
	if err != nil {
		return nil, nil, fmt.Errorf("listing links: %w", err)
	}
	var iface *net.Interface
	for _, l := range links {
		if l.Name == name {
			iface = l
			break
		}
	}
	if iface == nil {
		return nil, nil, fmt.Errorf("interface %s not found", name)
	}
	if iface.Flags&net.FlagUp == 0 {
		return nil, nil, fmt.Errorf("interface %s is down", name)
	}

	addrs, err := conn.Addrs(iface, unix.AF_INET)
	if err != nil {
		return nil, nil, fmt.Errorf("listing addresses of %s: %w", name, err)
	}
	for _, a := range addrs {
		if ip := a.IP.To4(); ip != nil {
			return iface, ip, nil
		}
	}
	return nil, nil, fmt.Errorf("interface %s has no IPv4 address", name)
}
