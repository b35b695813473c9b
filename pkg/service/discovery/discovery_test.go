// Zaparoo Kodi Next Up
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo Kodi Next Up.
//
// Zaparoo Kodi Next Up is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo Kodi Next Up is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo Kodi Next Up.  If not, see <http://www.gnu.org/licenses/>.

package discovery

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ZaparooProject/kodi-nextup/pkg/config"
	"github.com/grandcat/zeroconf"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type registration struct {
	instance string
	service  string
	domain   string
	text     []string
	port     int
}

type fakeRegistrar struct {
	calls []registration
	fails int
	mu    sync.Mutex
}

func (f *fakeRegistrar) register(
	instance, service, domain string,
	port int,
	text []string,
	_ []net.Interface,
) (*zeroconf.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, registration{
		instance: instance,
		service:  service,
		domain:   domain,
		port:     port,
		text:     text,
	})
	if f.fails > 0 {
		f.fails--
		return nil, errors.New("network unreachable")
	}
	return nil, nil
}

func (f *fakeRegistrar) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func oneInterface() ([]net.Interface, error) {
	return []net.Interface{{Name: "eth0", Flags: net.FlagUp | net.FlagMulticast}}, nil
}

func newTestService(cfg config.Discovery, reg *fakeRegistrar, clock clockwork.Clock) *Service {
	svc := New(cfg, 7498, clock)
	svc.register = reg.register
	svc.interfaces = oneInterface
	return svc
}

func TestServiceType(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "_kodinextup._tcp", ServiceType)
}

func TestStart_Disabled(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistrar{}
	svc := newTestService(config.Discovery{Enabled: false}, reg, clockwork.NewFakeClock())
	svc.Start()

	assert.Equal(t, 0, reg.count())
	assert.Empty(t, svc.InstanceName())
}

func TestStart_Registers(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistrar{}
	svc := newTestService(config.Discovery{Enabled: true, InstanceName: "living-room"}, reg, nil)
	svc.Start()
	defer svc.Stop()

	require.Equal(t, 1, reg.count())
	call := reg.calls[0]
	assert.Equal(t, "living-room", call.instance)
	assert.Equal(t, ServiceType, call.service)
	assert.Equal(t, "local.", call.domain)
	assert.Equal(t, 7498, call.port)
	assert.Contains(t, call.text, "version="+config.AppVersion)
	assert.Contains(t, call.text, "path=/api/sensors")
}

func TestStart_HostnameFallback(t *testing.T) {
	t.Parallel()

	hostname, err := os.Hostname()
	require.NoError(t, err)

	reg := &fakeRegistrar{}
	svc := newTestService(config.Discovery{Enabled: true}, reg, nil)
	svc.Start()
	defer svc.Stop()

	assert.Equal(t, hostname, svc.InstanceName())
}

func TestStart_RetriesInBackground(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	reg := &fakeRegistrar{fails: 1}
	svc := newTestService(config.Discovery{Enabled: true, InstanceName: "tv"}, reg, clock)
	svc.Start()
	defer svc.Stop()

	require.Equal(t, 1, reg.count())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 2))
	clock.Advance(retryInterval)

	assert.Eventually(t, func() bool {
		return reg.count() == 2
	}, time.Second, 10*time.Millisecond)
}

func TestStart_NoInterfaces(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	reg := &fakeRegistrar{}
	svc := newTestService(config.Discovery{Enabled: true, InstanceName: "tv"}, reg, clock)
	svc.interfaces = func() ([]net.Interface, error) { return nil, nil }
	svc.Start()
	svc.Stop()

	assert.Equal(t, 0, reg.count())
}

func TestStopIdempotent(t *testing.T) {
	t.Parallel()

	svc := New(config.Discovery{}, 7498, nil)
	svc.Stop()
	svc.Stop()

	assert.Nil(t, svc.server)
}

func TestFilterInterfaces(t *testing.T) {
	t.Parallel()

	up := net.FlagUp | net.FlagMulticast
	ifaces := []net.Interface{
		{Name: "eth0", Flags: up},
		{Name: "lo", Flags: up | net.FlagLoopback},
		{Name: "wlan0", Flags: net.FlagMulticast},
		{Name: "tun0", Flags: net.FlagUp},
		{Name: "docker0", Flags: up},
		{Name: "veth1234", Flags: up},
		{Name: "WG0", Flags: up},
		{Name: "enp3s0", Flags: up},
	}

	got := filterInterfaces(ifaces)
	names := make([]string, 0, len(got))
	for _, iface := range got {
		names = append(names, iface.Name)
	}
	assert.Equal(t, []string{"eth0", "enp3s0"}, names)
}
