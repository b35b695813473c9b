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

package mocks

import (
	"context"
	"encoding/json"

	"github.com/ZaparooProject/kodi-nextup/pkg/kodi"
	"github.com/stretchr/testify/mock"
)

// MockKodiConnection is a mock implementation of the kodi.Connection
// interface for use in tests. It provides all the standard testify/mock
// functionality.
type MockKodiConnection struct {
	mock.Mock
}

// Ensure MockKodiConnection implements Connection at compile time
var _ kodi.Connection = (*MockKodiConnection)(nil)

func (m *MockKodiConnection) Connect(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockKodiConnection) Connected() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockKodiConnection) Call(
	ctx context.Context,
	method kodi.APIMethod,
	params any,
) (json.RawMessage, error) {
	args := m.Called(ctx, method, params)
	if raw, ok := args.Get(0).(json.RawMessage); ok {
		return raw, args.Error(1)
	}
	if raw, ok := args.Get(0).(string); ok {
		return json.RawMessage(raw), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockKodiConnection) Close() error {
	args := m.Called()
	return args.Error(0)
}

// NewMockKodiConnection creates a connected mock. Call expectations are
// left to the test.
func NewMockKodiConnection() *MockKodiConnection {
	m := &MockKodiConnection{}
	m.On("Connected").Return(true).Maybe()
	m.On("Connect", mock.Anything).Return(nil).Maybe()
	m.On("Close").Return(nil).Maybe()
	return m
}

// NewDisconnectedMockKodiConnection creates a mock that reports the
// connection as down.
func NewDisconnectedMockKodiConnection() *MockKodiConnection {
	m := &MockKodiConnection{}
	m.On("Connected").Return(false).Maybe()
	m.On("Close").Return(nil).Maybe()
	return m
}
