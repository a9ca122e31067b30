package registry

import (
	"context"
	"time"

	"github.com/gabapcia/addresswatch/internal/addrstate"

	"github.com/stretchr/testify/mock"
)

// RegistryMock is a testify mock of addrstate.Registry.
type RegistryMock struct {
	mock.Mock
}

func NewRegistryMock(t interface {
	mock.TestingT
	Cleanup(func())
}) *RegistryMock {
	m := &RegistryMock{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

type RegistryMockExpecter struct {
	mock *mock.Mock
}

func (m *RegistryMock) EXPECT() *RegistryMockExpecter {
	return &RegistryMockExpecter{mock: &m.Mock}
}

func (m *RegistryMock) RegisterAddress(ctx context.Context, rec addrstate.AddressRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (e *RegistryMockExpecter) RegisterAddress(ctx, rec any) *mock.Call {
	return e.mock.On("RegisterAddress", ctx, rec)
}

func (m *RegistryMock) RemoveAddress(ctx context.Context, userID int64, address string) error {
	return m.Called(ctx, userID, address).Error(0)
}

func (e *RegistryMockExpecter) RemoveAddress(ctx, userID, address any) *mock.Call {
	return e.mock.On("RemoveAddress", ctx, userID, address)
}

func (m *RegistryMock) SetInterval(ctx context.Context, userID int64, interval time.Duration) error {
	return m.Called(ctx, userID, interval).Error(0)
}

func (e *RegistryMockExpecter) SetInterval(ctx, userID, interval any) *mock.Call {
	return e.mock.On("SetInterval", ctx, userID, interval)
}

func (m *RegistryMock) SetQuota(ctx context.Context, userID int64, quota int) error {
	return m.Called(ctx, userID, quota).Error(0)
}

func (e *RegistryMockExpecter) SetQuota(ctx, userID, quota any) *mock.Call {
	return e.mock.On("SetQuota", ctx, userID, quota)
}

func (m *RegistryMock) CountActiveAddresses(ctx context.Context, userID int64) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (e *RegistryMockExpecter) CountActiveAddresses(ctx, userID any) *mock.Call {
	return e.mock.On("CountActiveAddresses", ctx, userID)
}

func (m *RegistryMock) UserAddresses(ctx context.Context, userID int64) ([]addrstate.AddressRecord, error) {
	args := m.Called(ctx, userID)
	records, _ := args.Get(0).([]addrstate.AddressRecord)
	return records, args.Error(1)
}

func (e *RegistryMockExpecter) UserAddresses(ctx, userID any) *mock.Call {
	return e.mock.On("UserAddresses", ctx, userID)
}

func (m *RegistryMock) ScanConfig(ctx context.Context, userID int64) (addrstate.ScanConfig, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(addrstate.ScanConfig), args.Error(1)
}

func (e *RegistryMockExpecter) ScanConfig(ctx, userID any) *mock.Call {
	return e.mock.On("ScanConfig", ctx, userID)
}
