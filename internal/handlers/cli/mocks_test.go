package cli

import (
	"context"
	"time"

	"github.com/gabapcia/addresswatch/internal/addrstate"
	"github.com/gabapcia/addresswatch/internal/daemon"
	"github.com/gabapcia/addresswatch/internal/monitor"
	"github.com/gabapcia/addresswatch/internal/registry"

	"github.com/stretchr/testify/mock"
)

type testingT interface {
	mock.TestingT
	Cleanup(func())
}

// RegistryServiceMock is a testify mock of registry.Service.
type RegistryServiceMock struct {
	mock.Mock
}

var _ registry.Service = (*RegistryServiceMock)(nil)

func NewRegistryServiceMock(t testingT) *RegistryServiceMock {
	m := &RegistryServiceMock{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

type RegistryServiceMockExpecter struct {
	mock *mock.Mock
}

func (m *RegistryServiceMock) EXPECT() *RegistryServiceMockExpecter {
	return &RegistryServiceMockExpecter{mock: &m.Mock}
}

func (m *RegistryServiceMock) RegisterAddress(ctx context.Context, userID int64, address, label string) (addrstate.AddressRecord, error) {
	args := m.Called(ctx, userID, address, label)
	return args.Get(0).(addrstate.AddressRecord), args.Error(1)
}

func (e *RegistryServiceMockExpecter) RegisterAddress(ctx, userID, address, label any) *mock.Call {
	return e.mock.On("RegisterAddress", ctx, userID, address, label)
}

func (m *RegistryServiceMock) RemoveAddress(ctx context.Context, userID int64, address string) error {
	return m.Called(ctx, userID, address).Error(0)
}

func (e *RegistryServiceMockExpecter) RemoveAddress(ctx, userID, address any) *mock.Call {
	return e.mock.On("RemoveAddress", ctx, userID, address)
}

func (m *RegistryServiceMock) SetInterval(ctx context.Context, userID int64, interval time.Duration) error {
	return m.Called(ctx, userID, interval).Error(0)
}

func (e *RegistryServiceMockExpecter) SetInterval(ctx, userID, interval any) *mock.Call {
	return e.mock.On("SetInterval", ctx, userID, interval)
}

func (m *RegistryServiceMock) SetQuota(ctx context.Context, userID int64, quota int) error {
	return m.Called(ctx, userID, quota).Error(0)
}

func (e *RegistryServiceMockExpecter) SetQuota(ctx, userID, quota any) *mock.Call {
	return e.mock.On("SetQuota", ctx, userID, quota)
}

func (m *RegistryServiceMock) List(ctx context.Context, userID int64) ([]addrstate.AddressRecord, addrstate.ScanConfig, error) {
	args := m.Called(ctx, userID)
	records, _ := args.Get(0).([]addrstate.AddressRecord)
	return records, args.Get(1).(addrstate.ScanConfig), args.Error(2)
}

func (e *RegistryServiceMockExpecter) List(ctx, userID any) *mock.Call {
	return e.mock.On("List", ctx, userID)
}

// CheckerMock is a testify mock of Checker.
type CheckerMock struct {
	mock.Mock
}

func NewCheckerMock(t testingT) *CheckerMock {
	m := &CheckerMock{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

type CheckerMockExpecter struct {
	mock *mock.Mock
}

func (m *CheckerMock) EXPECT() *CheckerMockExpecter {
	return &CheckerMockExpecter{mock: &m.Mock}
}

func (m *CheckerMock) CheckNow(ctx context.Context, address string) (monitor.Result, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(monitor.Result), args.Error(1)
}

func (e *CheckerMockExpecter) CheckNow(ctx, address any) *mock.Call {
	return e.mock.On("CheckNow", ctx, address)
}

// DaemonMock is a testify mock of daemon.Service.
type DaemonMock struct {
	mock.Mock
}

var _ daemon.Service = (*DaemonMock)(nil)

func NewDaemonMock(t testingT) *DaemonMock {
	m := &DaemonMock{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

type DaemonMockExpecter struct {
	mock *mock.Mock
}

func (m *DaemonMock) EXPECT() *DaemonMockExpecter {
	return &DaemonMockExpecter{mock: &m.Mock}
}

func (m *DaemonMock) Start(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (e *DaemonMockExpecter) Start(ctx any) *mock.Call {
	return e.mock.On("Start", ctx)
}

func (m *DaemonMock) Close() {
	m.Called()
}

func (e *DaemonMockExpecter) Close() *mock.Call {
	return e.mock.On("Close")
}
