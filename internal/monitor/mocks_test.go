package monitor

import (
	"context"

	"github.com/gabapcia/addresswatch/internal/addrstate"

	"github.com/stretchr/testify/mock"
)

// FetcherMock is a testify mock of Fetcher.
type FetcherMock struct {
	mock.Mock
}

func NewFetcherMock(t interface {
	mock.TestingT
	Cleanup(func())
}) *FetcherMock {
	m := &FetcherMock{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

type FetcherMockExpecter struct {
	mock *mock.Mock
}

func (m *FetcherMock) EXPECT() *FetcherMockExpecter {
	return &FetcherMockExpecter{mock: &m.Mock}
}

func (m *FetcherMock) Fetch(ctx context.Context, address string) (addrstate.Snapshot, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(addrstate.Snapshot), args.Error(1)
}

func (e *FetcherMockExpecter) Fetch(ctx, address any) *mock.Call {
	return e.mock.On("Fetch", ctx, address)
}

// SnapshotStorageMock is a testify mock of SnapshotStorage.
type SnapshotStorageMock struct {
	mock.Mock
}

func NewSnapshotStorageMock(t interface {
	mock.TestingT
	Cleanup(func())
}) *SnapshotStorageMock {
	m := &SnapshotStorageMock{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

type SnapshotStorageMockExpecter struct {
	mock *mock.Mock
}

func (m *SnapshotStorageMock) EXPECT() *SnapshotStorageMockExpecter {
	return &SnapshotStorageMockExpecter{mock: &m.Mock}
}

func (m *SnapshotStorageMock) Snapshot(ctx context.Context, address string) (addrstate.Snapshot, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(addrstate.Snapshot), args.Error(1)
}

func (e *SnapshotStorageMockExpecter) Snapshot(ctx, address any) *mock.Call {
	return e.mock.On("Snapshot", ctx, address)
}

func (m *SnapshotStorageMock) PutSnapshot(ctx context.Context, s addrstate.Snapshot) error {
	return m.Called(ctx, s).Error(0)
}

func (e *SnapshotStorageMockExpecter) PutSnapshot(ctx, s any) *mock.Call {
	return e.mock.On("PutSnapshot", ctx, s)
}

func (m *SnapshotStorageMock) DeactivateAddress(ctx context.Context, userID int64, address string) error {
	return m.Called(ctx, userID, address).Error(0)
}

func (e *SnapshotStorageMockExpecter) DeactivateAddress(ctx, userID, address any) *mock.Call {
	return e.mock.On("DeactivateAddress", ctx, userID, address)
}

// EventNotifierMock is a testify mock of EventNotifier.
type EventNotifierMock struct {
	mock.Mock
}

func NewEventNotifierMock(t interface {
	mock.TestingT
	Cleanup(func())
}) *EventNotifierMock {
	m := &EventNotifierMock{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

type EventNotifierMockExpecter struct {
	mock *mock.Mock
}

func (m *EventNotifierMock) EXPECT() *EventNotifierMockExpecter {
	return &EventNotifierMockExpecter{mock: &m.Mock}
}

func (m *EventNotifierMock) Publish(ctx context.Context, event addrstate.ChangeEvent) error {
	return m.Called(ctx, event).Error(0)
}

func (e *EventNotifierMockExpecter) Publish(ctx, event any) *mock.Call {
	return e.mock.On("Publish", ctx, event)
}
