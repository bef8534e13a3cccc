// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package authtest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/authd/authd/internal/auth"
)

// MockUserStore is a testify mock of auth.UserStore.
type MockUserStore struct {
	mock.Mock
}

var _ auth.UserStore = (*MockUserStore)(nil)

// NewMockUserStore creates a MockUserStore that asserts its expectations
// when the test ends.
func NewMockUserStore(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockUserStore {
	m := &MockUserStore{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Add records the call.
func (m *MockUserStore) Add(ctx context.Context, email string, hashedPassword []byte) (*auth.User, error) {
	args := m.Called(ctx, email, hashedPassword)
	return userArg(args, 0), args.Error(1)
}

// FindBy records the call.
func (m *MockUserStore) FindBy(ctx context.Context, criteria auth.Criteria) (*auth.User, error) {
	args := m.Called(ctx, criteria)
	return userArg(args, 0), args.Error(1)
}

// Update records the call.
func (m *MockUserStore) Update(ctx context.Context, id int64, fields auth.Fields) error {
	args := m.Called(ctx, id, fields)
	return args.Error(0)
}

// UpdateWhere records the call.
func (m *MockUserStore) UpdateWhere(ctx context.Context, criteria auth.Criteria, fields auth.Fields) (*auth.User, error) {
	args := m.Called(ctx, criteria, fields)
	return userArg(args, 0), args.Error(1)
}

func userArg(args mock.Arguments, i int) *auth.User {
	if u, ok := args.Get(i).(*auth.User); ok {
		return u
	}
	return nil
}

// CountingRecorder is an auth.Recorder that counts events by
// "event/outcome".
type CountingRecorder struct {
	Counts map[string]int
}

// NewCountingRecorder creates an empty CountingRecorder.
func NewCountingRecorder() *CountingRecorder {
	return &CountingRecorder{Counts: make(map[string]int)}
}

// RecordAuthEvent increments the event/outcome count.
func (r *CountingRecorder) RecordAuthEvent(event, outcome string) {
	r.Counts[event+"/"+outcome]++
}
