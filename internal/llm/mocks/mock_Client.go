// Package mocks provides test doubles for the llm client.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the llm.Client interface.
type MockClient struct {
	mock.Mock
}

// Complete provides a mock function with given fields: ctx, prompt
func (_m *MockClient) Complete(ctx context.Context, prompt string) (string, error) {
	ret := _m.Called(ctx, prompt)

	if len(ret) == 0 {
		panic("no return value specified for Complete")
	}

	if rf, ok := ret.Get(0).(func(context.Context, string) (string, error)); ok {
		return rf(ctx, prompt)
	}
	return ret.String(0), ret.Error(1)
}
