// Package mocks holds testify mocks for the domain ports.
package mocks

import (
	"github.com/stretchr/testify/mock"

	"github.com/ubtguoyi/writing/internal/domain"
)

// MockKVStore is a mock type for the KVStore type
type MockKVStore struct {
	mock.Mock
}

// Get provides a mock function with given fields: ctx, key
func (_m *MockKVStore) Get(ctx domain.Context, key string) (string, bool, error) {
	ret := _m.Called(ctx, key)
	return ret.String(0), ret.Bool(1), ret.Error(2)
}

// Set provides a mock function with given fields: ctx, key, value
func (_m *MockKVStore) Set(ctx domain.Context, key, value string) error {
	ret := _m.Called(ctx, key, value)
	return ret.Error(0)
}

// Update provides a mock function with given fields: ctx, key, fn
func (_m *MockKVStore) Update(ctx domain.Context, key string, fn domain.KVUpdateFunc) error {
	ret := _m.Called(ctx, key, fn)
	return ret.Error(0)
}

// MockWorkflowClient is a mock type for the WorkflowClient type
type MockWorkflowClient struct {
	mock.Mock
}

// Run provides a mock function with given fields: ctx, workflowID, params
func (_m *MockWorkflowClient) Run(ctx domain.Context, workflowID string, params map[string]any) (any, error) {
	ret := _m.Called(ctx, workflowID, params)
	return ret.Get(0), ret.Error(1)
}

// MockUploader is a mock type for the Uploader type
type MockUploader struct {
	mock.Mock
}

// Upload provides a mock function with given fields: ctx, filename, data
func (_m *MockUploader) Upload(ctx domain.Context, filename string, data []byte) (domain.UploadedFile, error) {
	ret := _m.Called(ctx, filename, data)
	return ret.Get(0).(domain.UploadedFile), ret.Error(1)
}

// MockQueue is a mock type for the Queue type
type MockQueue struct {
	mock.Mock
}

// EnqueueCorrection provides a mock function with given fields: ctx, task
func (_m *MockQueue) EnqueueCorrection(ctx domain.Context, task domain.CorrectionTask) error {
	ret := _m.Called(ctx, task)
	return ret.Error(0)
}
