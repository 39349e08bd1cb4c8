package worker_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/jabraham1/dok-tok/features/job"
	"github.com/jabraham1/dok-tok/internal/indexing"
	"github.com/jabraham1/dok-tok/internal/worker"
)

type MockIndexer struct{ mock.Mock }

func (m *MockIndexer) Index(ctx context.Context, sourceID, body string, meta map[string]string) (*indexing.Result, error) {
	args := m.Called(ctx, sourceID, body, meta)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*indexing.Result), args.Error(1)
}

type MockDocs struct{ mock.Mock }

func (m *MockDocs) LoadSource(ctx context.Context, id string) (*worker.Source, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*worker.Source), args.Error(1)
}

func (m *MockDocs) IsLive(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockDocs) UpdateStatus(ctx context.Context, id, status, errMsg string) error {
	args := m.Called(ctx, id, status, errMsg)
	return args.Error(0)
}

func (m *MockDocs) MarkIndexed(ctx context.Context, id string, chunks int) error {
	args := m.Called(ctx, id, chunks)
	return args.Error(0)
}

type MockChunks struct{ mock.Mock }

func (m *MockChunks) DeleteBySource(ctx context.Context, source string) (int64, error) {
	args := m.Called(ctx, source)
	return args.Get(0).(int64), args.Error(1)
}

type MockJobRepo struct{ mock.Mock }

func (m *MockJobRepo) Save(ctx context.Context, j *job.Job) error {
	args := m.Called(ctx, j)
	return args.Error(0)
}
func (m *MockJobRepo) List(ctx context.Context) ([]job.Job, error)          { return nil, nil }
func (m *MockJobRepo) Get(ctx context.Context, id string) (*job.Job, error) { return nil, nil }
func (m *MockJobRepo) Delete(ctx context.Context, id string) error          { return nil }
func (m *MockJobRepo) DeleteBySource(ctx context.Context, sourceID string) (int64, error) {
	args := m.Called(ctx, sourceID)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockJobRepo) Count(ctx context.Context) (int, error) { return 0, nil }
