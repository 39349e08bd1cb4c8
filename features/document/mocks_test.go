package document_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/jabraham1/dok-tok/features/document"
	"github.com/jabraham1/dok-tok/internal/extract"
	"github.com/jabraham1/dok-tok/internal/vector"
)

type MockRepo struct {
	mock.Mock
}

func (m *MockRepo) Save(ctx context.Context, doc *document.Document) error {
	args := m.Called(ctx, doc)
	if args.Error(0) == nil {
		doc.ID = "doc-1"
	}
	return args.Error(0)
}

func (m *MockRepo) ExistsByHash(ctx context.Context, hash string) (bool, error) {
	args := m.Called(ctx, hash)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepo) Get(ctx context.Context, id string) (*document.Document, error) {
	args := m.Called(ctx, id)
	if d := args.Get(0); d != nil {
		return d.(*document.Document), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepo) GetBySourceID(ctx context.Context, sourceID string) (*document.Document, error) {
	args := m.Called(ctx, sourceID)
	if d := args.Get(0); d != nil {
		return d.(*document.Document), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepo) List(ctx context.Context) ([]document.Document, error) {
	args := m.Called(ctx)
	if d := args.Get(0); d != nil {
		return d.([]document.Document), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepo) UpdateStatus(ctx context.Context, id, status, errMsg string) error {
	return m.Called(ctx, id, status, errMsg).Error(0)
}

func (m *MockRepo) Requeue(ctx context.Context, id, text string) error {
	return m.Called(ctx, id, text).Error(0)
}

func (m *MockRepo) MarkIndexed(ctx context.Context, id string, chunks int) error {
	return m.Called(ctx, id, chunks).Error(0)
}

func (m *MockRepo) SoftDelete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type MockChunkStore struct {
	mock.Mock
}

func (m *MockChunkStore) GetChunks(ctx context.Context, source string) ([]vector.Match, error) {
	args := m.Called(ctx, source)
	if c := args.Get(0); c != nil {
		return c.([]vector.Match), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockChunkStore) DeleteBySource(ctx context.Context, source string) (int64, error) {
	args := m.Called(ctx, source)
	return args.Get(0).(int64), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(topic string, body []byte) error {
	return m.Called(topic, body).Error(0)
}

type MockExtractor struct {
	mock.Mock
}

func (m *MockExtractor) Extract(ctx context.Context, doc extract.Document) (string, error) {
	args := m.Called(ctx, doc)
	return args.String(0), args.Error(1)
}

type fixture struct {
	repo      *MockRepo
	chunks    *MockChunkStore
	pub       *MockPublisher
	extractor *MockExtractor
	svc       *document.Service
}

func newFixture() *fixture {
	f := &fixture{
		repo:      new(MockRepo),
		chunks:    new(MockChunkStore),
		pub:       new(MockPublisher),
		extractor: new(MockExtractor),
	}
	f.svc = document.NewService(f.repo, f.pub, f.chunks, f.extractor)
	return f
}
