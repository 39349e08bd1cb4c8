package stats

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockDocumentRepo struct{ mock.Mock }

func (m *MockDocumentRepo) CountByStatus(ctx context.Context) (map[string]int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int), args.Error(1)
}

type MockJobRepo struct{ mock.Mock }

func (m *MockJobRepo) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type MockVectorStore struct{ mock.Mock }

func (m *MockVectorStore) CountChunks(ctx context.Context, source string) (int, error) {
	args := m.Called(ctx, source)
	return args.Int(0), args.Error(1)
}

func TestHandler_GetStats_Table(t *testing.T) {
	tests := []struct {
		name       string
		setupMocks func(*MockDocumentRepo, *MockJobRepo, *MockVectorStore)
		wantStatus int
		wantError  bool
		checkBody  func(*testing.T, map[string]interface{})
	}{
		{
			name: "Success",
			setupMocks: func(s *MockDocumentRepo, j *MockJobRepo, v *MockVectorStore) {
				s.On("CountByStatus", mock.Anything).Return(map[string]int{"indexed": 8, "pending": 1, "failed": 1}, nil)
				j.On("Count", mock.Anything).Return(5, nil)
				v.On("CountChunks", mock.Anything, "").Return(100, nil)
			},
			wantStatus: http.StatusOK,
			checkBody: func(t *testing.T, body map[string]interface{}) {
				data := body["data"].(map[string]interface{})
				assert.EqualValues(t, 10, data["documents"])
				assert.EqualValues(t, 8, data["by_status"].(map[string]interface{})["indexed"])
				assert.EqualValues(t, 5, data["failed_jobs"])
				assert.EqualValues(t, 100, data["chunks"])
				assert.Equal(t, "ok", data["vector_store"])
			},
		},
		{
			name: "Empty",
			setupMocks: func(s *MockDocumentRepo, j *MockJobRepo, v *MockVectorStore) {
				s.On("CountByStatus", mock.Anything).Return(nil, nil)
				j.On("Count", mock.Anything).Return(0, nil)
				v.On("CountChunks", mock.Anything, "").Return(0, nil)
			},
			wantStatus: http.StatusOK,
			checkBody: func(t *testing.T, body map[string]interface{}) {
				data := body["data"].(map[string]interface{})
				assert.EqualValues(t, 0, data["documents"])
				assert.Equal(t, map[string]interface{}{}, data["by_status"])
				assert.EqualValues(t, 0, data["chunks"])
			},
		},
		{
			name: "DocumentRepo Error",
			setupMocks: func(s *MockDocumentRepo, j *MockJobRepo, v *MockVectorStore) {
				s.On("CountByStatus", mock.Anything).Return(nil, errors.New("db error"))
				j.On("Count", mock.Anything).Return(0, nil).Maybe()
				v.On("CountChunks", mock.Anything, "").Return(100, nil)
			},
			wantStatus: http.StatusInternalServerError,
			wantError:  true,
		},
		{
			name: "JobRepo Error",
			setupMocks: func(s *MockDocumentRepo, j *MockJobRepo, v *MockVectorStore) {
				s.On("CountByStatus", mock.Anything).Return(map[string]int{"indexed": 10}, nil).Maybe()
				j.On("Count", mock.Anything).Return(0, errors.New("db error"))
				v.On("CountChunks", mock.Anything, "").Return(100, nil)
			},
			wantStatus: http.StatusInternalServerError,
			wantError:  true,
		},
		{
			name: "VectorStore Unavailable Degrades",
			setupMocks: func(s *MockDocumentRepo, j *MockJobRepo, v *MockVectorStore) {
				s.On("CountByStatus", mock.Anything).Return(map[string]int{"indexed": 10}, nil)
				j.On("Count", mock.Anything).Return(5, nil)
				v.On("CountChunks", mock.Anything, "").Return(0, errors.New("weaviate error"))
			},
			wantStatus: http.StatusOK,
			checkBody: func(t *testing.T, body map[string]interface{}) {
				data := body["data"].(map[string]interface{})
				assert.EqualValues(t, 10, data["documents"])
				assert.Nil(t, data["chunks"])
				assert.Equal(t, "unavailable", data["vector_store"])
				assert.NotContains(t, data, "error")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mDocs := new(MockDocumentRepo)
			mJob := new(MockJobRepo)
			mVector := new(MockVectorStore)

			tt.setupMocks(mDocs, mJob, mVector)

			h := NewHandler(mDocs, mJob, mVector)
			req := httptest.NewRequest("GET", "/stats", nil)
			w := httptest.NewRecorder()

			h.GetStats(w, req)

			resp := w.Result()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			var body map[string]interface{}
			err := json.NewDecoder(resp.Body).Decode(&body)
			assert.NoError(t, err)

			if tt.wantError {
				assert.Contains(t, body, "error")
				errMap := body["error"].(map[string]interface{})
				assert.Equal(t, "INTERNAL_ERROR", errMap["code"])
				assert.NotContains(t, w.Body.String(), "db error")
			} else {
				tt.checkBody(t, body)
			}
		})
	}
}
