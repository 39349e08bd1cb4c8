package document_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jabraham1/dok-tok/features/document"
	"github.com/jabraham1/dok-tok/internal/apperr"
	"github.com/jabraham1/dok-tok/internal/config"
	"github.com/jabraham1/dok-tok/internal/extract"
	"github.com/jabraham1/dok-tok/internal/middleware"
	"github.com/jabraham1/dok-tok/internal/vector"
	"github.com/jabraham1/dok-tok/internal/worker"
)

func storedFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "abc123_labs.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestService_Upload_StoresTextAndPublishesIDs(t *testing.T) {
	f := newFixture()
	ctx := middleware.WithCorrelationID(context.Background(), "corr-7")
	path := storedFile(t, "TSH 5.1 mIU/L")

	f.repo.On("ExistsByHash", ctx, "hash").Return(false, nil)
	f.extractor.On("Extract", ctx, mock.MatchedBy(func(d extract.Document) bool {
		return d.MediaType == extract.MediaText && string(d.Data) == "TSH 5.1 mIU/L"
	})).Return("TSH 5.1 mIU/L", nil)
	f.repo.On("Save", ctx, mock.MatchedBy(func(d *document.Document) bool {
		return d.Text == "TSH 5.1 mIU/L"
	})).Return(nil)

	var body []byte
	f.pub.On("Publish", config.TopicIndexDocument, mock.Anything).Run(func(args mock.Arguments) {
		body = args.Get(1).([]byte)
	}).Return(nil)

	doc, err := f.svc.Upload(ctx, document.UploadRequest{
		Filename:   "labs.txt",
		StoredName: "abc123_labs.txt",
		Path:       path,
		Hash:       "hash",
		Size:       13,
		MediaType:  extract.MediaText,
		MIME:       "text/plain",
	})
	require.NoError(t, err)
	assert.Equal(t, "doc-1", doc.ID)
	assert.Equal(t, document.StatusPending, doc.Status)

	assert.NotContains(t, string(body), "TSH", "the message names the document and leaves the text in Postgres")
	var task worker.IndexTask
	require.NoError(t, json.Unmarshal(body, &task))
	assert.Equal(t, worker.IndexTask{
		DocumentID:    "doc-1",
		SourceID:      "abc123_labs.txt",
		CorrelationID: "corr-7",
	}, task)
}

func TestService_Upload_Duplicate(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.repo.On("ExistsByHash", ctx, "hash").Return(true, nil)

	doc, err := f.svc.Upload(ctx, document.UploadRequest{Hash: "hash"})
	assert.Nil(t, doc)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	f.extractor.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything)
	f.pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestService_Upload_ExtractionFailedRecordsNothing(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	path := storedFile(t, "   ")

	f.repo.On("ExistsByHash", ctx, "hash").Return(false, nil)
	f.extractor.On("Extract", ctx, mock.Anything).Return("", apperr.New(apperr.ErrExtractionFailed, "no extractable text"))

	doc, err := f.svc.Upload(ctx, document.UploadRequest{Path: path, Hash: "hash", MediaType: extract.MediaText})
	assert.Nil(t, doc)
	assert.ErrorIs(t, err, apperr.ErrExtractionFailed)
	f.repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestService_Upload_PublishFailureMarksDocument(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	path := storedFile(t, "Ferritin 8")

	f.repo.On("ExistsByHash", ctx, "hash").Return(false, nil)
	f.extractor.On("Extract", ctx, mock.Anything).Return("Ferritin 8", nil)
	f.repo.On("Save", ctx, mock.Anything).Return(nil)
	f.pub.On("Publish", config.TopicIndexDocument, mock.Anything).Return(errors.New("nsqd unreachable"))
	f.repo.On("UpdateStatus", ctx, "doc-1", document.StatusFailed, mock.Anything).Return(nil)

	doc, err := f.svc.Upload(ctx, document.UploadRequest{Path: path, Hash: "hash", MediaType: extract.MediaText})
	require.NotNil(t, doc, "record exists so the file stays for a reindex")
	assert.ErrorIs(t, err, apperr.ErrUpstreamFailure)
	f.repo.AssertExpectations(t)
}

func TestService_Get(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.repo.On("Get", ctx, "doc-1").Return(&document.Document{ID: "doc-1", SourceID: "abc_labs.pdf"}, nil)
	f.chunks.On("GetChunks", ctx, "abc_labs.pdf").Return([]vector.Match{
		{ID: "abc_labs.pdf__0", Content: "TSH 5.1"},
		{ID: "abc_labs.pdf__1", Content: "T4 0.9"},
	}, nil)

	detail, err := f.svc.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 2, detail.TotalChunks)
	assert.Equal(t, "abc_labs.pdf", detail.SourceID)
}

func TestService_Get_ChunkErrorDegrades(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.repo.On("Get", ctx, "doc-1").Return(&document.Document{ID: "doc-1", SourceID: "s"}, nil)
	f.chunks.On("GetChunks", ctx, "s").Return(nil, errors.New("weaviate down"))

	detail, err := f.svc.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Empty(t, detail.Chunks)
	assert.NotNil(t, detail.Chunks)
}

func TestService_Get_NotFound(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.repo.On("Get", ctx, "missing").Return(nil, sql.ErrNoRows)

	_, err := f.svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestService_Delete(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	path := storedFile(t, "data")

	f.repo.On("Get", ctx, "doc-1").Return(&document.Document{ID: "doc-1", SourceID: "abc123_labs.txt", Path: path}, nil)
	f.chunks.On("DeleteBySource", ctx, "abc123_labs.txt").Return(int64(3), nil)
	f.repo.On("SoftDelete", ctx, "doc-1").Return(nil)

	require.NoError(t, f.svc.Delete(ctx, "doc-1"))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	f.repo.AssertExpectations(t)
}

func TestService_Delete_StoreFailureKeepsRecord(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.repo.On("Get", ctx, "doc-1").Return(&document.Document{ID: "doc-1", SourceID: "s"}, nil)
	f.chunks.On("DeleteBySource", ctx, "s").Return(int64(0), errors.New("timeout"))

	err := f.svc.Delete(ctx, "doc-1")
	assert.ErrorIs(t, err, apperr.ErrUpstreamFailure)
	f.repo.AssertNotCalled(t, "SoftDelete", mock.Anything, mock.Anything)
}

func TestService_Reindex(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	path := storedFile(t, "LDL 160 mg/dL")
	doc := &document.Document{ID: "doc-1", SourceID: "abc123_labs.txt", Filename: "labs.txt", MediaType: "txt", Path: path}

	f.repo.On("Get", ctx, "doc-1").Return(doc, nil)
	f.extractor.On("Extract", ctx, mock.MatchedBy(func(d extract.Document) bool {
		return d.MIME == "text/plain"
	})).Return("LDL 160 mg/dL", nil)
	f.chunks.On("DeleteBySource", ctx, "abc123_labs.txt").Return(int64(1), nil)
	f.repo.On("Requeue", ctx, "doc-1", "LDL 160 mg/dL").Return(nil)
	f.pub.On("Publish", config.TopicIndexDocument, mock.Anything).Return(nil)

	require.NoError(t, f.svc.Reindex(ctx, "doc-1"))
	f.chunks.AssertExpectations(t)
	f.repo.AssertExpectations(t)
	f.pub.AssertExpectations(t)
}

func TestService_Lookup(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.repo.On("GetBySourceID", ctx, "abc_labs.pdf").Return(&document.Document{Filename: "labs.pdf"}, nil)
	f.repo.On("GetBySourceID", ctx, "nope").Return(nil, sql.ErrNoRows)

	doc, err := f.svc.Lookup(ctx, "abc_labs.pdf")
	require.NoError(t, err)
	assert.Equal(t, "labs.pdf", doc.Filename)

	_, err = f.svc.Lookup(ctx, "nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
