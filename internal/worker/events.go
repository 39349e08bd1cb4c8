package worker

// IndexTask is the labs.index message body. It only names the document: the
// extracted text stays in Postgres and is loaded by the consumer, which keeps
// messages far below the nsqd size limit.
type IndexTask struct {
	DocumentID string `json:"document_id"`
	SourceID   string `json:"source_id"`

	CorrelationID string `json:"correlation_id"`
}
