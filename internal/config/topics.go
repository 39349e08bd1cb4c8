package config

const (
	// TopicIndexDocument carries one IndexTask per uploaded document.
	TopicIndexDocument = "labs.index"

	// ChannelIndexer is the consumer channel the indexing workers share.
	ChannelIndexer = "indexer"
)
