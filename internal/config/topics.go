package config

const (
	// TopicIndexRebuild is the NSQ topic carrying manual index rebuild requests.
	TopicIndexRebuild = "index.rebuild"

	// ChannelIndexRebuild is the consumer channel used by the assistant backend.
	ChannelIndexRebuild = "backend"
)
