package queue

const (
	topicPrefix     = "prepaid.jobs."
	TopicDeadLetter = "prepaid.jobs.dead-letter"
)

// TopicFor maps a job name to its Kafka topic.
func TopicFor(name string) string { return topicPrefix + name }

// PartitionKey keeps every job of one order on the same partition.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
