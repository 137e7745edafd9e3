package mqtt

// TopicPrefix is the root of every sensord topic.
const TopicPrefix = "sensord"

// StateTopic is the retained topic carrying the current reading of sensorID.
//
// Example: sensord/state/attic
func StateTopic(sensorID string) string {
	return TopicPrefix + "/state/" + sensorID
}

// IngestTopic is where the physical sensor publishes its measurements.
//
// Example: sensord/ingest/attic
func IngestTopic(sensorID string) string {
	return TopicPrefix + "/ingest/" + sensorID
}

// StatusTopic carries the retained online/offline status of the service
// instance serving sensorID. The broker publishes the offline will here.
//
// Example: sensord/status/attic
func StatusTopic(sensorID string) string {
	return TopicPrefix + "/status/" + sensorID
}
