// Package mqttmock is the MQTT listener of the mock engine: an embedded
// broker whose publishes are matched against MQTT definitions by topic.
//
// A matched publish is answered on the response topic, which is the
// response's "topic" header when set and "<topic>/response" otherwise.
// Collaborators push to subscribers with Publish.
package mqttmock
