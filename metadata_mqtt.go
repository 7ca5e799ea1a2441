// MQTT metadata sink

package main

import (
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// newMQTTSink connects (best-effort, reconnecting) to the configured
// broker and returns a deliver function publishing each item under
// "<topicBase>/<type>/<code>" at QoS 0 — fire and forget, consistent with
// the "never block the publisher" fan-out policy.
func newMQTTSink(cfg *Config) func(MetadataPackage) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MetadataMQTTBroker)
	opts.SetClientID("raop-core")
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		LogWarning("[METADATA:mqtt] connect failed: " + token.Error().Error())
	}

	topicBase := cfg.MetadataMQTTTopicBase

	return func(pkg MetadataPackage) {
		if !client.IsConnectionOpen() {
			return
		}
		topic := fmt.Sprintf("%s/%s/%s", topicBase, hex4(pkg.mtype), hex4(pkg.code))
		client.Publish(topic, 0, false, pkg.payload())
	}
}
