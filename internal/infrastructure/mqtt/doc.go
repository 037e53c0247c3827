// Package mqtt publishes control-plane events to an MQTT broker.
//
// Task lifecycle and device presence events go out over MQTT so other
// services (notification pipelines, external automations) can observe
// the control plane without polling the REST API. The broker is
// optional: when mqtt.enabled is false, nothing is published.
//
// The client auto-reconnects with exponential backoff, restores
// subscriptions after a reconnect, and registers a last-will status
// message so subscribers can tell a crash from a graceful shutdown.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.TaskEvent("dev-4f2a91c3")
//	client.Publish(topic, payload, 1, false)
package mqtt
