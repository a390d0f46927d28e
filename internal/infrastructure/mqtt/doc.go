// Package mqtt provides MQTT client connectivity for the VOXL bridge.
//
// This package manages:
//   - Connection to the broker over tcp:// or ssl:// (CA, client cert)
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//
// # Reconnection
//
// paho's auto-reconnect is disabled. Connect makes exactly one attempt and
// the bridge's connection supervisor decides when to try again. Sessions are
// clean, so subscriptions are re-issued from the OnConnect callback after
// every successful connection.
//
// # Usage
//
//	client, err := mqtt.New(cfg.MQTT, &mqtt.Will{Topic: "voxl/mqtt_bridge/health", Payload: lwt})
//	if err != nil {
//	    return err
//	}
//	client.SetOnConnect(func(error) {
//	    client.Subscribe("voxl/offboard_cmd", 0, handler)
//	})
//	if err := client.Connect(ctx); err != nil {
//	    // retry later
//	}
//	defer client.Close()
//
//	client.Publish("voxl/imu", payload, 0, false)
package mqtt
