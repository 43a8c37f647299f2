// Package mqtt publishes console change events to an MQTT broker so that
// other services can react when users, roles or menus change.
//
// Publishing is optional (mqtt.enabled). The client only publishes; it never
// subscribes. Events go to
//
//	<prefix>/events/<entity>/<action>
//
// with the configured QoS and are never retained. The client also keeps a
// retained online/offline status on <prefix>/system/status, with a Last Will
// so subscribers notice an unexpected disconnect.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, logger)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishEvent("menu", "update", map[string]any{"id": 7})
package mqtt
