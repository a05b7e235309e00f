package ingest

import (
	"context"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"classmon/internal/config"
	"classmon/internal/pipeline"
)

// StartMQTT subscribes to the device telemetry and scan topics.
// Telemetry documents go through the pipeline channel; scan messages
// land in the rendezvous slot directly.
func StartMQTT(ctx context.Context, cfg *config.Manager, pipe *pipeline.Pipeline, out chan<- pipeline.ReadingPayload, logger *slog.Logger) error {
	current := cfg.Get().Ingest.MQTT
	if !current.Enabled {
		if logger != nil {
			logger.Info("mqtt ingest disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("mqtt ingest enabled", "broker", current.BrokerURL, "telemetry_topic", current.TelemetryTopic)
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(current.BrokerURL)
	opts.SetClientID(current.ClientID)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}

	telemetry := func(_ mqtt.Client, msg mqtt.Message) {
		payload, err := DecodeReading(msg.Payload())
		if err != nil {
			if logger != nil {
				logger.Warn("mqtt decode error", "topic", msg.Topic(), "err", err)
			}
			return
		}
		payload.Source = "mqtt"
		SendNonBlocking(ctx, out, payload, logger)
	}
	if token := client.Subscribe(current.TelemetryTopic, 0, telemetry); token.Wait() && token.Error() != nil {
		return token.Error()
	}

	if current.ScanTopic != "" {
		scan := func(_ mqtt.Client, msg mqtt.Message) {
			uid, err := DecodeScan(msg.Payload())
			if err != nil {
				if logger != nil {
					logger.Warn("mqtt scan decode error", "topic", msg.Topic(), "err", err)
				}
				return
			}
			if _, err := pipe.RecordScan(uid); err != nil {
				if logger != nil {
					logger.Warn("mqtt scan rejected", "topic", msg.Topic(), "err", err)
				}
			}
		}
		if token := client.Subscribe(current.ScanTopic, 0, scan); token.Wait() && token.Error() != nil {
			return token.Error()
		}
	}

	go func() {
		<-ctx.Done()
		client.Disconnect(250)
	}()
	return nil
}
