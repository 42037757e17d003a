package app

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/imu_bridge/internal/config"
	"github.com/relabs-tech/imu_bridge/internal/gps"
	"github.com/relabs-tech/imu_bridge/internal/publish"
)

// RunConsoleMQTT subscribes to the bridge topics and prints every message.
// Debug tool: unlike the interactive view it does not coalesce, so it shows
// the full publish stream.
func RunConsoleMQTT() error {
	cfg := config.Get()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL()).
		SetClientID(cfg.MQTTClientID + "-console")

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.BrokerURL())

	filteredTopic := publish.DeviceTopic(cfg.MQTTBaseTopic, "+", "FILTERED")
	filteredToken := client.Subscribe(filteredTopic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var fp publish.FilteredPayload
		if err := json.Unmarshal(msg.Payload(), &fp); err != nil {
			log.Printf("console: filtered unmarshal error: %v", err)
			return
		}
		fmt.Printf(
			"[FILT] %s  ax=%7.3f ay=%7.3f az=%7.3f  gx=%8.2f gy=%8.2f gz=%8.2f\n",
			msg.Topic(), fp.AccelX, fp.AccelY, fp.AccelZ, fp.GyroX, fp.GyroY, fp.GyroZ,
		)
	})
	filteredToken.Wait()
	if filteredToken.Error() != nil {
		return filteredToken.Error()
	}
	log.Printf("console: subscribed to %s", filteredTopic)

	derivedTopic := publish.DeviceTopic(cfg.MQTTBaseTopic, "+", "DERIVED")
	derivedToken := client.Subscribe(derivedTopic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var dp publish.DerivedPayload
		if err := json.Unmarshal(msg.Payload(), &dp); err != nil {
			log.Printf("console: derived unmarshal error: %v", err)
			return
		}
		fmt.Printf(
			"[DERV] %s  g=(%6.3f %6.3f %6.3f)  rates=(%7.2f %7.2f %7.2f)  lean=%6.2f bank=%6.2f\n",
			msg.Topic(),
			dp.GForceX, dp.GForceY, dp.GForceZ,
			dp.RollRate, dp.PitchRate, dp.YawRate,
			dp.LeanAngle, dp.BankAngle,
		)
	})
	derivedToken.Wait()
	if derivedToken.Error() != nil {
		return derivedToken.Error()
	}
	log.Printf("console: subscribed to %s", derivedTopic)

	infoTopic := publish.DeviceTopic(cfg.MQTTBaseTopic, "+", "INFO")
	infoToken := client.Subscribe(infoTopic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var ip publish.InfoPayload
		if err := json.Unmarshal(msg.Payload(), &ip); err != nil {
			log.Printf("console: info unmarshal error: %v", err)
			return
		}
		fmt.Printf("[INFO] sensor=%s time=%s\n", ip.Sensor, ip.Timestamp)
	})
	infoToken.Wait()
	if infoToken.Error() != nil {
		return infoToken.Error()
	}
	log.Printf("console: subscribed to %s", infoTopic)

	gpsTopic := cfg.MQTTBaseTopic + "/GPS"
	gpsToken := client.Subscribe(gpsTopic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var f gps.Fix
		if err := json.Unmarshal(msg.Payload(), &f); err != nil {
			log.Printf("console: gps unmarshal error: %v", err)
			return
		}
		fmt.Printf(
			"[GPS ] time=%s lat=%.6f lon=%.6f speed=%.1fkn course=%.1f validity=%s\n",
			f.Time, f.Latitude, f.Longitude, f.SpeedKnots, f.CourseDeg, f.Validity,
		)
	})
	gpsToken.Wait()
	if gpsToken.Error() != nil {
		return gpsToken.Error()
	}
	log.Printf("console: subscribed to %s", gpsTopic)

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}
