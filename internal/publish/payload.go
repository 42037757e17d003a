package publish

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/relabs-tech/imu_bridge/internal/imu"
)

// Wire payloads, shared with the consumer binaries that subscribe to the
// bridge topics. Timestamps are ISO-8601 with sub-second precision.

type InfoPayload struct {
	Sensor    string `json:"sensor"`
	Timestamp string `json:"timestamp"`
}

type FilteredPayload struct {
	AccelX    float64 `json:"accel_x"`
	AccelY    float64 `json:"accel_y"`
	AccelZ    float64 `json:"accel_z"`
	GyroX     float64 `json:"gyro_x"`
	GyroY     float64 `json:"gyro_y"`
	GyroZ     float64 `json:"gyro_z"`
	Timestamp string  `json:"timestamp"`
}

type DerivedPayload struct {
	GForceX   float64 `json:"g_force_x"`
	GForceY   float64 `json:"g_force_y"`
	GForceZ   float64 `json:"g_force_z"`
	RollRate  float64 `json:"roll_rate"`
	PitchRate float64 `json:"pitch_rate"`
	YawRate   float64 `json:"yaw_rate"`
	LeanAngle float64 `json:"lean_angle"`
	BankAngle float64 `json:"bank_angle"`
	Timestamp string  `json:"timestamp"`
}

func wireTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func DeviceTopic(base, device, kind string) string {
	return fmt.Sprintf("%s/IMU/%s/%s", base, device, kind)
}

func infoMessage(base string, fs imu.FilteredSample, qos byte) Message {
	payload, _ := json.Marshal(InfoPayload{
		Sensor:    fs.Device,
		Timestamp: wireTime(fs.Time),
	})
	return Message{Topic: DeviceTopic(base, fs.Device, "INFO"), Payload: payload, QoS: qos}
}

func filteredMessage(base string, fs imu.FilteredSample, qos byte) Message {
	payload, _ := json.Marshal(FilteredPayload{
		AccelX: fs.Ax, AccelY: fs.Ay, AccelZ: fs.Az,
		GyroX: fs.Gx, GyroY: fs.Gy, GyroZ: fs.Gz,
		Timestamp: wireTime(fs.Time),
	})
	return Message{Topic: DeviceTopic(base, fs.Device, "FILTERED"), Payload: payload, QoS: qos}
}

func derivedMessage(base string, ds imu.DerivedSample, qos byte) Message {
	payload, _ := json.Marshal(DerivedPayload{
		GForceX: ds.GForceX, GForceY: ds.GForceY, GForceZ: ds.GForceZ,
		RollRate: ds.RollRate, PitchRate: ds.PitchRate, YawRate: ds.YawRate,
		LeanAngle: ds.LeanAngle, BankAngle: ds.BankAngle,
		Timestamp: wireTime(ds.Time),
	})
	return Message{Topic: DeviceTopic(base, ds.Device, "DERIVED"), Payload: payload, QoS: qos}
}
