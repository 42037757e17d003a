package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validConfig = `
# service
RUN_MODE=interactive
UPDATE_INTERVAL=10
AUTO_RECONNECT=true
RECONNECT_DELAY=2000
QUEUE_SIZE=64

MQTT_HOST=localhost
MQTT_PORT=1883
MQTT_BASE_TOPIC=telemetry
MQTT_CLIENT_ID=imu-bridge-test
MQTT_QOS=1

DEVICES=imu0,imu1
IMU0_BUS=1
IMU0_ADDRESS=0x68
IMU0_DRIVER=mpu6500
IMU0_ENABLED=true
IMU0_ACCEL_RANGE=16
IMU0_GYRO_RANGE=2000
IMU0_SAMPLE_RATE=100
IMU0_ACCEL_FILTER=0.0001,0.0025,0.01
IMU0_ACCEL_Z_FILTER=0.0001,0.0035,0.01
IMU0_GYRO_FILTER=0.0001,0.003,0.02

IMU1_ADDRESS=0x69
IMU1_DRIVER=mpu9250
IMU1_ENABLED=false
IMU1_ACCEL_FILTER=0.0001,0.0025,0.01
IMU1_ACCEL_Z_FILTER=0.0001,0.0035,0.01
IMU1_GYRO_FILTER=0.0001,0.003,0.02
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge_config.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.RunMode != "interactive" {
		t.Errorf("RunMode = %q", cfg.RunMode)
	}
	if cfg.MQTTQoS != 1 {
		t.Errorf("MQTTQoS = %d, want 1", cfg.MQTTQoS)
	}
	if cfg.BrokerURL() != "tcp://localhost:1883" {
		t.Errorf("BrokerURL = %q", cfg.BrokerURL())
	}
	if len(cfg.Devices) != 2 {
		t.Fatalf("devices = %d, want 2", len(cfg.Devices))
	}

	d0 := cfg.Devices[0]
	if d0.Name != "imu0" || d0.Address != 0x68 || d0.Driver != "mpu6500" || !d0.Enabled {
		t.Errorf("imu0 = %+v", d0)
	}
	if d0.AccelFilter.MeasurementNoise != 0.0025 || d0.AccelZFilter.MeasurementNoise != 0.0035 {
		t.Errorf("imu0 filter tuning = %+v / %+v", d0.AccelFilter, d0.AccelZFilter)
	}
	if d0.GyroFilter.DeadZone != 0.02 {
		t.Errorf("imu0 gyro dead zone = %v", d0.GyroFilter.DeadZone)
	}

	d1 := cfg.Devices[1]
	if d1.Driver != "mpu9250" || d1.Enabled {
		t.Errorf("imu1 = %+v", d1)
	}
	// Unspecified device fields fall back to defaults.
	if d1.AccelRange != 16 || d1.GyroRange != 2000 || d1.SampleRate != 100 {
		t.Errorf("imu1 defaults = %+v", d1)
	}
}

func TestLoadRejectsBadInput(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{"missing host", func(s string) string {
			return strings.Replace(s, "MQTT_HOST=localhost\n", "", 1)
		}, "MQTT_HOST"},
		{"missing base topic", func(s string) string {
			return strings.Replace(s, "MQTT_BASE_TOPIC=telemetry\n", "", 1)
		}, "MQTT_BASE_TOPIC"},
		{"no devices", func(s string) string {
			return strings.Replace(s, "DEVICES=imu0,imu1", "DEVICES=", 1)
		}, "DEVICES"},
		{"bad qos", func(s string) string {
			return strings.Replace(s, "MQTT_QOS=1", "MQTT_QOS=3", 1)
		}, "MQTT_QOS"},
		{"bad accel range", func(s string) string {
			return strings.Replace(s, "IMU0_ACCEL_RANGE=16", "IMU0_ACCEL_RANGE=32", 1)
		}, "ACCEL_RANGE"},
		{"negative measurement noise", func(s string) string {
			return strings.Replace(s, "IMU0_GYRO_FILTER=0.0001,0.003,0.02", "IMU0_GYRO_FILTER=0.0001,-1,0.02", 1)
		}, "GYRO_FILTER"},
		{"malformed tuning triple", func(s string) string {
			return strings.Replace(s, "IMU0_ACCEL_FILTER=0.0001,0.0025,0.01", "IMU0_ACCEL_FILTER=0.0001,0.0025", 1)
		}, "ACCEL_FILTER"},
		{"missing tuning", func(s string) string {
			return strings.Replace(s, "IMU1_GYRO_FILTER=0.0001,0.003,0.02\n", "", 1)
		}, "IMU1_GYRO_FILTER"},
		{"unknown key", func(s string) string {
			return s + "\nBOGUS_KEY=1\n"
		}, "unknown config key"},
		{"bad run mode", func(s string) string {
			return strings.Replace(s, "RUN_MODE=interactive", "RUN_MODE=fancy", 1)
		}, "RUN_MODE"},
	}

	for _, tc := range cases {
		_, err := Load(writeConfig(t, tc.mutate(validConfig)))
		if err == nil {
			t.Errorf("%s: Load succeeded, want error containing %q", tc.name, tc.wantErr)
			continue
		}
		if !strings.Contains(err.Error(), tc.wantErr) {
			t.Errorf("%s: err = %v, want mention of %q", tc.name, err, tc.wantErr)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.txt")); err == nil {
		t.Fatal("Load of missing file succeeded")
	}
}

func TestDeviceLookup(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if d, ok := cfg.Device("imu1"); !ok || d.Address != 0x69 {
		t.Errorf("Device(imu1) = %+v, %v", d, ok)
	}
	if _, ok := cfg.Device("nope"); ok {
		t.Error("Device(nope) found")
	}
}
