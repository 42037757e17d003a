package app

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/imu_bridge/internal/config"
	"github.com/relabs-tech/imu_bridge/internal/publish"
)

// deviceFeed is the per-device latest data served to web clients.
type deviceFeed struct {
	Filtered *publish.FilteredPayload `json:"filtered,omitempty"`
	Derived  *publish.DerivedPayload  `json:"derived,omitempty"`
}

// webState collects the latest payload per device from the bridge topics.
type webState struct {
	mu      sync.RWMutex
	devices map[string]*deviceFeed
}

func newWebState() *webState {
	return &webState{devices: map[string]*deviceFeed{}}
}

func (s *webState) feed(device string) *deviceFeed {
	if f, ok := s.devices[device]; ok {
		return f
	}
	f := &deviceFeed{}
	s.devices[device] = f
	return f
}

// snapshotJSON serializes the current device map.
func (s *webState) snapshotJSON() ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.devices) == 0 {
		return nil, false
	}
	b, err := json.Marshal(s.devices)
	if err != nil {
		log.Printf("web: json encode error: %v", err)
		return nil, false
	}
	return b, true
}

// topicDevice extracts the device name from "<base>/IMU/<name>/<kind>".
func topicDevice(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 {
		return topic
	}
	return parts[len(parts)-2]
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is served from the same host; no cross-origin clients.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// RunWeb serves the latest samples over a JSON endpoint and a WebSocket
// live feed, fed from the bridge's MQTT topics.
func RunWeb() error {
	cfg := config.Get()
	state := newWebState()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL()).
		SetClientID(cfg.MQTTClientID + "-web")

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("web: connected to MQTT broker at %s", cfg.BrokerURL())

	filteredTopic := publish.DeviceTopic(cfg.MQTTBaseTopic, "+", "FILTERED")
	token := client.Subscribe(filteredTopic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var fp publish.FilteredPayload
		if err := json.Unmarshal(msg.Payload(), &fp); err != nil {
			log.Printf("web: filtered unmarshal error: %v", err)
			return
		}
		state.mu.Lock()
		state.feed(topicDevice(msg.Topic())).Filtered = &fp
		state.mu.Unlock()
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("web: subscribed to %s", filteredTopic)

	derivedTopic := publish.DeviceTopic(cfg.MQTTBaseTopic, "+", "DERIVED")
	token = client.Subscribe(derivedTopic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var dp publish.DerivedPayload
		if err := json.Unmarshal(msg.Payload(), &dp); err != nil {
			log.Printf("web: derived unmarshal error: %v", err)
			return
		}
		state.mu.Lock()
		state.feed(topicDevice(msg.Topic())).Derived = &dp
		state.mu.Unlock()
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("web: subscribed to %s", derivedTopic)

	// JSON API endpoint: latest samples per device
	http.HandleFunc("/api/latest", func(w http.ResponseWriter, r *http.Request) {
		b, ok := state.snapshotJSON()
		if !ok {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(b)
	})

	// WebSocket live feed: pushes the latest snapshot on a fixed tick.
	// Clients that fall behind are dropped.
	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("web: websocket upgrade error: %v", err)
			return
		}
		defer conn.Close()
		log.Printf("web: websocket client connected from %s", r.RemoteAddr)

		ticker := time.NewTicker(time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			b, ok := state.snapshotJSON()
			if !ok {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				log.Printf("web: websocket client %s gone: %v", r.RemoteAddr, err)
				return
			}
		}
	})

	// Static files from ./web as the root
	fs := http.FileServer(http.Dir("web"))
	http.Handle("/", fs)

	addr := cfg.WebAddr()
	log.Printf("web server listening on %s", addr)
	return http.ListenAndServe(addr, nil)
}
