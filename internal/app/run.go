package app

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relabs-tech/imu_bridge/internal/config"
	"github.com/relabs-tech/imu_bridge/internal/driver"
	"github.com/relabs-tech/imu_bridge/internal/publish"
)

// shutdownGrace bounds the publisher flush + clean disconnect at exit.
const shutdownGrace = 3 * time.Second

// poolOpener adapts *driver.Pool to the BusOpener interface.
type poolOpener struct {
	pool *driver.Pool
}

func (o poolOpener) Open(name string) (driver.Txer, error) {
	b, err := o.pool.Open(name)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// RunBridge wires configuration, publisher and bridge, and blocks until a
// termination signal. configPath is kept so the interactive console can
// trigger a reload of the same file.
func RunBridge(configPath string) error {
	cfg := config.Get()
	log.Printf("starting imu-bridge, %d device(s), broker %s", len(cfg.Devices), cfg.BrokerURL())

	pub := publish.New(publish.Options{
		BrokerURL:      cfg.BrokerURL(),
		ClientID:       cfg.MQTTClientID,
		Username:       cfg.MQTTUsername,
		Password:       cfg.MQTTPassword,
		BaseTopic:      cfg.MQTTBaseTopic,
		QoS:            cfg.MQTTQoS,
		QueueSize:      cfg.QueueSize,
		AutoReconnect:  cfg.AutoReconnect,
		ReconnectDelay: time.Duration(cfg.ReconnectDelay) * time.Millisecond,
	})
	pub.Start()

	pool := driver.NewPool()
	defer pool.Close()

	bridge, err := NewBridge(cfg, poolOpener{pool}, pub)
	if err != nil {
		pub.Close(shutdownGrace)
		return err
	}
	bridge.Start()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	if cfg.RunMode == "interactive" {
		view := newConsoleView(bridge, configPath,
			time.Duration(cfg.ConsoleLogInterval)*time.Millisecond)
		view.start()
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
		case <-view.quit:
			log.Println("console quit, shutting down")
		}
		view.stop()
	} else {
		s := <-sig
		log.Printf("received %v, shutting down", s)
	}

	// Acquisition first so no new messages are enqueued, then give the
	// publisher its bounded grace to flush and disconnect.
	bridge.Stop()
	pub.Close(shutdownGrace)
	log.Println("imu-bridge stopped")
	return nil
}
