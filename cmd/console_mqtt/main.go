package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/imu_bridge/internal/app"
	"github.com/relabs-tech/imu_bridge/internal/config"
)

func main() {
	configPath := flag.String("config", "./bridge_config.txt", "path to configuration file")
	flag.Parse()

	log.Println("starting imu-bridge console (MQTT subscriber)")

	// Load configuration
	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunConsoleMQTT(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
