package app

import (
	"encoding/json"
	"fmt"
	"image"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/imu_bridge/internal/config"
	"github.com/relabs-tech/imu_bridge/internal/publish"
)

// displayData holds the latest samples seen on the bridge topics. Latest
// wins; the redraw tick coalesces.
type displayData struct {
	mu sync.RWMutex

	filtered     publish.FilteredPayload
	haveFiltered bool
	derived      publish.DerivedPayload
	haveDerived  bool
}

// RunDisplay renders the latest filtered and derived samples on an SSD1306
// OLED, fed from the bridge's MQTT topics.
func RunDisplay() error {
	cfg := config.Get()

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	bus, err := i2creg.Open("")
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	log.Println("display: SSD1306 initialized")

	if err := showSplash(dev); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}

	data := &displayData{}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL()).
		SetClientID(cfg.MQTTClientID + "-display")
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Printf("display: connected to MQTT broker at %s", cfg.BrokerURL())

	filteredTopic := publish.DeviceTopic(cfg.MQTTBaseTopic, "+", "FILTERED")
	token := client.Subscribe(filteredTopic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var fp publish.FilteredPayload
		if err := json.Unmarshal(msg.Payload(), &fp); err != nil {
			log.Printf("display: filtered unmarshal error: %v", err)
			return
		}
		data.mu.Lock()
		data.filtered = fp
		data.haveFiltered = true
		data.mu.Unlock()
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("display: subscribed to %s", filteredTopic)

	derivedTopic := publish.DeviceTopic(cfg.MQTTBaseTopic, "+", "DERIVED")
	token = client.Subscribe(derivedTopic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var dp publish.DerivedPayload
		if err := json.Unmarshal(msg.Payload(), &dp); err != nil {
			log.Printf("display: derived unmarshal error: %v", err)
			return
		}
		data.mu.Lock()
		data.derived = dp
		data.haveDerived = true
		data.mu.Unlock()
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("display: subscribed to %s", derivedTopic)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond)
	defer ticker.Stop()

	log.Println("display: starting update loop")
	for {
		select {
		case <-sigCh:
			log.Println("display: shutting down")
			return nil
		case <-ticker.C:
			data.mu.RLock()
			fp, haveF := data.filtered, data.haveFiltered
			dp, haveD := data.derived, data.haveDerived
			data.mu.RUnlock()
			if err := drawSamples(dev, fp, haveF, dp, haveD); err != nil {
				log.Printf("display: draw error: %v", err)
			}
		}
	}
}

func newFrame() (*image1bit.VerticalLSB, *font.Drawer) {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))
	for i := range img.Pix {
		img.Pix[i] = 0
	}
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	return img, drawer
}

func drawSamples(dev *ssd1306.Dev, fp publish.FilteredPayload, haveF bool, dp publish.DerivedPayload, haveD bool) error {
	img, drawer := newFrame()

	if !haveF {
		drawer.Dot = fixed.P(0, 26)
		drawer.DrawBytes([]byte("IMU Bridge"))
		drawer.Dot = fixed.P(0, 39)
		drawer.DrawBytes([]byte("Waiting..."))
		return dev.Draw(dev.Bounds(), img, image.Point{})
	}

	drawer.Dot = fixed.P(0, 13)
	drawer.DrawBytes([]byte(fmt.Sprintf("A %5.2f %5.2f", fp.AccelX, fp.AccelY)))
	drawer.Dot = fixed.P(0, 26)
	drawer.DrawBytes([]byte(fmt.Sprintf("  %5.2f", fp.AccelZ)))

	if haveD {
		drawer.Dot = fixed.P(0, 39)
		drawer.DrawBytes([]byte(fmt.Sprintf("Lean %6.1f", dp.LeanAngle)))
		drawer.Dot = fixed.P(0, 52)
		drawer.DrawBytes([]byte(fmt.Sprintf("Bank %6.1f", dp.BankAngle)))
	} else {
		drawer.Dot = fixed.P(0, 39)
		drawer.DrawBytes([]byte(fmt.Sprintf("G %6.1f", fp.GyroX)))
		drawer.Dot = fixed.P(0, 52)
		drawer.DrawBytes([]byte(fmt.Sprintf("  %6.1f %6.1f", fp.GyroY, fp.GyroZ)))
	}

	return dev.Draw(dev.Bounds(), img, image.Point{})
}

func showSplash(dev *ssd1306.Dev) error {
	img, drawer := newFrame()

	drawer.Dot = fixed.P(10, 26)
	drawer.DrawBytes([]byte("IMU Bridge"))

	drawer.Dot = fixed.P(5, 43)
	drawer.DrawBytes([]byte("Waiting for"))

	drawer.Dot = fixed.P(25, 56)
	drawer.DrawBytes([]byte("samples"))

	return dev.Draw(dev.Bounds(), img, image.Point{})
}
