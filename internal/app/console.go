package app

import (
	"bufio"
	"fmt"
	"log"
	"math"
	"os"
	"strings"
	"sync"
	"time"
)

// consoleView is the interactive terminal view. It is a pure consumer of
// the bridge snapshot: it redraws the latest samples on its own tick and
// forwards keyboard commands to the orchestration operations. Coalescing
// is expected, it never sees every sample.
type consoleView struct {
	bridge     *Bridge
	configPath string
	interval   time.Duration

	mu   sync.Mutex
	maxG map[string]float64 // view-local peak |g| per device

	quit chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

func newConsoleView(b *Bridge, configPath string, interval time.Duration) *consoleView {
	return &consoleView{
		bridge:     b,
		configPath: configPath,
		interval:   interval,
		maxG:       map[string]float64{},
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (v *consoleView) start() {
	fmt.Println("commands: m=pause/resume  t <device>=toggle  r=reload config  c=clear history  q=quit")
	v.wg.Add(1)
	go v.renderLoop()
	// The stdin reader blocks in Read and cannot be interrupted portably;
	// it is not joined on stop, process exit reclaims it.
	go v.inputLoop()
}

func (v *consoleView) stop() {
	close(v.done)
	v.wg.Wait()
}

func (v *consoleView) renderLoop() {
	defer v.wg.Done()
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()
	for {
		select {
		case <-v.done:
			return
		case <-ticker.C:
			v.render()
		}
	}
}

func (v *consoleView) render() {
	s := v.bridge.Snapshot()

	mode := "MEASURING"
	if !s.Measuring {
		mode = "PAUSED"
	}
	fmt.Printf("[%s] broker=%s dropped=%d\n", mode, s.Publisher.State, s.Publisher.Dropped)

	v.mu.Lock()
	defer v.mu.Unlock()
	for _, d := range s.Devices {
		if !d.Enabled {
			fmt.Printf("[%-6s] disabled\n", d.Name)
			continue
		}
		if !d.HaveSample {
			fmt.Printf("[%-6s] waiting for data\n", d.Name)
			continue
		}
		if d.HaveDerived {
			g := math.Sqrt(d.Derived.GForceX*d.Derived.GForceX +
				d.Derived.GForceY*d.Derived.GForceY +
				d.Derived.GForceZ*d.Derived.GForceZ)
			if g > v.maxG[d.Name] {
				v.maxG[d.Name] = g
			}
			fmt.Printf("[%-6s] accel x=%6.3f y=%6.3f z=%6.3f  gyro x=%7.2f y=%7.2f z=%7.2f  lean=%6.2f bank=%6.2f  |g|max=%.3f\n",
				d.Name,
				d.Filtered.Ax, d.Filtered.Ay, d.Filtered.Az,
				d.Filtered.Gx, d.Filtered.Gy, d.Filtered.Gz,
				d.Derived.LeanAngle, d.Derived.BankAngle,
				v.maxG[d.Name])
		} else {
			fmt.Printf("[%-6s] accel x=%6.3f y=%6.3f z=%6.3f  gyro x=%7.2f y=%7.2f z=%7.2f  (angles undefined)\n",
				d.Name,
				d.Filtered.Ax, d.Filtered.Ay, d.Filtered.Az,
				d.Filtered.Gx, d.Filtered.Gy, d.Filtered.Gz)
		}
	}
}

// clearHistory resets the view-local peak tracking; core state is untouched.
func (v *consoleView) clearHistory() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.maxG = map[string]float64{}
}

func (v *consoleView) inputLoop() {
	reader := bufio.NewReader(os.Stdin)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "m":
			v.bridge.ToggleMeasuring()
		case "t":
			if len(fields) < 2 {
				fmt.Println("usage: t <device>")
				continue
			}
			if _, err := v.bridge.ToggleDevice(fields[1]); err != nil {
				log.Printf("console: %v", err)
			}
		case "r":
			if err := v.bridge.ReloadConfig(v.configPath); err != nil {
				log.Printf("console: %v", err)
			}
		case "c":
			v.clearHistory()
			fmt.Println("history cleared")
		case "q":
			close(v.quit)
			return
		default:
			fmt.Printf("unknown command %q\n", fields[0])
		}
	}
}
