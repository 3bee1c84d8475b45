package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pilinski/ems-collector/internal/bus"
	"github.com/pilinski/ems-collector/internal/command"
	"github.com/pilinski/ems-collector/internal/config"
	"github.com/pilinski/ems-collector/internal/datalog"
	"github.com/pilinski/ems-collector/internal/ems"
	"github.com/pilinski/ems-collector/internal/monitor"
)

func main() {
	configPath := flag.String("config", "/etc/ems-collector/config.yaml", "Path to config file")
	commandPort := flag.Int("commandPort", -1, "Control port override (0 disables)")
	dataPort := flag.Int("dataPort", -1, "Data port override (0 disables)")
	serialDevice := flag.String("serialDevice", "", "Serial bus adapter device override")
	tcpHost := flag.String("tcpHost", "", "Remote bus adapter host override")
	tcpPort := flag.Int("tcpPort", 0, "Remote bus adapter port override")
	monitorAddr := flag.String("monitorAddr", "", "Websocket monitor listen address override")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[main] ems-collector starting")

	cfg := config.Load(*configPath)
	if *commandPort >= 0 {
		cfg.Command.Port = *commandPort
	}
	if *dataPort >= 0 {
		cfg.Data.Port = *dataPort
	}
	if *serialDevice != "" {
		cfg.Bus.Device = *serialDevice
		cfg.Bus.Host = ""
	}
	if *tcpHost != "" {
		cfg.Bus.Host = *tcpHost
	}
	if *tcpPort != 0 {
		cfg.Bus.Port = *tcpPort
	}
	if *monitorAddr != "" {
		cfg.Monitor.ListenAddr = *monitorAddr
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[main] %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	cache := datalog.NewCache()

	var store *datalog.Store
	if cfg.History.Path != "" {
		var err error
		store, err = datalog.OpenStore(cfg.History.Path, cfg.History.RetentionDays)
		if err != nil {
			log.Fatalf("[main] %v", err)
		}
		defer store.Close()
	}

	var dataSrv *datalog.Server
	if cfg.Data.Port != 0 {
		dataSrv = datalog.NewServer(cache)
		defer dataSrv.Close()
		go func() {
			if err := dataSrv.ListenAndServe(cfg.Data.Port); err != nil {
				log.Fatalf("[main] %v", err)
			}
		}()
	}

	var mon *monitor.Monitor
	if cfg.Monitor.ListenAddr != "" {
		mon = monitor.New(cache)
		go func() {
			if err := mon.ListenAndServe(ctx, cfg.Monitor.ListenAddr); err != nil {
				log.Fatalf("[main] monitor: %v", err)
			}
		}()
	}

	link := &busLink{}
	handler := command.NewHandler(link)
	defer handler.Close()
	if cfg.Command.Port != 0 {
		go func() {
			if err := handler.ListenAndServe(cfg.Command.Port); err != nil {
				log.Fatalf("[main] %v", err)
			}
		}()
	}

	sink := func(msg *ems.Message) {
		handler.HandleBusMessage(msg)
		if mon != nil {
			mon.BroadcastFrame(msg)
		}
		readings := datalog.Decode(msg, time.Now())
		if len(readings) == 0 {
			return
		}
		changed := cache.Update(readings)
		if dataSrv != nil {
			dataSrv.Publish(changed)
		}
		if store != nil {
			store.Record(readings)
		}
		if mon != nil {
			mon.BroadcastReadings(changed)
		}
	}

	runBus(ctx, cfg, link, sink)
	log.Println("[main] shut down")
}

// busLink hands telegrams to whichever gateway is currently connected. The
// command handler keeps a stable Sender across bus reconnects.
type busLink struct {
	mu sync.Mutex
	gw *bus.Gateway
}

func (l *busLink) set(gw *bus.Gateway) {
	l.mu.Lock()
	l.gw = gw
	l.mu.Unlock()
}

func (l *busLink) Send(msg *ems.Message) error {
	l.mu.Lock()
	gw := l.gw
	l.mu.Unlock()
	if gw == nil {
		return errors.New("bus not connected")
	}
	return gw.Send(msg)
}

func openTransport(cfg *config.Config) (bus.Transport, error) {
	if cfg.Bus.Host != "" {
		return bus.DialTCP(cfg.Bus.Host, cfg.Bus.Port)
	}
	return bus.OpenSerial(cfg.Bus.Device)
}

// runBus keeps the bus connection alive with exponential backoff. Starts at
// 1s, doubles up to 60s, resets after a successful connect.
func runBus(ctx context.Context, cfg *config.Config, link *busLink, sink bus.Sink) {
	delay := 1 * time.Second
	maxDelay := 60 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		tr, err := openTransport(cfg)
		if err != nil {
			log.Printf("[main] bus connect failed: %v (retry in %v)", err, delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
			continue
		}

		log.Printf("[main] bus connected via %s", tr.Name())
		delay = 1 * time.Second

		gw := bus.NewGateway(tr, sink)
		link.set(gw)
		stop := context.AfterFunc(ctx, gw.Close)
		if err := gw.Run(); err != nil {
			log.Printf("[main] bus connection lost: %v", err)
		}
		stop()
		link.set(nil)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
