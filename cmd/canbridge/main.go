package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	canbridge "github.com/tp2/canbridge"
	"github.com/tp2/canbridge/pkg/bridge"
	can "github.com/tp2/canbridge/pkg/can"
	"github.com/tp2/canbridge/pkg/capture"
	"github.com/tp2/canbridge/pkg/config"
	"github.com/tp2/canbridge/pkg/gateway/ws"
	"github.com/tp2/canbridge/pkg/serial"

	_ "github.com/tp2/canbridge/pkg/can/loopback"
	_ "github.com/tp2/canbridge/pkg/can/socketcan"
	_ "github.com/tp2/canbridge/pkg/can/virtual"
)

// stdio is the host link when no serial port or websocket is configured
type stdio struct {
	io.Reader
	io.Writer
}

func main() {
	// Command line arguments, they override the configuration file
	configPath := flag.String("c", "", "configuration file (ini)")
	canInterface := flag.String("i", config.DefaultInterface, "CAN interface : virtual, socketcan, socketcanraw, loopback")
	channel := flag.String("ch", config.DefaultChannel, "CAN channel e.g. can0, localhost:18888")
	bitrate := flag.Int("b", config.DefaultBitrate, "CAN bitrate")
	port := flag.String("p", "", "host serial port, stdin/stdout if empty")
	baud := flag.Int("baud", config.DefaultBaud, "host serial baud rate")
	listen := flag.String("ws", "", "websocket listen address e.g. :8090, replaces the serial link")
	capturePath := flag.String("capture", "", "record frames to this file")
	logLevel := flag.String("log", "", "log level")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("[CONFIG] failed to load %v : %v", *configPath, err)
		}
		cfg = loaded
	}
	var flagErr error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "i":
			cfg.CAN.Interface = *canInterface
		case "ch":
			cfg.CAN.Channel = *channel
		case "b":
			cfg.CAN.Bitrate = *bitrate
		case "p":
			cfg.Serial.Port = *port
		case "baud":
			cfg.Serial.Baud = *baud
		case "ws":
			cfg.Websocket.Listen = *listen
		case "capture":
			cfg.Bridge.Capture = *capturePath
		case "log":
			level, err := log.ParseLevel(*logLevel)
			if err != nil {
				flagErr = err
				return
			}
			cfg.LogLevel = level
		}
	})
	if flagErr == nil {
		flagErr = cfg.Validate()
	}
	if flagErr != nil {
		log.Fatalf("[CONFIG] %v", flagErr)
	}
	log.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg); err != nil {
		stop()
		log.Fatal(err)
	}
}

// run the bridge until ctx is done or the host link fails. Every resource
// is released before returning.
func run(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	// CAN bus, an offline bus is used when it can't be brought up
	bus, initErr := can.NewBus(cfg.CAN.Interface, cfg.CAN.Channel, cfg.CAN.Bitrate)
	bm := canbridge.NewBusManager(bus)
	if initErr == nil {
		initErr = bm.Connect(cfg.CAN.Interface, cfg.CAN.Channel, cfg.CAN.Bitrate)
	}
	if initErr != nil {
		bm.SetBus(canbridge.NewOfflineBus(initErr))
	}
	defer bm.Disconnect()

	if cfg.Bridge.Capture != "" {
		recorder, err := capture.Create(cfg.Bridge.Capture)
		if err != nil {
			return fmt.Errorf("[CAPTURE] %w", err)
		}
		defer recorder.Close()
		bm.Subscribe(recorder.Listener(capture.DirectionRx))
		bm.SubscribeTx(recorder.Listener(capture.DirectionTx))
		log.Infof("[CAPTURE] recording frames to %v", cfg.Bridge.Capture)
	}

	// Host link
	var link io.ReadWriter
	switch {
	case cfg.Websocket.Listen != "":
		gateway := ws.NewServer()
		defer gateway.Close()
		go func() {
			err := gateway.ListenAndServe(cfg.Websocket.Listen)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				cancel(fmt.Errorf("[WS] %w", err))
			}
		}()
		link = gateway
	case cfg.Serial.Port != "":
		serialPort, err := serial.Open(serial.Config{Port: cfg.Serial.Port, Baud: cfg.Serial.Baud})
		if err != nil {
			return fmt.Errorf("[BRIDGE] %w", err)
		}
		defer serialPort.Close()
		link = serialPort
	default:
		link = stdio{Reader: os.Stdin, Writer: os.Stdout}
	}

	opts := bridge.DefaultOptions()
	opts.ReportMalformed = cfg.Bridge.ReportMalformed
	opts.AutoSendInterval = cfg.Bridge.AutoSendInterval
	opts.RxQueueSize = uint16(cfg.Bridge.RxQueueSize)
	opts.MaxLineLength = cfg.Bridge.MaxLineLength

	b := bridge.New(bm, link, opts)
	b.Banner(initErr, cfg.CAN.Interface, cfg.CAN.Channel, cfg.CAN.Bitrate)
	b.Attach(link)

	_ = b.Run(ctx)
	if err := context.Cause(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
