package config

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
)

var (
	ErrInvalidBitrate   = errors.New("invalid CAN bitrate")
	ErrInvalidBaud      = errors.New("invalid serial baud rate")
	ErrInvalidQueueSize = errors.New("invalid rx queue size")
	ErrInvalidInterval  = errors.New("invalid auto send interval")
)

const (
	DefaultInterface        = "virtual"
	DefaultChannel          = "localhost:18888"
	DefaultBitrate          = 125000
	DefaultBaud             = 115200
	DefaultAutoSendInterval = time.Second
	DefaultRxQueueSize      = 64
	DefaultMaxLineLength    = 128
)

type CANConfig struct {
	Interface string
	Channel   string
	Bitrate   int
}

type SerialConfig struct {
	Port string // empty : use stdin / stdout
	Baud int
}

type BridgeConfig struct {
	ReportMalformed  bool
	AutoSendInterval time.Duration
	RxQueueSize      int
	MaxLineLength    int
	Capture          string // capture file path, empty to disable
}

type WebsocketConfig struct {
	Listen string // empty to disable
}

// Config of the canbridge daemon
type Config struct {
	LogLevel  log.Level
	CAN       CANConfig
	Serial    SerialConfig
	Bridge    BridgeConfig
	Websocket WebsocketConfig
}

func Default() *Config {
	return &Config{
		LogLevel: log.InfoLevel,
		CAN: CANConfig{
			Interface: DefaultInterface,
			Channel:   DefaultChannel,
			Bitrate:   DefaultBitrate,
		},
		Serial: SerialConfig{Baud: DefaultBaud},
		Bridge: BridgeConfig{
			ReportMalformed:  true,
			AutoSendInterval: DefaultAutoSendInterval,
			RxQueueSize:      DefaultRxQueueSize,
			MaxLineLength:    DefaultMaxLineLength,
		},
	}
}

// Load a configuration file
// file can be either a path or an io.Reader or []byte, like ini.Load.
// Missing keys keep their default value.
func Load(file any) (*Config, error) {
	iniFile, err := ini.Load(file)
	if err != nil {
		return nil, err
	}
	config := Default()

	root := iniFile.Section(ini.DefaultSection)
	if root.HasKey("log_level") {
		level, err := log.ParseLevel(root.Key("log_level").String())
		if err != nil {
			return nil, fmt.Errorf("[CONFIG] log_level : %w", err)
		}
		config.LogLevel = level
	}

	section := iniFile.Section("can")
	config.CAN.Interface = section.Key("interface").MustString(config.CAN.Interface)
	config.CAN.Channel = section.Key("channel").MustString(config.CAN.Channel)
	config.CAN.Bitrate = section.Key("bitrate").MustInt(config.CAN.Bitrate)

	section = iniFile.Section("serial")
	config.Serial.Port = section.Key("port").MustString(config.Serial.Port)
	config.Serial.Baud = section.Key("baud").MustInt(config.Serial.Baud)

	section = iniFile.Section("bridge")
	config.Bridge.ReportMalformed = section.Key("report_malformed").MustBool(config.Bridge.ReportMalformed)
	config.Bridge.AutoSendInterval = section.Key("auto_send_interval").MustDuration(config.Bridge.AutoSendInterval)
	config.Bridge.RxQueueSize = section.Key("rx_queue_size").MustInt(config.Bridge.RxQueueSize)
	config.Bridge.MaxLineLength = section.Key("max_line_length").MustInt(config.Bridge.MaxLineLength)
	config.Bridge.Capture = section.Key("capture").MustString(config.Bridge.Capture)

	config.Websocket.Listen = iniFile.Section("websocket").Key("listen").MustString(config.Websocket.Listen)

	return config, config.Validate()
}

func (c *Config) Validate() error {
	if c.CAN.Bitrate <= 0 {
		return fmt.Errorf("[CONFIG] %w : %v", ErrInvalidBitrate, c.CAN.Bitrate)
	}
	if c.Serial.Baud <= 0 {
		return fmt.Errorf("[CONFIG] %w : %v", ErrInvalidBaud, c.Serial.Baud)
	}
	if c.Bridge.RxQueueSize < 2 || c.Bridge.RxQueueSize > 65535 {
		return fmt.Errorf("[CONFIG] %w : %v", ErrInvalidQueueSize, c.Bridge.RxQueueSize)
	}
	if c.Bridge.AutoSendInterval <= 0 {
		return fmt.Errorf("[CONFIG] %w : %v", ErrInvalidInterval, c.Bridge.AutoSendInterval)
	}
	return nil
}

// WriteTo exports the configuration in the format read by Load
func (c *Config) WriteTo(w io.Writer) (int64, error) {
	file := ini.Empty()
	root := file.Section(ini.DefaultSection)
	_, _ = root.NewKey("log_level", c.LogLevel.String())

	entries := []struct {
		section string
		key     string
		value   string
	}{
		{"can", "interface", c.CAN.Interface},
		{"can", "channel", c.CAN.Channel},
		{"can", "bitrate", strconv.Itoa(c.CAN.Bitrate)},
		{"serial", "port", c.Serial.Port},
		{"serial", "baud", strconv.Itoa(c.Serial.Baud)},
		{"bridge", "report_malformed", strconv.FormatBool(c.Bridge.ReportMalformed)},
		{"bridge", "auto_send_interval", c.Bridge.AutoSendInterval.String()},
		{"bridge", "rx_queue_size", strconv.Itoa(c.Bridge.RxQueueSize)},
		{"bridge", "max_line_length", strconv.Itoa(c.Bridge.MaxLineLength)},
		{"bridge", "capture", c.Bridge.Capture},
		{"websocket", "listen", c.Websocket.Listen},
	}
	for _, entry := range entries {
		section, err := file.NewSection(entry.section)
		if err != nil {
			return 0, err
		}
		if _, err := section.NewKey(entry.key, entry.value); err != nil {
			return 0, err
		}
	}
	return file.WriteTo(w)
}
