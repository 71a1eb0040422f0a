package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

type DeviceConfig struct {
	Link                string `mapstructure:"link"` // "sim" or "ble"
	ScanDefaultDuration int    `mapstructure:"scan_default_duration_s"`
	ConnectTimeout      int    `mapstructure:"connect_timeout_s"`
	AutoReconnect       bool   `mapstructure:"auto_reconnect"`
	ReconnectAttempts   int    `mapstructure:"reconnect_attempts"`
}

type StreamConfig struct {
	RingCapacityEEG int `mapstructure:"ring_capacity_eeg"`
	RingCapacityPPG int `mapstructure:"ring_capacity_ppg"`
	RingCapacityACC int `mapstructure:"ring_capacity_acc"`
	TickMsEEG       int `mapstructure:"tick_ms_eeg"`
	TickMsPPG       int `mapstructure:"tick_ms_ppg"`
	TickMsACC       int `mapstructure:"tick_ms_acc"`
	TickMsBat       int `mapstructure:"tick_ms_bat"`
}

type BusConfig struct {
	WSPort            int `mapstructure:"ws_port"`
	ClientSendQueue   int `mapstructure:"client_send_queue_len"`
	SlowConsumerLag   int `mapstructure:"slow_consumer_lag_threshold"`
	SlowConsumerWinMs int `mapstructure:"slow_consumer_window_ms"`
}

type RecorderConfig struct {
	DataDir   string `mapstructure:"data_dir"`
	QueueLen  int    `mapstructure:"recorder_queue_len"`
	MinFreeMB uint64 `mapstructure:"min_free_mb"`
	DBFile    string `mapstructure:"db_file"`
}

type Settings struct {
	HTTPPort int            `mapstructure:"http_port"`
	Device   DeviceConfig   `mapstructure:"device"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Bus      BusConfig      `mapstructure:"bus"`
	Recorder RecorderConfig `mapstructure:"recorder"`
	Env      string         `mapstructure:"env"`
	Debug    bool           `mapstructure:"debug"`
}

// DBPath resolves the sqlite file inside the data directory.
func (s *Settings) DBPath() string {
	return filepath.Join(s.Recorder.DataDir, s.Recorder.DBFile)
}

func (s *Settings) ConnectTimeout() time.Duration {
	return time.Duration(s.Device.ConnectTimeout) * time.Second
}

func Load() (*Settings, error) {
	viper.SetConfigName("config_" + genEnv())
	viper.AddConfigPath(".")
	viper.SetConfigType("yaml")
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// Missing file is fine, defaults + env cover everything.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var settings Settings
	if err := viper.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &settings, nil
}

// Defaults returns a Settings populated with the documented defaults,
// without touching disk. Used by tests and the simulator harness.
func Defaults() *Settings {
	return &Settings{
		HTTPPort: 8121,
		Device: DeviceConfig{
			Link:                "sim",
			ScanDefaultDuration: 15,
			ConnectTimeout:      30,
			AutoReconnect:       true,
			ReconnectAttempts:   5,
		},
		Stream: StreamConfig{
			RingCapacityEEG: 2000,
			RingCapacityPPG: 400,
			RingCapacityACC: 150,
			TickMsEEG:       500,
			TickMsPPG:       500,
			TickMsACC:       500,
			TickMsBat:       1000,
		},
		Bus: BusConfig{
			WSPort:            18765,
			ClientSendQueue:   128,
			SlowConsumerLag:   64,
			SlowConsumerWinMs: 10000,
		},
		Recorder: RecorderConfig{
			DataDir:   "./data",
			QueueLen:  256,
			MinFreeMB: 500,
			DBFile:    "mindstream.db",
		},
	}
}

func setDefaults() {
	d := Defaults()
	viper.SetDefault("http_port", d.HTTPPort)
	viper.SetDefault("device.link", d.Device.Link)
	viper.SetDefault("device.scan_default_duration_s", d.Device.ScanDefaultDuration)
	viper.SetDefault("device.connect_timeout_s", d.Device.ConnectTimeout)
	viper.SetDefault("device.auto_reconnect", d.Device.AutoReconnect)
	viper.SetDefault("device.reconnect_attempts", d.Device.ReconnectAttempts)
	viper.SetDefault("stream.ring_capacity_eeg", d.Stream.RingCapacityEEG)
	viper.SetDefault("stream.ring_capacity_ppg", d.Stream.RingCapacityPPG)
	viper.SetDefault("stream.ring_capacity_acc", d.Stream.RingCapacityACC)
	viper.SetDefault("stream.tick_ms_eeg", d.Stream.TickMsEEG)
	viper.SetDefault("stream.tick_ms_ppg", d.Stream.TickMsPPG)
	viper.SetDefault("stream.tick_ms_acc", d.Stream.TickMsACC)
	viper.SetDefault("stream.tick_ms_bat", d.Stream.TickMsBat)
	viper.SetDefault("bus.ws_port", d.Bus.WSPort)
	viper.SetDefault("bus.client_send_queue_len", d.Bus.ClientSendQueue)
	viper.SetDefault("bus.slow_consumer_lag_threshold", d.Bus.SlowConsumerLag)
	viper.SetDefault("bus.slow_consumer_window_ms", d.Bus.SlowConsumerWinMs)
	viper.SetDefault("recorder.data_dir", d.Recorder.DataDir)
	viper.SetDefault("recorder.recorder_queue_len", d.Recorder.QueueLen)
	viper.SetDefault("recorder.min_free_mb", d.Recorder.MinFreeMB)
	viper.SetDefault("recorder.db_file", d.Recorder.DBFile)
}

func genEnv() string {
	env := viper.GetString("ENV")
	if env == "" {
		return "dev"
	}
	return env
}
