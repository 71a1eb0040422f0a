package types

// Channel is a named publish/subscribe topic on the bus. Membership is closed.
type Channel string

const (
	ChannelRawEEG            Channel = "raw_eeg"
	ChannelRawPPG            Channel = "raw_ppg"
	ChannelRawACC            Channel = "raw_acc"
	ChannelProcessedEEG      Channel = "processed_eeg"
	ChannelProcessedPPG      Channel = "processed_ppg"
	ChannelProcessedACC      Channel = "processed_acc"
	ChannelBattery           Channel = "battery"
	ChannelDeviceInfo        Channel = "device_info"
	ChannelMonitoringMetrics Channel = "monitoring_metrics"
	ChannelEvent             Channel = "event"
)

var knownChannels = map[Channel]struct{}{
	ChannelRawEEG:            {},
	ChannelRawPPG:            {},
	ChannelRawACC:            {},
	ChannelProcessedEEG:      {},
	ChannelProcessedPPG:      {},
	ChannelProcessedACC:      {},
	ChannelBattery:           {},
	ChannelDeviceInfo:        {},
	ChannelMonitoringMetrics: {},
	ChannelEvent:             {},
}

// ValidChannel reports whether ch is one of the closed channel set.
func ValidChannel(ch Channel) bool {
	_, ok := knownChannels[ch]
	return ok
}

// RawChannel maps a sensor to its raw-data channel.
func RawChannel(s SensorKind) Channel {
	switch s {
	case SensorEEG:
		return ChannelRawEEG
	case SensorPPG:
		return ChannelRawPPG
	case SensorACC:
		return ChannelRawACC
	default:
		return ChannelBattery
	}
}

// ProcessedChannel maps a sensor to its processed-window channel.
func ProcessedChannel(s SensorKind) Channel {
	switch s {
	case SensorEEG:
		return ChannelProcessedEEG
	case SensorPPG:
		return ChannelProcessedPPG
	case SensorACC:
		return ChannelProcessedACC
	default:
		return ChannelBattery
	}
}
