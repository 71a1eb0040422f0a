package types

// SensorKind identifies one of the device's data sources.
type SensorKind string

const (
	SensorEEG     SensorKind = "eeg"
	SensorPPG     SensorKind = "ppg"
	SensorACC     SensorKind = "acc"
	SensorBattery SensorKind = "bat"
)

// AllSensors lists every sensor the adapter decodes, in decode order.
var AllSensors = []SensorKind{SensorEEG, SensorPPG, SensorACC, SensorBattery}

// DataType classifies a recorded stream or file.
type DataType string

const (
	DataRaw       DataType = "raw"
	DataProcessed DataType = "processed"
	DataMetadata  DataType = "metadata"
	DataBattery   DataType = "battery"
)

// Nominal sampling rates in Hz, from the device datasheet.
const (
	RateEEG     = 250.0
	RatePPG     = 50.0
	RateACC     = 30.0
	RateBattery = 10.0
)

// EEGSample is a two-channel EEG reading in microvolts.
type EEGSample struct {
	TS         float64 `json:"ts"`
	CH1        float64 `json:"ch1_uv"`
	CH2        float64 `json:"ch2_uv"`
	CH1LeadOff bool    `json:"ch1_leadoff"`
	CH2LeadOff bool    `json:"ch2_leadoff"`
}

// PPGSample carries the raw red/infrared photodiode counts.
type PPGSample struct {
	TS  float64 `json:"ts"`
	Red float64 `json:"red"`
	IR  float64 `json:"ir"`
}

// ACCSample is a three-axis accelerometer reading in milli-g.
type ACCSample struct {
	TS float64 `json:"ts"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	Z  float64 `json:"z"`
}

// BatterySample reports the charge level in percent.
type BatterySample struct {
	TS    float64 `json:"ts"`
	Level float64 `json:"level_percent"`
}

// RawBatch is a decoded burst of samples for one sensor. Samples holds
// []EEGSample, []PPGSample, []ACCSample or []BatterySample depending on Sensor.
type RawBatch struct {
	Sensor  SensorKind `json:"sensor"`
	TS      float64    `json:"ts"`
	Samples any        `json:"samples"`
}
