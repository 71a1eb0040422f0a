package types

// SignalQuality labels a processed window. A tick that found too few samples
// emits QualityInsufficient with best-effort (or null) indices.
type SignalQuality string

const (
	QualityGood         SignalQuality = "good"
	QualityPoor         SignalQuality = "poor"
	QualityInsufficient SignalQuality = "insufficient"
)

// BandPowers holds absolute EEG band powers for one channel.
type BandPowers struct {
	Delta float64 `json:"delta"`
	Theta float64 `json:"theta"`
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
	Gamma float64 `json:"gamma"`
}

// EEGIndices are the derived cognitive indices. Formula set:
// focus = beta/(alpha+theta), relaxation = alpha/(alpha+beta),
// stress = (beta+gamma)/(alpha+theta), balance = (La-Ra)/(La+Ra),
// load = theta/alpha, stability = (alpha+theta)/gamma.
type EEGIndices struct {
	Focus              *float64 `json:"focus"`
	Relaxation         *float64 `json:"relaxation"`
	Stress             *float64 `json:"stress"`
	HemisphericBalance *float64 `json:"hemispheric_balance"`
	CognitiveLoad      *float64 `json:"cognitive_load"`
	EmotionalStability *float64 `json:"emotional_stability"`
	TotalPower         *float64 `json:"total_power"`
}

// EEGWindow is one processed EEG tick.
type EEGWindow struct {
	TS          float64       `json:"ts"`
	CH1         []float64     `json:"ch1"`
	CH2         []float64     `json:"ch2"`
	SQI1        []float64     `json:"sqi_ch1"`
	SQI2        []float64     `json:"sqi_ch2"`
	Bands1      BandPowers    `json:"bands_ch1"`
	Bands2      BandPowers    `json:"bands_ch2"`
	Indices     EEGIndices    `json:"indices"`
	Quality     SignalQuality `json:"signal_quality"`
	SampleCount int           `json:"sample_count"`
}

// HRVIndices are the heart-rate variability metrics from the RR series.
type HRVIndices struct {
	BPM   *float64 `json:"bpm"`
	SDNN  *float64 `json:"sdnn"`
	RMSSD *float64 `json:"rmssd"`
	PNN50 *float64 `json:"pnn50"`
	SDSD  *float64 `json:"sdsd"`
	LF    *float64 `json:"lf"`
	HF    *float64 `json:"hf"`
	LFHF  *float64 `json:"lf_hf"`
	SD1   *float64 `json:"sd1"`
	SD2   *float64 `json:"sd2"`
}

// PPGWindow is one processed PPG tick.
type PPGWindow struct {
	TS          float64       `json:"ts"`
	Filtered    []float64     `json:"filtered"`
	SQI         []float64     `json:"sqi"`
	HRV         HRVIndices    `json:"hrv"`
	RedMean     float64       `json:"red_mean"`
	IRMean      float64       `json:"ir_mean"`
	Quality     SignalQuality `json:"signal_quality"`
	SampleCount int           `json:"sample_count"`
}

// ActivityState is the discrete motion classification.
type ActivityState string

const (
	ActivityStationary ActivityState = "stationary"
	ActivitySitting    ActivityState = "sitting"
	ActivityWalking    ActivityState = "walking"
	ActivityRunning    ActivityState = "running"
)

// ACCWindow is one processed accelerometer tick.
type ACCWindow struct {
	TS          float64       `json:"ts"`
	DeltaX      []float64     `json:"delta_x"`
	DeltaY      []float64     `json:"delta_y"`
	DeltaZ      []float64     `json:"delta_z"`
	AvgMovement float64       `json:"avg_movement"`
	StdMovement float64       `json:"std_movement"`
	MaxMovement float64       `json:"max_movement"`
	Activity    ActivityState `json:"activity"`
	Quality     SignalQuality `json:"signal_quality"`
	SampleCount int           `json:"sample_count"`
}

// BatteryWindow is the trivial battery "pipeline" output: latest level.
type BatteryWindow struct {
	TS    float64 `json:"ts"`
	Level float64 `json:"level_percent"`
}
