package device

import (
	"context"
	"encoding/binary"
	"math"
	"math/rand"
	"sync"
	"time"
)

// SimAddress is the address the simulated unit advertises.
const SimAddress = "AA:BB:CC:DD:EE:01"

// SimLink is a deterministic in-process sensor unit used by default wiring
// and by the end-to-end tests. It produces synthetic EEG (10 Hz alpha plus
// noise), a PPG pulse train at 72 bpm, ACC jitter and a slowly draining
// battery, framed exactly like the real unit.
type SimLink struct {
	mu        sync.Mutex
	connected bool
	cancel    context.CancelFunc
	frames    chan []byte
	events    chan LinkEvent

	seq  map[byte]uint16
	tick uint64
	rng  *rand.Rand
}

func NewSimLink() *SimLink {
	return &SimLink{
		frames: make(chan []byte, 64),
		events: make(chan LinkEvent, 8),
		seq:    make(map[byte]uint16),
		rng:    rand.New(rand.NewSource(42)),
	}
}

func (s *SimLink) Scan(ctx context.Context, duration time.Duration) ([]Descriptor, error) {
	if duration <= 0 {
		return nil, nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(duration):
	}
	rssi := -48
	return []Descriptor{{
		Address:  SimAddress,
		Name:     "MindBand Sim",
		LastSeen: time.Now(),
		RSSI:     &rssi,
	}}, nil
}

func (s *SimLink) Connect(ctx context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.connected = true
	go s.run(runCtx)
	select {
	case s.events <- LinkEvent{Kind: LinkUp}:
	default:
	}
	return nil
}

func (s *SimLink) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	s.connected = false
	s.cancel()
	select {
	case s.events <- LinkEvent{Kind: LinkDown, Reason: "requested"}:
	default:
	}
	return nil
}

// Kill simulates an unexpected link loss (out-of-range, battery dead).
func (s *SimLink) Kill() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return
	}
	s.connected = false
	s.cancel()
	select {
	case s.events <- LinkEvent{Kind: LinkDown, Reason: "link lost"}:
	default:
	}
}

func (s *SimLink) Frames() <-chan []byte    { return s.frames }
func (s *SimLink) Events() <-chan LinkEvent { return s.events }

// run emits one burst of frames per 100 ms: 25 EEG samples, 5 PPG, 3 ACC,
// one battery reading, matching the nominal rates.
func (s *SimLink) run(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.emit(s.eegFrame(25))
			s.emit(s.ppgFrame(5))
			s.emit(s.accFrame(3))
			s.emit(s.batFrame())
			s.tick++
		}
	}
}

func (s *SimLink) emit(frame []byte) {
	select {
	case s.frames <- frame:
	default:
		// Receiver stalled; the real radio drops notifications the same way.
	}
}

func (s *SimLink) header(tag byte, n int) []byte {
	buf := make([]byte, frameHeaderLen, frameHeaderLen+n*8)
	buf[0] = tag
	binary.LittleEndian.PutUint16(buf[1:3], s.seq[tag])
	s.seq[tag]++
	buf[3] = byte(n)
	return buf
}

func (s *SimLink) eegFrame(n int) []byte {
	buf := s.header(tagEEG, n)
	base := float64(s.tick) * 0.1
	for i := 0; i < n; i++ {
		t := base + float64(i)/250.0
		// 10 Hz alpha burst + broadband noise, ~30 uV peak.
		uv := 30.0*math.Sin(2*math.Pi*10*t) + s.rng.NormFloat64()*5.0
		raw := int16(uv / eegLSBMicrovolt)
		var rec [eegRecordLen]byte
		binary.LittleEndian.PutUint16(rec[0:2], uint16(raw))
		binary.LittleEndian.PutUint16(rec[2:4], uint16(int16(float64(raw)*0.9)))
		buf = append(buf, rec[:]...)
	}
	return buf
}

func (s *SimLink) ppgFrame(n int) []byte {
	buf := s.header(tagPPG, n)
	base := float64(s.tick) * 0.1
	for i := 0; i < n; i++ {
		t := base + float64(i)/50.0
		// 72 bpm pulse train on a DC baseline.
		pulse := math.Pow(math.Max(0, math.Sin(2*math.Pi*1.2*t)), 3)
		red := 52000 + 2500*pulse + s.rng.NormFloat64()*40
		ir := 60000 + 3200*pulse + s.rng.NormFloat64()*40
		var rec [ppgRecordLen]byte
		binary.LittleEndian.PutUint32(rec[0:4], uint32(red))
		binary.LittleEndian.PutUint32(rec[4:8], uint32(ir))
		buf = append(buf, rec[:]...)
	}
	return buf
}

func (s *SimLink) accFrame(n int) []byte {
	buf := s.header(tagACC, n)
	for i := 0; i < n; i++ {
		var rec [accRecordLen]byte
		x := int16(s.rng.NormFloat64() * 20 / accLSBMilliG)
		y := int16(s.rng.NormFloat64() * 20 / accLSBMilliG)
		z := int16(math.Round(1000 / accLSBMilliG)) // gravity on Z
		binary.LittleEndian.PutUint16(rec[0:2], uint16(x))
		binary.LittleEndian.PutUint16(rec[2:4], uint16(y))
		binary.LittleEndian.PutUint16(rec[4:6], uint16(z))
		buf = append(buf, rec[:]...)
	}
	return buf
}

func (s *SimLink) batFrame() []byte {
	buf := s.header(tagBattery, 1)
	level := 95 - int(s.tick/6000) // ~1% per 10 minutes
	if level < 0 {
		level = 0
	}
	return append(buf, byte(level))
}
