package stream

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// FrameSize is the encoded length of one data frame.
const FrameSize = 76

const (
	frameMagic   = "EEEIF   "
	frameVersion = 76
	frameBackend = "ZEUS2BE "
	gpsSuffix    = "GPS "

	frameTimeLayout = "2006-01-02T15:04:05.000000"
	parseTimeLayout = "2006-01-02T15:04:05.999999999"
)

// Frame is one reduced sample for the telescope data system.
type Frame struct {
	// Timestamp is a GPS clock reading, carried as a UTC time value.
	Timestamp     time.Time
	IntegrationUS int32
	// Phase is 1 for the reference beam and 2 for the signal beam.
	Phase int32
	Value float32
}

// wireFrame is the little-endian layout on the wire.
type wireFrame struct {
	Magic         [8]byte
	Version       uint32
	Backend       [8]byte
	Timestamp     [28]byte
	IntegrationUS int32
	Phase         int32
	Reserved      [4]int32
	Value         float32
}

// FormatTimestamp renders t the way the data system expects: ISO time cut
// to 100 microsecond resolution followed by "GPS ". Whole seconds carry no
// fraction.
func FormatTimestamp(t time.Time) string {
	t = t.UTC()
	if t.Nanosecond()/1000 == 0 {
		return t.Format("2006-01-02T15:04:05") + gpsSuffix
	}
	return t.Format(frameTimeLayout)[:24] + gpsSuffix
}

// ParseTimestamp is the inverse of FormatTimestamp.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimRight(s, "\x00")
	if !strings.HasSuffix(s, gpsSuffix) {
		return time.Time{}, fmt.Errorf("timestamp %q lacks %q suffix", s, gpsSuffix)
	}
	return time.ParseInLocation(parseTimeLayout, strings.TrimSuffix(s, gpsSuffix), time.UTC)
}

// Encode returns the wire form of f.
func (f Frame) Encode() []byte {
	w := wireFrame{
		Version:       frameVersion,
		IntegrationUS: f.IntegrationUS,
		Phase:         f.Phase,
		Reserved:      [4]int32{1, 1, 1, 1},
		Value:         f.Value,
	}
	copy(w.Magic[:], frameMagic)
	copy(w.Backend[:], frameBackend)
	copy(w.Timestamp[:], FormatTimestamp(f.Timestamp))

	var buf bytes.Buffer
	buf.Grow(FrameSize)
	// Writes to a bytes.Buffer cannot fail.
	_ = binary.Write(&buf, binary.LittleEndian, &w)
	return buf.Bytes()
}

// DecodeFrame parses one wire frame.
func DecodeFrame(b []byte) (Frame, error) {
	if len(b) != FrameSize {
		return Frame{}, fmt.Errorf("frame is %d bytes, want %d", len(b), FrameSize)
	}
	var w wireFrame
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &w); err != nil {
		return Frame{}, err
	}
	if string(w.Magic[:]) != frameMagic || string(w.Backend[:]) != frameBackend {
		return Frame{}, fmt.Errorf("bad frame tags %q %q", w.Magic, w.Backend)
	}
	if w.Version != frameVersion {
		return Frame{}, fmt.Errorf("frame version %d, want %d", w.Version, frameVersion)
	}
	ts, err := ParseTimestamp(string(w.Timestamp[:]))
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		Timestamp:     ts,
		IntegrationUS: w.IntegrationUS,
		Phase:         w.Phase,
		Value:         w.Value,
	}, nil
}

// Line is the plain-text mirror of f written to the .pf file.
func (f Frame) Line(value string) string {
	return fmt.Sprintf("%s %d %d %s", FormatTimestamp(f.Timestamp), f.IntegrationUS, f.Phase, value)
}
