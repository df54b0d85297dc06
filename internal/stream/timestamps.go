package stream

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"
)

// ParseTimestamps reads the GPS seconds column of a frame timestamp file.
// Lines are "<frame> <gps seconds>"; comments and malformed lines are
// skipped. A final line without a newline is still being written and is
// ignored.
func ParseTimestamps(data []byte) []float64 {
	i := bytes.LastIndexByte(data, '\n')
	if i < 0 {
		return nil
	}
	data = data[:i+1]

	var ts []float64
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}
		ts = append(ts, v)
	}
	return ts
}
