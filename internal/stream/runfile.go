package stream

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/zeus2/zeus2be/internal/device"
)

// RunFile is the readout's run metadata file, a set of <SECTION> blocks
// holding "<key> value" lines.
type RunFile map[string]map[string]string

// ParseRunFile parses run file text. Unterminated sections are kept.
func ParseRunFile(data []byte) RunFile {
	rf := RunFile{}
	section := ""
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "<") {
			continue
		}
		end := strings.IndexByte(line, '>')
		if end < 0 {
			continue
		}
		tag := line[1:end]
		value := strings.TrimSpace(line[end+1:])
		switch {
		case strings.HasPrefix(tag, "/"):
			section = ""
		case section == "" && value == "":
			section = tag
			if rf[section] == nil {
				rf[section] = map[string]string{}
			}
		default:
			if rf[section] == nil {
				rf[section] = map[string]string{}
			}
			rf[section][tag] = value
		}
	}
	return rf
}

func (rf RunFile) int(section, key string) (int, error) {
	v, ok := rf[section][key]
	if !ok {
		return 0, fmt.Errorf("run file has no <%s> in <%s>", key, section)
	}
	fields := strings.Fields(v)
	if len(fields) == 0 {
		return 0, fmt.Errorf("run file <%s> is empty", key)
	}
	return strconv.Atoi(fields[0])
}

// FrameCount is the number of frames the acquisition was asked for.
func (rf RunFile) FrameCount() (int, error) {
	return rf.int("FRAMEACQ", "DATA_FRAMECOUNT")
}

// Geometry is the clock card readout geometry recorded at start.
func (rf RunFile) Geometry() (device.Geometry, error) {
	var g device.Geometry
	var err error
	if g.RowLen, err = rf.int("HEADER", "RB cc row_len"); err != nil {
		return g, err
	}
	if g.NumRows, err = rf.int("HEADER", "RB cc num_rows"); err != nil {
		return g, err
	}
	g.DataRate, err = rf.int("HEADER", "RB cc data_rate")
	return g, err
}
