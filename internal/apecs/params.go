package apecs

import (
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Parameter names the backend itself reads.
const (
	ParamIntegrationTime = "integrationtime"
	ParamSyncTime        = "synctime"
	ParamBlankTime       = "blanktime"
	ParamUseChopper      = "usechopper"
	ParamGratingIndex    = "gratingindex"
	ParamScanOffset      = "scan_offset"
	ParamState           = "state"
)

// Values of the state parameter.
const (
	StateEnabled  = "ENABLED"
	StateDisabled = "DISABLED"
)

// DefaultParams are the values reported before the telescope sets anything.
func DefaultParams() map[string]string {
	return map[string]string{
		ParamIntegrationTime:   "0",
		ParamBlankTime:         "0",
		"numspecchan":          "1",
		ParamSyncTime:          "0",
		"band1:startchan":      "NOT_AVAILABLE",
		"band1:stopchan":       "NOT_AVAILABLE",
		"band1:maxnumspecchan": "NOT_AVAILABLE",
		"band1:bandwidth":      "160000.0",
		"band1:ifatten":        "0",
		"band1:iflevel":        "0",
		"numphases":            "2",
		"mode":                 "EXTERNAL",
		ParamState:             StateDisabled,
		"usedsections":         "1",
		ParamUseChopper:        "0",
		ParamGratingIndex:      "0",
		ParamScanOffset:        "0",
	}
}

// Params is the operating parameter table. Keys are case-insensitive and
// every value is kept as the string it was set with.
type Params struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewParams returns a table holding DefaultParams.
func NewParams() *Params {
	return &Params{values: DefaultParams()}
}

// Normalize maps a protocol key to its table key: lower case, without the
// "cmd" prefix some clients put on set commands.
func Normalize(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	return strings.TrimPrefix(key, "cmd")
}

// Get returns the value stored under key.
func (p *Params) Get(key string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[Normalize(key)]
	return v, ok
}

// Set stores value under key.
func (p *Params) Set(key, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[Normalize(key)] = value
}

// Int parses the value under key as an integer. Float spellings with no
// fractional part ("100.0") are accepted.
func (p *Params) Int(key string) (int, error) {
	v, _ := p.Get(key)
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f != float64(int(f)) {
		return 0, &strconv.NumError{Func: "Int", Num: v, Err: strconv.ErrSyntax}
	}
	return int(f), nil
}

// Bool reports whether the value under key is "1".
func (p *Params) Bool(key string) bool {
	v, _ := p.Get(key)
	return strings.TrimSpace(v) == "1"
}

// Keys returns the table keys in sorted order.
func (p *Params) Keys() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys := make([]string, 0, len(p.values))
	for k := range p.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
