package device

import (
	"fmt"
	"sync"
)

// LineSender is a line-oriented serial connection.
type LineSender interface {
	Send(command string) error
	Exchange(command string) (string, error)
}

// Sync box modes.
const (
	SyncModeDataValid = "rt"
	SyncModeFreeRun   = "fr"
)

// SyncBox is the readout sync box. It either follows data-valid pulses from
// the timing controller or free-runs at a fixed data rate.
type SyncBox struct {
	conn LineSender

	mu       sync.Mutex
	numRows  int
	rowLen   int
	mode     string
	dataRate int
}

// NewSyncBox programs the default row geometry (33 rows of length 50).
func NewSyncBox(conn LineSender) (*SyncBox, error) {
	s := &SyncBox{conn: conn, mode: SyncModeDataValid, dataRate: 38}
	if err := s.SetNumRows(33); err != nil {
		return nil, err
	}
	if err := s.SetRowLen(50); err != nil {
		return nil, err
	}
	return s, nil
}

// SetNumRows sets the number of multiplexed rows.
func (s *SyncBox) SetNumRows(n int) error {
	if err := s.conn.Send(fmt.Sprintf("nr %d", n)); err != nil {
		return err
	}
	s.mu.Lock()
	s.numRows = n
	s.mu.Unlock()
	return nil
}

// SetRowLen sets the row dwell length.
func (s *SyncBox) SetRowLen(n int) error {
	if err := s.conn.Send(fmt.Sprintf("rl %d", n)); err != nil {
		return err
	}
	s.mu.Lock()
	s.rowLen = n
	s.mu.Unlock()
	return nil
}

// UseDataValid makes the box follow the timing controller's pulses.
func (s *SyncBox) UseDataValid() error {
	if err := s.conn.Send(SyncModeDataValid); err != nil {
		return err
	}
	s.mu.Lock()
	s.mode = SyncModeDataValid
	s.mu.Unlock()
	return nil
}

// FreeRun makes the box command frames continuously at dataRate.
func (s *SyncBox) FreeRun(dataRate int) error {
	if err := s.conn.Send(fmt.Sprintf("fr %d", dataRate)); err != nil {
		return err
	}
	s.mu.Lock()
	s.mode = SyncModeFreeRun
	s.dataRate = dataRate
	s.mu.Unlock()
	return nil
}

// Go starts generating or following pulses.
func (s *SyncBox) Go() error { return s.conn.Send("go") }

// Stop stops pulse generation.
func (s *SyncBox) Stop() error { return s.conn.Send("st") }

// Reset resets the box.
func (s *SyncBox) Reset() error { return s.conn.Send("re") }

// Mode returns the current mode.
func (s *SyncBox) Mode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}
