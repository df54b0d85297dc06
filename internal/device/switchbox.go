package device

import (
	"strings"
	"sync"
)

// Switch box positions as recorded in house-keeping files.
const (
	SwitchLabChop = "A (chop)"
	SwitchSky     = "B (APEX)"
)

// SwitchBox selects between the lab chop path (A) and the sky path (B).
type SwitchBox struct {
	link  Link
	mu    sync.Mutex
	state string
}

// NewSwitchBox queries the box for its current position.
func NewSwitchBox(link Link) (*SwitchBox, error) {
	s := &SwitchBox{link: link}
	state, err := s.QueryState()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	return s, nil
}

// SetLabChop selects position A.
func (s *SwitchBox) SetLabChop() error {
	return s.set("\x01", SwitchLabChop)
}

// SetSky selects position B.
func (s *SwitchBox) SetSky() error {
	return s.set("\x02", SwitchSky)
}

func (s *SwitchBox) set(code, state string) error {
	if err := s.link.Send(code); err != nil {
		return err
	}
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	return nil
}

// QueryState asks the box for its position. Replies other than A or B are
// returned verbatim.
func (s *SwitchBox) QueryState() (string, error) {
	reply, err := s.link.Exchange("\x10")
	if err != nil {
		return "", err
	}
	switch {
	case strings.Contains(reply, "A"):
		return SwitchLabChop, nil
	case strings.Contains(reply, "B"):
		return SwitchSky, nil
	default:
		return reply, nil
	}
}

// State returns the last known position.
func (s *SwitchBox) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
