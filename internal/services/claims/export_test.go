package claims

import "time"

func (s *Service) SetDigits(f func() int)      { s.digits = f }
func (s *Service) SetClock(f func() time.Time) { s.now = f }
