package logger

// Nop discards everything. Components fall back to it when no logger is given.
type Nop struct{}

func (Nop) Debugw(string, ...interface{})              {}
func (Nop) Infow(string, ...interface{})               {}
func (Nop) Warnw(string, ...interface{})               {}
func (Nop) Errorw(string, interface{}, ...interface{}) {}

func OrNop(lg Lite) Lite {
	if lg == nil {
		return Nop{}
	}
	return lg
}
