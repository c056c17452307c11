package logging

import "github.com/joeycumines/logiface"

// FromLogiface adapts a *logiface.Logger[logiface.Event] (for example, one
// constructed via izerolog.L.New(izerolog.L.WithZerolog(...))) to the
// Logger interface consumed by this module.
func FromLogiface(l *logiface.Logger[logiface.Event]) Logger {
	return logifaceLogger{l}
}

type logifaceLogger struct {
	l *logiface.Logger[logiface.Event]
}

func (x logifaceLogger) Error(msg string, err error) {
	if x.l == nil {
		return
	}
	b := x.l.Err()
	if err != nil {
		b = b.Err(err)
	}
	b.Log(msg)
}

func (x logifaceLogger) Info(msg string, err error) {
	if x.l == nil {
		return
	}
	b := x.l.Info()
	if err != nil {
		b = b.Err(err)
	}
	b.Log(msg)
}
