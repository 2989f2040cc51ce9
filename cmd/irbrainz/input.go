package main

import (
	"fmt"
	"sync"

	evdev "github.com/gvalkov/golang-evdev"
)

// EventSource yields raw events from one input device.
type EventSource interface {
	ReadOne() (RawEvent, error)
	Close() error
}

// SourceOpener opens the event source at path.
type SourceOpener func(path string) (EventSource, error)

// SourceError describes a failure of one input source.
type SourceError struct {
	Path string
	Op   string // "open" or "read"
	Err  error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// evdevSource reads a Linux input device.
type evdevSource struct {
	dev     *evdev.InputDevice
	grabbed bool

	closeOnce sync.Once
	closeErr  error
}

// evdevOpener returns a SourceOpener for evdev devices. With grab set the
// device is opened exclusively so keystrokes do not reach the console.
func evdevOpener(grab bool) SourceOpener {
	return func(path string) (EventSource, error) {
		dev, err := evdev.Open(path)
		if err != nil {
			return nil, err
		}
		src := &evdevSource{dev: dev}
		if grab {
			if err := dev.Grab(); err != nil {
				dev.File.Close()
				return nil, fmt.Errorf("grab: %w", err)
			}
			src.grabbed = true
		}
		return src, nil
	}
}

func (s *evdevSource) ReadOne() (RawEvent, error) {
	ev, err := s.dev.ReadOne()
	if err != nil {
		return RawEvent{}, err
	}
	return RawEvent{Type: ev.Type, Code: ev.Code, Value: ev.Value}, nil
}

// Close is safe to call more than once; it unblocks a pending ReadOne.
func (s *evdevSource) Close() error {
	s.closeOnce.Do(func() {
		if s.grabbed {
			s.dev.Release()
		}
		s.closeErr = s.dev.File.Close()
	})
	return s.closeErr
}

// describeDevice returns the kernel-reported name of an open evdev device.
func describeDevice(src EventSource) string {
	if s, ok := src.(*evdevSource); ok && s.dev != nil {
		return s.dev.Name
	}
	return ""
}
