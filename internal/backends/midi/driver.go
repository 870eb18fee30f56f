package midi

import (
	"fmt"

	gomidi "gitlab.com/gomidi/midi/v2"
)

// Driver opens named MIDI ports. Recv callbacks run on driver goroutines.
type Driver interface {
	Listen(port string, recv func(msg gomidi.Message)) (stop func(), err error)
	Sender(port string) (send func(msg gomidi.Message) error, closer func() error, err error)
}

// portDriver resolves ports through the gomidi driver registered by the binary.
type portDriver struct{}

func (portDriver) Listen(port string, recv func(msg gomidi.Message)) (func(), error) {
	in, err := gomidi.FindInPort(port)
	if err != nil {
		return nil, fmt.Errorf("input port '%s' not found: %w", port, err)
	}
	stop, err := gomidi.ListenTo(in, func(msg gomidi.Message, _ int32) {
		recv(msg)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to listen on '%s': %w", port, err)
	}
	return func() {
		stop()
		_ = in.Close()
	}, nil
}

func (portDriver) Sender(port string) (func(gomidi.Message) error, func() error, error) {
	out, err := gomidi.FindOutPort(port)
	if err != nil {
		return nil, nil, fmt.Errorf("output port '%s' not found: %w", port, err)
	}
	send, err := gomidi.SendTo(out)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open '%s' for output: %w", port, err)
	}
	return send, out.Close, nil
}
