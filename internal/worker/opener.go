package worker

import "os/exec"

// Opener opens the application entry point in a new window when no client
// is connected to receive a navigation message.
type Opener interface {
	Open(url string) error
}

// ExecOpener shells out to the platform's URL opener (xdg-open by default).
type ExecOpener struct {
	Command string
}

func NewExecOpener(command string) *ExecOpener {
	if command == "" {
		command = "xdg-open"
	}
	return &ExecOpener{Command: command}
}

func (o *ExecOpener) Open(url string) error {
	return exec.Command(o.Command, url).Start()
}
