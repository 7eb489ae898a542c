package probe

import (
	"os"

	"golang.org/x/sys/unix"
)

// EnterPending returns a check reporting whether a line is waiting on the
// terminal, consuming it when one is. It backs the "press Enter to switch
// to manual" escape during the link wait: nothing is read unless input is
// actually ready, so if the wait ends first the operator's next line still
// reaches the prompt that asked for it.
func EnterPending(f *os.File) func() bool {
	return func() bool {
		fds := []unix.PollFd{{Fd: int32(f.Fd()), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, 0)
		if err != nil || n == 0 || fds[0].Revents&unix.POLLIN == 0 {
			return false
		}
		buf := make([]byte, 256)
		_, _ = f.Read(buf)
		return true
	}
}
