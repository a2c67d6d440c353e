package server

import (
	"fmt"
	"net"
	"os"
	"strconv"
)

// listenFDStart is the first descriptor handed over by socket activation
const listenFDStart = 3

// Listen returns the socket-activated listener when the service manager
// passed one to this process, and otherwise binds addr itself.
func Listen(addr string) (net.Listener, bool, error) {
	ln, err := activatedListener(os.Getenv, os.Getpid())
	if err != nil {
		return nil, false, err
	}
	if ln != nil {
		return ln, true, nil
	}

	ln, err = net.Listen("tcp", addr)
	if err != nil {
		return nil, false, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return ln, false, nil
}

// activatedListener inspects LISTEN_PID and LISTEN_FDS. It returns nil
// when activation is absent or meant for another process. Only the first
// passed descriptor is served; extra ones are closed.
func activatedListener(getenv func(string) string, pid int) (net.Listener, error) {
	pidStr := getenv("LISTEN_PID")
	if pidStr == "" {
		return nil, nil
	}
	listenPID, err := strconv.Atoi(pidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid LISTEN_PID %q: %w", pidStr, err)
	}
	if listenPID != pid {
		return nil, nil
	}

	fdsStr := getenv("LISTEN_FDS")
	if fdsStr == "" {
		return nil, nil
	}
	count, err := strconv.Atoi(fdsStr)
	if err != nil {
		return nil, fmt.Errorf("invalid LISTEN_FDS %q: %w", fdsStr, err)
	}
	if count < 1 {
		return nil, nil
	}

	var ln net.Listener
	for i := 0; i < count; i++ {
		fd := listenFDStart + i
		file := os.NewFile(uintptr(fd), fmt.Sprintf("activated-socket-%d", i))
		if file == nil {
			return nil, fmt.Errorf("failed to open activated fd %d", fd)
		}
		if i > 0 {
			_ = file.Close()
			continue
		}
		ln, err = net.FileListener(file)
		_ = file.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to create listener from fd %d: %w", fd, err)
		}
	}

	// Children must not inherit the activation environment.
	_ = os.Unsetenv("LISTEN_PID")
	_ = os.Unsetenv("LISTEN_FDS")
	_ = os.Unsetenv("LISTEN_FDNAMES")

	return ln, nil
}
