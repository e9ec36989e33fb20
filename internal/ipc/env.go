package ipc

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ChannelFDEnv names the inherited file descriptor carrying the upstream
// channel. A parent that wants passthrough messaging sets it before
// starting the watcher.
const ChannelFDEnv = "DEVWATCH_CHANNEL_FD"

// FromEnv opens the upstream channel, or returns nil when this process was
// not given one.
func FromEnv(options ConnOptions) (*Conn, error) {
	raw := strings.TrimSpace(os.Getenv(ChannelFDEnv))
	if raw == "" {
		return nil, nil
	}
	fd, err := strconv.Atoi(raw)
	if err != nil || fd < 0 {
		return nil, fmt.Errorf("invalid %s %q", ChannelFDEnv, raw)
	}
	file := os.NewFile(uintptr(fd), "devwatch-ipc")
	if file == nil {
		return nil, fmt.Errorf("invalid %s %q", ChannelFDEnv, raw)
	}
	return NewConn(file, file, options), nil
}
