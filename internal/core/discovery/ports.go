package discovery

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/colonyops/tether/pkg/atomicfile"
)

// ErrPortsExhausted means every port in the configured range is taken.
var ErrPortsExhausted = errors.New("no free port in range")

// BindFirstFree binds a loopback listener on preferred if it falls inside
// [start,end] and is free, otherwise on the first free port of the range.
// The bridge is local-only, so nothing ever listens on a public interface.
func BindFirstFree(preferred, start, end int) (net.Listener, int, error) {
	tryBind := func(port int) (net.Listener, bool) {
		ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err != nil {
			return nil, false
		}
		return ln, true
	}

	if preferred >= start && preferred <= end {
		if ln, ok := tryBind(preferred); ok {
			return ln, preferred, nil
		}
	}

	for port := start; port <= end; port++ {
		if port == preferred {
			continue
		}
		if ln, ok := tryBind(port); ok {
			return ln, port, nil
		}
	}
	return nil, 0, fmt.Errorf("%w: %d-%d", ErrPortsExhausted, start, end)
}

// LoadPreferredPort reads the port used by the previous run, or 0.
func LoadPreferredPort(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return port
}

// SavePreferredPort records the bound port for reuse on the next run, so
// an instance keeps a stable port across restarts when it can.
func SavePreferredPort(path string, port int) error {
	return atomicfile.Write(path, []byte(strconv.Itoa(port)+"\n"), 0o644)
}
