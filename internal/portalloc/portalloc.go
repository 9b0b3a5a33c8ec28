// Package portalloc allocates free host TCP ports for a sandbox's
// forwarded ports, by optimistic bind-probing. It is the only
// cross-sandbox race protection litterbox has, and is explicitly
// best-effort: a later bind race between the probe and the actual
// container start is possible but rare.
package portalloc

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/throwparty/litterbox/internal/domain"
)

const (
	maxAttempts  = 32
	probeBackoff = 25 * time.Millisecond
)

// Range is an inclusive host-port range to allocate from.
type Range struct {
	Start int
	End   int
}

func (r Range) size() int {
	return r.End - r.Start + 1
}

// Allocator hands out free host ports for a set of logical forwarded-port
// names.
type Allocator struct {
	rng Range
}

// New validates the range and returns an Allocator.
func New(rng Range) (*Allocator, error) {
	if rng.End < rng.Start {
		return nil, fmt.Errorf("%w: port range %d-%d is inverted", domain.ErrConfig, rng.Start, rng.End)
	}
	return &Allocator{rng: rng}, nil
}

// Allocate assigns each forwarded port a free host port and the env var
// name it is advertised under.
func (a *Allocator) Allocate(ports []domain.ForwardedPort) ([]domain.ForwardedPortMapping, error) {
	mappings := make([]domain.ForwardedPortMapping, 0, len(ports))

	used := make(map[int]struct{})
	for _, p := range ports {
		hostPort, err := a.probe(used)
		if err != nil {
			return nil, err
		}
		used[hostPort] = struct{}{}

		slug := domain.Slugify(p.Name)
		mappings = append(mappings, domain.ForwardedPortMapping{
			Name:     p.Name,
			Target:   p.Target,
			HostPort: hostPort,
			EnvVar:   "LITTERBOX_FWD_PORT_" + domain.EnvToken(slug),
		})
	}

	return mappings, nil
}

// probe implements a seeded linear probe: seed from the process
// clock, try up to min(32, range size) candidates, binding 127.0.0.1 on
// each and backing off ~25ms between failures.
func (a *Allocator) probe(exclude map[int]struct{}) (int, error) {
	size := a.rng.size()
	attempts := maxAttempts
	if size < attempts {
		attempts = size
	}

	seed := int(time.Now().UnixNano())

	for k := 0; k < attempts; k++ {
		offset := mod(seed+k, size)
		candidate := a.rng.Start + offset

		if _, taken := exclude[candidate]; taken {
			continue
		}

		if tryBind(candidate) {
			return candidate, nil
		}

		time.Sleep(probeBackoff)
	}

	return 0, fmt.Errorf("%w: no free port found in range %d-%d after %d attempts", domain.ErrConfig, a.rng.Start, a.rng.End, attempts)
}

func mod(a, n int) int {
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}

func tryBind(port int) bool {
	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}
