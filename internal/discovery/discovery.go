// Package discovery finds consoles on the local network by probing every
// host of a subnet with an identity query and collecting the replies.
package discovery

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/stagelink/x32mgr/internal/logger"
	"github.com/stagelink/x32mgr/internal/osc"
)

// Console is one discovered mixer.
type Console struct {
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	Name     string `json:"name"`
	Model    string `json:"model"`
	Firmware string `json:"firmware"`
}

// maxParallelProbes bounds the number of sockets open at once during a sweep.
const maxParallelProbes = 64

// Probe sends /xinfo to every host in the subnet (CIDR notation) on the given
// port and returns whoever answered within the timeout, sorted by address.
func Probe(ctx context.Context, subnet string, port int, timeout time.Duration) ([]Console, error) {
	_, ipnet, err := net.ParseCIDR(subnet)
	if err != nil {
		return nil, fmt.Errorf("parse subnet %q: %w", subnet, err)
	}
	if port <= 0 {
		port = 10023
	}
	if timeout <= 0 {
		timeout = time.Second
	}

	hosts := hostsOf(ipnet)
	logger.Info("probing subnet for consoles",
		"subnet", subnet,
		"hosts", len(hosts),
	)

	probe, err := osc.Encode(osc.NewMessage("/xinfo"))
	if err != nil {
		return nil, err
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		found []Console
	)
	sem := make(chan struct{}, maxParallelProbes)

	for _, host := range hosts {
		select {
		case <-ctx.Done():
			wg.Wait()
			return found, ctx.Err()
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(host string) {
			defer func() {
				<-sem
				wg.Done()
			}()
			c, ok := probeHost(ctx, host, port, probe, timeout)
			if !ok {
				return
			}
			mu.Lock()
			found = append(found, c)
			mu.Unlock()
		}(host)
	}
	wg.Wait()

	sort.Slice(found, func(i, j int) bool { return found[i].IP < found[j].IP })
	logger.Info("subnet probe finished", "found", len(found))
	return found, nil
}

// probeHost sends one identity query and waits for the four-string reply.
func probeHost(ctx context.Context, host string, port int, probe []byte, timeout time.Duration) (Console, bool) {
	conn, err := net.Dial("udp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return Console{}, false
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	if _, err := conn.Write(probe); err != nil {
		return Console{}, false
	}

	buf := make([]byte, 2048)
	n, err := conn.Read(buf)
	if err != nil {
		return Console{}, false
	}

	msgs, err := osc.Decode(buf[:n])
	if err != nil || len(msgs) == 0 {
		return Console{}, false
	}
	m := msgs[0]
	if m.Address != "/xinfo" || len(m.Args) < 4 {
		return Console{}, false
	}

	return Console{
		IP:       host,
		Port:     port,
		Name:     m.Args[1].Str,
		Model:    m.Args[2].Str,
		Firmware: m.Args[3].Str,
	}, true
}

// hostsOf expands a network to its usable host addresses. Network and
// broadcast addresses are skipped for /24 and tighter IPv4 subnets.
func hostsOf(ipnet *net.IPNet) []string {
	ip := ipnet.IP.To4()
	if ip == nil {
		return nil
	}

	ones, bits := ipnet.Mask.Size()
	total := 1 << (bits - ones)

	var hosts []string
	base := make(net.IP, len(ip))
	copy(base, ip)
	for i := 0; i < total; i++ {
		addr := make(net.IP, len(base))
		copy(addr, base)
		addr[3] += byte(i % 256)
		addr[2] += byte((i / 256) % 256)
		if i >= 256 {
			// Only sweep the first /24 worth of a wider subnet; probing
			// tens of thousands of hosts is never what the user wants.
			break
		}
		if total > 2 && (i == 0 || i == total-1) {
			continue
		}
		hosts = append(hosts, addr.String())
	}
	return hosts
}
