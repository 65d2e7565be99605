package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagelink/x32mgr/internal/osc"
)

// fakeConsole answers /xinfo on a loopback UDP socket.
func fakeConsole(t *testing.T) int {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })

	go func() {
		buf := make([]byte, 2048)
		for {
			n, addr, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			msgs, err := osc.Decode(buf[:n])
			if err != nil || len(msgs) == 0 || msgs[0].Address != "/xinfo" {
				continue
			}
			reply, _ := osc.Encode(osc.NewMessage("/xinfo",
				osc.String("127.0.0.1"), osc.String("FOH-X32"),
				osc.String("X32"), osc.String("4.08")))
			_, _ = pc.WriteTo(reply, addr)
		}
	}()

	return pc.LocalAddr().(*net.UDPAddr).Port
}

func TestProbeHostFindsConsole(t *testing.T) {
	port := fakeConsole(t)

	probe, err := osc.Encode(osc.NewMessage("/xinfo"))
	require.NoError(t, err)

	c, ok := probeHost(context.Background(), "127.0.0.1", port, probe, time.Second)
	require.True(t, ok)
	assert.Equal(t, "FOH-X32", c.Name)
	assert.Equal(t, "X32", c.Model)
	assert.Equal(t, "4.08", c.Firmware)
	assert.Equal(t, port, c.Port)
}

func TestProbeHostTimesOutOnSilence(t *testing.T) {
	// Nothing listens here; the read deadline must end the probe.
	probe, err := osc.Encode(osc.NewMessage("/xinfo"))
	require.NoError(t, err)

	start := time.Now()
	_, ok := probeHost(context.Background(), "127.0.0.1", 9, probe, 50*time.Millisecond)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestProbeRejectsBadSubnet(t *testing.T) {
	_, err := Probe(context.Background(), "not-a-subnet", 10023, time.Second)
	assert.Error(t, err)
}

func TestHostsOfSkipsNetworkAndBroadcast(t *testing.T) {
	_, ipnet, err := net.ParseCIDR("192.168.1.0/24")
	require.NoError(t, err)

	hosts := hostsOf(ipnet)
	require.Len(t, hosts, 254)
	assert.Equal(t, "192.168.1.1", hosts[0])
	assert.Equal(t, "192.168.1.254", hosts[len(hosts)-1])
	assert.NotContains(t, hosts, "192.168.1.0")
	assert.NotContains(t, hosts, "192.168.1.255")
}

func TestHostsOfSingleHost(t *testing.T) {
	_, ipnet, err := net.ParseCIDR("10.0.0.5/32")
	require.NoError(t, err)

	hosts := hostsOf(ipnet)
	require.Len(t, hosts, 1)
	assert.Equal(t, "10.0.0.5", hosts[0])
}
