package device

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bridgeerrors "caen-hv-bridge/internal/errors"
	"caen-hv-bridge/internal/metrics"
	"caen-hv-bridge/internal/protocol"
)

func TestRequestSuccess(t *testing.T) {
	dev := newFakeDevice(t, okHandler("12.5"))
	c := newTestClient(dev.addr())
	defer c.Close()

	assert.Equal(t, Disconnected, c.State())

	reply, err := c.MonVMon(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, reply.OK)
	assert.Equal(t, "12.5", reply.Value)
	assert.Equal(t, Connected, c.State())
	assert.Equal(t, []string{"$CMD:MON,CH:0,PAR:VMON\r\n"}, dev.lines())
	assert.EqualValues(t, 0, c.Reconnects())
}

func TestRequestDeviceErrorIsNotTransportError(t *testing.T) {
	dev := newFakeDevice(t, func(int, protocol.Command, string) action {
		return action{reply: "#ERR:5;"}
	})
	c := newTestClient(dev.addr())
	defer c.Close()

	reply, err := c.MonVSet(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, reply.OK)
	assert.Equal(t, "#ERR:5;", reply.Error)
	assert.Equal(t, 1, dev.connections())
}

func TestRequestRetriesOnceAfterHangup(t *testing.T) {
	dev := newFakeDevice(t, func(conn int, cmd protocol.Command, _ string) action {
		if conn == 0 {
			return action{hangup: true}
		}
		return action{reply: "#CMD:OK,VAL:100;"}
	})
	c := newTestClient(dev.addr())
	defer c.Close()

	reply, err := c.MonVSet(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, reply.OK)
	assert.Equal(t, "100", reply.Value)
	assert.EqualValues(t, 1, c.Reconnects())
	assert.Equal(t, 2, dev.connections())
	assert.Len(t, dev.lines(), 2)
	assert.Equal(t, Connected, c.State())
}

func TestRequestRetriesOnceAfterTimeout(t *testing.T) {
	dev := newFakeDevice(t, func(conn int, _ protocol.Command, _ string) action {
		if conn == 0 {
			return action{silent: true}
		}
		return action{reply: "#CMD:OK;"}
	})
	c := newTestClient(dev.addr())
	defer c.Close()

	reply, err := c.PowerDownKill(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, reply.OK)
	assert.EqualValues(t, 1, c.Reconnects())
}

func TestRequestFailsAfterSecondFailure(t *testing.T) {
	dev := newFakeDevice(t, func(int, protocol.Command, string) action {
		return action{hangup: true}
	})
	c := newTestClient(dev.addr())
	defer c.Close()

	_, err := c.MonStat(context.Background(), 0)
	require.Error(t, err)

	var te *bridgeerrors.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 2, te.Attempts)
	assert.Equal(t, dev.addr(), te.Address)
	assert.Equal(t, Disconnected, c.State())
	assert.EqualValues(t, 1, c.Reconnects())
	assert.Equal(t, 2, dev.connections(), "exactly one retry")
}

func TestRequestTimeoutIsBounded(t *testing.T) {
	dev := newFakeDevice(t, func(int, protocol.Command, string) action {
		return action{silent: true}
	})
	c := newTestClient(dev.addr())
	defer c.Close()

	start := time.Now()
	_, err := c.MonTrip(context.Background(), 0)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, bridgeerrors.IsTransport(err))
	// two timeouts plus the backoff, with generous slack
	assert.Less(t, elapsed, 2*200*time.Millisecond+10*time.Millisecond+500*time.Millisecond)
	assert.GreaterOrEqual(t, elapsed, 2*200*time.Millisecond)
}

func TestRequestConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	c := newTestClient(addr)
	_, err = c.MonVMon(context.Background(), 0)

	var te *bridgeerrors.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 2, te.Attempts)
	assert.Equal(t, Disconnected, c.State())
}

func TestRequestReplyTooLong(t *testing.T) {
	dev := newFakeDevice(t, func(conn int, _ protocol.Command, _ string) action {
		if conn == 0 {
			return action{raw: strings.Repeat("x", 5000)}
		}
		return action{reply: "#CMD:OK,VAL:1;"}
	})
	c := newTestClient(dev.addr())
	defer c.Close()

	reply, err := c.MonIMon(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "1", reply.Value)
	assert.EqualValues(t, 1, c.Reconnects())
}

func TestRequestUnrecognizedReply(t *testing.T) {
	dev := newFakeDevice(t, func(int, protocol.Command, string) action {
		return action{reply: "hello"}
	})
	c := newTestClient(dev.addr())
	defer c.Close()

	reply, err := c.Raw(context.Background(), "anything")
	require.NoError(t, err)
	assert.False(t, reply.OK)
	assert.Equal(t, "unrecognized_reply:hello", reply.Error)
	assert.Equal(t, []string{"anything\r\n"}, dev.lines())
}

func TestRequestsAreSerialized(t *testing.T) {
	dev := newFakeDevice(t, func(_ int, cmd protocol.Command, _ string) action {
		return action{reply: fmt.Sprintf("#CMD:OK,VAL:%d;", cmd.Channel), delay: time.Millisecond}
	})
	c := newTestClient(dev.addr())
	defer c.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(ch int) {
			defer wg.Done()
			reply, err := c.MonVMon(context.Background(), ch)
			if err != nil {
				errs <- err
				return
			}
			if reply.Value != fmt.Sprint(ch) {
				errs <- fmt.Errorf("channel %d got reply %q", ch, reply.Raw)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, 1, dev.connections())
	assert.Len(t, dev.lines(), 20)
}

func TestGateAcquireHonoursContext(t *testing.T) {
	dev := newFakeDevice(t, func(int, protocol.Command, string) action {
		return action{reply: "#CMD:OK;", delay: 100 * time.Millisecond}
	})
	c := newTestClient(dev.addr())
	defer c.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.MonVSet(context.Background(), 0)
	}()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.MonVSet(ctx, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	<-done
	// the gate was released by both callers
	reply, err := c.MonVSet(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, reply.OK)
}

func TestCancelledContextSkipsRetry(t *testing.T) {
	dev := newFakeDevice(t, func(int, protocol.Command, string) action {
		return action{hangup: true}
	})
	c := New(Config{Address: dev.addr(), Timeout: 200 * time.Millisecond, RetryBackoff: time.Second})
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := c.MonVSet(ctx, 0)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 900*time.Millisecond, "backoff must honour ctx")

	var te *bridgeerrors.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 1, te.Attempts)
	assert.Equal(t, Disconnected, c.State())
}

func TestConnectAndCloseAreIdempotent(t *testing.T) {
	dev := newFakeDevice(t, okHandler("1"))
	c := newTestClient(dev.addr())

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, Connected, c.State())

	c.Close()
	c.Close()
	assert.Equal(t, Disconnected, c.State())

	// lazily reconnects on next use
	_, err := c.MonVSet(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, dev.connections())
	assert.EqualValues(t, 0, c.Reconnects())
	c.Close()
}

func TestPowerOnPrimarySucceeds(t *testing.T) {
	dev := newFakeDevice(t, okHandler("0"))
	c := newTestClient(dev.addr())
	defer c.Close()

	reply, err := c.PowerOn(context.Background(), 3)
	require.NoError(t, err)
	assert.True(t, reply.OK)
	assert.Equal(t, []string{"$CMD:SET,CH:3,PAR:ON\r\n"}, dev.lines())
}

func TestPowerOnFallsBackToPW(t *testing.T) {
	dev := newFakeDevice(t, func(_ int, cmd protocol.Command, _ string) action {
		if cmd.Param == protocol.ParamPW {
			return action{reply: "#CMD:OK;"}
		}
		return action{reply: "#ERR:1;"}
	})
	c := newTestClient(dev.addr())
	defer c.Close()

	reply, err := c.PowerOn(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, reply.OK)
	assert.Equal(t, []string{
		"$CMD:SET,CH:0,PAR:ON\r\n",
		"$CMD:SET,CH:0,PAR:PW,VAL:ON\r\n",
	}, dev.lines())
}

func TestPowerOffFallbackFailureIsReturned(t *testing.T) {
	dev := newFakeDevice(t, func(_ int, cmd protocol.Command, _ string) action {
		if cmd.Param == protocol.ParamPW {
			return action{reply: "#ERR:2;"}
		}
		return action{reply: "#ERR:1;"}
	})
	c := newTestClient(dev.addr())
	defer c.Close()

	reply, err := c.PowerOff(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, reply.OK)
	assert.Equal(t, "#ERR:2;", reply.Error, "fallback result replaces the primary error")
	assert.Equal(t, []string{
		"$CMD:SET,CH:1,PAR:OFF\r\n",
		"$CMD:SET,CH:1,PAR:PW,VAL:OFF\r\n",
	}, dev.lines())
}

func TestSetCommandsOnWire(t *testing.T) {
	dev := newFakeDevice(t, okHandler("0"))
	c := newTestClient(dev.addr())
	defer c.Close()

	ctx := context.Background()
	_, err := c.SetVSet(ctx, 2, "1500")
	require.NoError(t, err)
	_, err = c.SetISet(ctx, 2, "0.5")
	require.NoError(t, err)
	_, err = c.MonISet(ctx, 2)
	require.NoError(t, err)
	_, err = c.PowerDownKill(ctx, 2)
	require.NoError(t, err)
	_, err = c.Raw(ctx, "$CMD:MON,CH:3,PAR:VMON")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"$CMD:SET,CH:2,PAR:VSET,VAL:1500\r\n",
		"$CMD:SET,CH:2,PAR:ISET,VAL:0.5\r\n",
		"$CMD:MON,CH:2,PAR:ISET\r\n",
		"$CMD:SET,CH:2,PAR:PDWN,VAL:KILL\r\n",
		"$CMD:MON,CH:3,PAR:VMON\r\n",
	}, dev.lines())
}

func TestRequestMetrics(t *testing.T) {
	dev := newFakeDevice(t, func(conn int, cmd protocol.Command, _ string) action {
		if conn == 0 {
			return action{hangup: true}
		}
		if cmd.Param == protocol.ParamTrip {
			return action{reply: "#ERR:9;"}
		}
		return action{reply: "#CMD:OK,VAL:1;"}
	})
	pm := metrics.NewPrometheusMetrics()
	c := New(Config{Address: dev.addr(), Timeout: 200 * time.Millisecond, RetryBackoff: time.Millisecond}, WithMetrics(pm))
	defer c.Close()

	_, err := c.MonVSet(context.Background(), 0)
	require.NoError(t, err)
	_, err = c.MonTrip(context.Background(), 0)
	require.NoError(t, err)

	series, err := testutil.GatherAndCount(pm.Registry(), "caen_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, series, "one ok and one error series")

	expected := `
# HELP caen_reconnects_total Reconnects performed by the retry path.
# TYPE caen_reconnects_total counter
caen_reconnects_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(pm.Registry(), strings.NewReader(expected), "caen_reconnects_total"))
}
