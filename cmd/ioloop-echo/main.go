// Command ioloop-echo is a minimal TCP echo server demonstrating the
// driver: one AcceptMulti op feeds new connections, each connection runs
// Read/Write ops in a tight loop, and everything is dispatched from a
// single goroutine's Driver.Wait loop.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/ehrlich-b/ioloop"
	"github.com/ehrlich-b/ioloop/internal/logging"
	"golang.org/x/sys/unix"
)

func main() {
	var (
		port    = flag.Int("port", 7007, "TCP port to listen on")
		verbose = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	listenFD, err := listenTCP(*port)
	if err != nil {
		logger.Error("failed to listen", "error", err)
		os.Exit(1)
	}
	defer unix.Close(listenFD)

	driver, err := ioloop.New(ioloop.DefaultConfig())
	if err != nil {
		logger.Error("failed to create driver", "error", err)
		os.Exit(1)
	}
	defer driver.Close()

	metrics := ioloop.NewMetrics()
	driver.SetObserver(ioloop.NewMetricsObserver(metrics))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	stopped := false
	conns := make(map[int]*echoConn)

	driver.With(func() {
		acceptOp, err := ioloop.AcceptMulti(listenFD, func(a ioloop.Accepted) {
			logger.Debug("accepted connection", "fd", a.FD)
			c := newEchoConn(driver, a.FD, logger)
			conns[a.FD] = c
			c.startRead()
		})
		if err != nil {
			logger.Error("failed to submit accept", "error", err)
			os.Exit(1)
		}

		fmt.Printf("ioloop-echo listening on :%d\n", *port)
		fmt.Printf("Press Ctrl+C to stop...\n")

		acceptDone := false
		for !stopped {
			select {
			case <-sigCh:
				logger.Info("received shutdown signal")
				stopped = true
				acceptOp.Close()
				continue
			default:
			}

			if err := driver.Wait(); err != nil {
				logger.Error("wait failed", "error", err)
				break
			}

			// Polling the accept op is what delivers buffered multi-shot
			// completions to onAccept.
			if !acceptDone {
				if _, done, err := acceptOp.Poll(func() {}); done {
					acceptDone = true
					if err != nil {
						logger.Error("accept failed", "error", err)
					}
				}
			}

			for fd, c := range conns {
				if c.step() {
					delete(conns, fd)
				}
			}
		}

		snap := metrics.Snapshot()
		logger.Info("shutting down",
			"ops_submitted", snap.OpsSubmitted,
			"ops_completed", snap.OpsCompleted,
			"ops_canceled", snap.OpsCanceled)
	})
}

// echoConn is a tiny hand-rolled state machine: read, then write back
// what was read, then read again. Real code would hand this to a proper
// task executor; the core itself does not provide one (spec.md §1).
type echoConn struct {
	driver *ioloop.Driver
	fd     int
	logger *logging.Logger

	readOp *ioloop.Op[[]byte]
	readReady bool

	writeOp *ioloop.Op[int32]
	writeReady bool

	closed bool
}

func newEchoConn(d *ioloop.Driver, fd int, logger *logging.Logger) *echoConn {
	return &echoConn{driver: d, fd: fd, logger: logger}
}

func (c *echoConn) startRead() {
	op, err := ioloop.Read(c.fd, 4096, 0)
	if err != nil {
		c.closed = true
		return
	}
	c.readOp = op
	c.readReady = false
	op.Poll(func() { c.readReady = true })
}

func (c *echoConn) startWrite(data []byte) {
	op, err := ioloop.Write(c.fd, data, 0)
	if err != nil {
		c.closed = true
		return
	}
	c.writeOp = op
	c.writeReady = false
	op.Poll(func() { c.writeReady = true })
}

// step advances this connection's state machine by one tick, returning
// true once the connection is fully closed and should be dropped.
func (c *echoConn) step() bool {
	if c.closed {
		unix.Close(c.fd)
		return true
	}

	if c.readOp != nil {
		data, ready, err := c.readOp.Poll(func() { c.readReady = true })
		if ready {
			c.readOp = nil
			if err != nil || len(data) == 0 {
				c.closed = true
				unix.Close(c.fd)
				return true
			}
			c.startWrite(data)
		}
	}

	if c.writeOp != nil {
		_, ready, err := c.writeOp.Poll(func() { c.writeReady = true })
		if ready {
			c.writeOp = nil
			if err != nil {
				c.closed = true
				unix.Close(c.fd)
				return true
			}
			c.startRead()
		}
	}

	return false
}

func listenTCP(port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, err
	}
	addr := &unix.SockaddrInet4{Port: port}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind :%s: %w", strconv.Itoa(port), err)
	}
	if err := unix.Listen(fd, 128); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}
