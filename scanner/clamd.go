// Package scanner implements interfaces.MalwareScanner against a clamd daemon.
package scanner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/ruteri/storage-gateway/metrics"
)

const (
	defaultChunkSize = 64 * 1024
	defaultTimeout   = 30 * time.Second
)

var (
	// ErrUnexpectedReply is returned when clamd answers with neither OK nor FOUND.
	ErrUnexpectedReply = errors.New("unexpected clamd reply")
)

// Clamd scans byte streams with clamd's zINSTREAM command. Every scan opens
// its own connection.
type Clamd struct {
	network   string
	address   string
	timeout   time.Duration
	chunkSize int
	log       *slog.Logger
}

// NewClamd creates a scanner for an address of the form tcp://host:port or
// unix:///path/to/clamd.sock. A bare host:port is treated as tcp.
func NewClamd(address string, timeout time.Duration, log *slog.Logger) (*Clamd, error) {
	network, addr, err := parseAddress(address)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Clamd{
		network:   network,
		address:   addr,
		timeout:   timeout,
		chunkSize: defaultChunkSize,
		log:       log,
	}, nil
}

func parseAddress(address string) (network, addr string, err error) {
	if address == "" {
		return "", "", errors.New("clamd address is empty")
	}
	if !strings.Contains(address, "://") {
		return "tcp", address, nil
	}

	u, err := url.Parse(address)
	if err != nil {
		return "", "", fmt.Errorf("invalid clamd address: %w", err)
	}
	switch u.Scheme {
	case "tcp":
		if u.Host == "" {
			return "", "", fmt.Errorf("invalid clamd address %q: missing host", address)
		}
		return "tcp", u.Host, nil
	case "unix":
		if u.Path == "" {
			return "", "", fmt.Errorf("invalid clamd address %q: missing socket path", address)
		}
		return "unix", u.Path, nil
	default:
		return "", "", fmt.Errorf("unsupported clamd address scheme: %s", u.Scheme)
	}
}

// Scan streams data to clamd and reports whether a signature matched.
func (c *Clamd) Scan(ctx context.Context, data []byte) (bool, error) {
	start := time.Now()

	reply, err := c.roundTrip(ctx, "zINSTREAM", data)
	if err != nil {
		metrics.RecordScan("error")
		c.log.ErrorContext(ctx, "Malware scan failed", "err", err, slog.Int("size", len(data)))
		return false, err
	}

	switch {
	case strings.HasSuffix(reply, "FOUND"):
		metrics.RecordScan("infected")
		c.log.WarnContext(ctx, "Malware scan found a threat",
			slog.String("reply", reply),
			slog.Int("size", len(data)),
			slog.Duration("duration", time.Since(start)))
		return true, nil
	case strings.HasSuffix(reply, "OK"):
		metrics.RecordScan("clean")
		c.log.DebugContext(ctx, "Malware scan clean",
			slog.Int("size", len(data)),
			slog.Duration("duration", time.Since(start)))
		return false, nil
	default:
		metrics.RecordScan("error")
		c.log.ErrorContext(ctx, "Malware scan failed", slog.String("reply", reply))
		return false, fmt.Errorf("%w: %s", ErrUnexpectedReply, reply)
	}
}

// Ping checks that clamd is reachable.
func (c *Clamd) Ping(ctx context.Context) error {
	reply, err := c.roundTrip(ctx, "zPING", nil)
	if err != nil {
		return err
	}
	if reply != "PONG" {
		return fmt.Errorf("%w: %s", ErrUnexpectedReply, reply)
	}
	return nil
}

func (c *Clamd) roundTrip(ctx context.Context, command string, stream []byte) (string, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, c.network, c.address)
	if err != nil {
		return "", fmt.Errorf("failed to connect to clamd: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return "", err
	}

	w := bufio.NewWriter(conn)
	if _, err := w.WriteString(command + "\x00"); err != nil {
		return "", fmt.Errorf("failed to send %s: %w", command, err)
	}

	if command == "zINSTREAM" {
		if err := c.writeChunks(w, stream); err != nil {
			return "", err
		}
	}
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("failed to send %s: %w", command, err)
	}

	reply, err := bufio.NewReader(conn).ReadString('\x00')
	if err != nil && reply == "" {
		return "", fmt.Errorf("failed to read clamd reply: %w", err)
	}
	return strings.TrimSpace(strings.TrimSuffix(reply, "\x00")), nil
}

// writeChunks frames data as <uint32 big-endian length><bytes> chunks
// followed by a zero-length terminator.
func (c *Clamd) writeChunks(w *bufio.Writer, data []byte) error {
	var size [4]byte
	r := bytes.NewReader(data)
	chunk := make([]byte, c.chunkSize)

	for {
		n, _ := r.Read(chunk)
		if n == 0 {
			break
		}
		binary.BigEndian.PutUint32(size[:], uint32(n))
		if _, err := w.Write(size[:]); err != nil {
			return fmt.Errorf("failed to stream chunk: %w", err)
		}
		if _, err := w.Write(chunk[:n]); err != nil {
			return fmt.Errorf("failed to stream chunk: %w", err)
		}
	}

	binary.BigEndian.PutUint32(size[:], 0)
	if _, err := w.Write(size[:]); err != nil {
		return fmt.Errorf("failed to terminate stream: %w", err)
	}
	return nil
}
