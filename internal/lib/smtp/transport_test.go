package smtp

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/chatgate/internal/config"
	"github.com/magabrotheeeer/chatgate/internal/lib/sl"
)

// plainServer отвечает как SMTP сервер без STARTTLS.
func plainServer(t *testing.T) (host, port string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
		r := bufio.NewReader(conn)
		_, _ = conn.Write([]byte("220 localhost ESMTP\r\n"))
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			switch {
			case strings.HasPrefix(line, "EHLO"):
				_, _ = conn.Write([]byte("250-localhost\r\n250 AUTH PLAIN\r\n"))
			case strings.HasPrefix(line, "QUIT"):
				_, _ = conn.Write([]byte("221 bye\r\n"))
				return
			default:
				_, _ = conn.Write([]byte("502 not implemented\r\n"))
			}
		}
	}()

	host, port, err = net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	return host, port
}

func TestTransport_Connect(t *testing.T) {
	t.Run("dial error", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		host, port, _ := net.SplitHostPort(ln.Addr().String())
		require.NoError(t, ln.Close())

		tr := NewTransport(config.SMTP{SMTPHost: host, SMTPPort: port}, sl.Discard())
		_, err = tr.Connect(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "smtp.Connect: dial")
	})

	t.Run("server without STARTTLS", func(t *testing.T) {
		host, port := plainServer(t)
		tr := NewTransport(config.SMTP{SMTPHost: host, SMTPPort: port, SMTPUser: "bot@example.com"}, sl.Discard())
		_, err := tr.Connect(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNoStartTLS)
	})

	t.Run("accessors", func(t *testing.T) {
		tr := NewTransport(config.SMTP{SMTPUser: "bot@example.com", OperatorEmail: "ops@example.com"}, sl.Discard())
		assert.Equal(t, "bot@example.com", tr.Sender())
		assert.Equal(t, "ops@example.com", tr.OperatorEmail())
	})
}
