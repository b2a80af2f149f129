package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/spf13/cobra"
	"github.com/tsarna/vinculum-gateway/pkg/gateway/client"
	"github.com/tsarna/vinculum-gateway/pkg/gateway/protocol"
	"github.com/tsarna/vinculum-gateway/pkg/gateway/session"
)

// connectCmd represents the connect command
var connectCmd = &cobra.Command{
	Use:   "connect <websocket-url>",
	Short: "Open a session to a gateway and print the frames it sends",
	Long: `Connect to a gateway, heartbeat at the interval its Hello asks for and
print every frame received to stdout until interrupted or until the gateway
closes the session.

Examples:
  gateway connect ws://localhost:3001/ws
  gateway connect --shard 0,4 ws://localhost:3001/ws`,
	Args: cobra.ExactArgs(1),
	RunE: runConnect,
}

var (
	connectDialTimeout time.Duration
	connectShard       string
	connectHeartbeat   time.Duration
)

func init() {
	rootCmd.AddCommand(connectCmd)

	connectCmd.Flags().DurationVar(&connectDialTimeout, "dial-timeout", 10*time.Second, "WebSocket dial timeout")
	connectCmd.Flags().StringVar(&connectShard, "shard", "", `shard to announce, as "<id>,<count>"`)
	connectCmd.Flags().DurationVar(&connectHeartbeat, "heartbeat", 0, "override the heartbeat interval advertised by the server")
}

// lockedWriter serialises writes from concurrent callbacks.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func printFrames(out io.Writer) client.FrameHandler {
	enc := json.NewEncoder(out)
	return func(ctx context.Context, env protocol.Envelope) {
		_ = enc.Encode(env)
	}
}

func runConnect(cmd *cobra.Command, args []string) error {
	logger, cleanup, err := setupLogger(defaultLogConfig())
	if err != nil {
		return err
	}
	defer cleanup()

	builder := client.NewClient().
		WithURL(args[0]).
		WithLogger(logger).
		WithDialTimeout(connectDialTimeout).
		WithHeartbeatInterval(connectHeartbeat).
		WithFrameHandler(printFrames(&lockedWriter{w: cmd.OutOrStdout()}))

	if connectShard != "" {
		shard := session.ParseShard(connectShard)
		if shard == nil {
			return fmt.Errorf("invalid shard %q, expected \"<id>,<count>\"", connectShard)
		}
		builder = builder.WithShard(shard.ID, shard.Count)
	}

	gw, err := builder.Build()
	if err != nil {
		return fmt.Errorf("failed to create gateway client: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := gw.Connect(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return gw.Disconnect()
	case <-gw.Done():
	}

	err = gw.Err()
	var ce websocket.CloseError
	if errors.As(err, &ce) && ce.Code == websocket.StatusNormalClosure {
		return nil
	}
	if err != nil {
		return fmt.Errorf("session ended: %w", err)
	}
	return nil
}
