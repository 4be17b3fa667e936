package cli

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/bufbuild/connect-go"
	"github.com/spf13/cobra"
	"golang.org/x/net/http2"

	"github.com/fae-ai/fae-pi/internal/rpc"
	"github.com/fae-ai/fae-pi/internal/rpc/connectjson"
	"github.com/fae-ai/fae-pi/internal/rpc/delegate"
)

// NewRunCmd sends a task to the daemon and streams the delegation events.
// Over the Connect transport, approval requests are answered interactively.
func NewRunCmd(opts *Options) *cobra.Command {
	var workingDir string

	cmd := &cobra.Command{
		Use:   "run \"<task>\"",
		Short: "Delegate a task to Pi and stream the response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			task := args[0]
			if strings.TrimSpace(task) == "" {
				return fmt.Errorf("task cannot be empty")
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sessionID := fmt.Sprintf("cli-%d", time.Now().UnixNano())
			reqBody := rpc.DelegateRunRequest{
				SessionID:        sessionID,
				CorrelationID:    sessionID + "-corr",
				Task:             task,
				WorkingDirectory: workingDir,
			}

			baseURL := daemonURL(cfg.Server.Addr)
			switch strings.ToLower(strings.TrimSpace(cfg.Server.Transport)) {
			case "ndjson":
				return runNDJSON(ctx, cmd, baseURL+"/delegate/run", reqBody)
			default:
				return runConnect(ctx, cmd, baseURL+delegate.ConnectRunProcedure, reqBody)
			}
		},
	}

	cmd.Flags().StringVar(&workingDir, "dir", "", "Working directory Pi should operate in")
	return cmd
}

func daemonURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

func runNDJSON(ctx context.Context, cmd *cobra.Command, url string, reqBody rpc.DelegateRunRequest) error {
	data, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("daemon returned status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		var evt rpc.DelegateRunEvent
		if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := renderEvent(cmd, evt); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func runConnect(ctx context.Context, cmd *cobra.Command, url string, reqBody rpc.DelegateRunRequest) error {
	client := connect.NewClient[rpc.DelegateStreamRequest, rpc.DelegateRunEvent](buildH2CClient(), url, connect.WithCodec(connectjson.Codec{}))
	stream := client.CallBidiStream(ctx)

	if err := stream.Send(&rpc.DelegateStreamRequest{Run: &reqBody}); err != nil {
		return err
	}

	// propagate cancellation to the daemon.
	go func() {
		<-ctx.Done()
		_ = stream.Send(&rpc.DelegateStreamRequest{Cancel: true, SessionID: reqBody.SessionID, CorrelationID: reqBody.CorrelationID})
		_ = stream.CloseRequest()
	}()

	stdin := bufio.NewReader(cmd.InOrStdin())
	for {
		evt, err := stream.Receive()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if evt.Type == "approval_request" {
			if err := answerApproval(cmd, stream, stdin, *evt); err != nil {
				return err
			}
			continue
		}
		if err := renderEvent(cmd, *evt); err != nil {
			return err
		}
	}
	_ = stream.CloseRequest()
	return stream.CloseResponse()
}

// answerApproval prompts on stdin and sends the verdict back on the stream.
// Anything other than an explicit yes denies the call.
func answerApproval(cmd *cobra.Command, stream *connect.BidiStreamForClient[rpc.DelegateStreamRequest, rpc.DelegateRunEvent], stdin *bufio.Reader, evt rpc.DelegateRunEvent) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nPi wants to run %s with input:\n%s\n", evt.Tool, evt.InputJSON)
	fmt.Fprint(out, "Approve? [y/N]: ")

	line, err := stdin.ReadString('\n')
	if err != nil && line == "" {
		line = "n"
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	approved := answer == "y" || answer == "yes"

	return stream.Send(&rpc.DelegateStreamRequest{
		Approval: &rpc.ApprovalAnswer{ID: evt.ApprovalID, Approved: approved},
	})
}

func renderEvent(cmd *cobra.Command, evt rpc.DelegateRunEvent) error {
	switch evt.Type {
	case "token":
		fmt.Fprint(cmd.OutOrStdout(), evt.Token+" ")
	case "message":
		fmt.Fprintln(cmd.OutOrStdout(), evt.Message)
	case "done":
		fmt.Fprintln(cmd.OutOrStdout(), "\n[done]")
	case "error":
		return fmt.Errorf("daemon error: %s", evt.Error)
	}
	return nil
}

func buildH2CClient() *http.Client {
	return &http.Client{
		Transport: &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
		},
	}
}
