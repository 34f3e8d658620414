package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"lovelore/provider"
	"lovelore/stream"
)

func newChatCmd() *cobra.Command {
	var (
		serverURL string
		token     string
		system    string
	)
	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Send one message through a running server's chat proxy",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var msgs []provider.Message
			if system != "" {
				msgs = append(msgs, provider.Message{Role: "system", Content: system})
			}
			msgs = append(msgs, provider.Message{Role: "user", Content: strings.Join(args, " ")})
			body, err := json.Marshal(map[string]any{"stream": true, "messages": msgs})
			if err != nil {
				return err
			}

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost,
				strings.TrimRight(serverURL, "/")+"/api/chat", bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			if token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
				return fmt.Errorf("chat proxy: %s: %s", resp.Status, strings.TrimSpace(string(b)))
			}

			out := cmd.OutOrStdout()
			if _, err := stream.ReadText(resp.Body, func(delta string) {
				fmt.Fprint(out, delta)
			}); err != nil {
				fmt.Fprintln(out)
				return err
			}
			fmt.Fprintln(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "base URL of a running lovelore server")
	cmd.Flags().StringVar(&token, "token", "", "Supabase access token")
	cmd.Flags().StringVar(&system, "system", "", "optional system message")
	return cmd
}
