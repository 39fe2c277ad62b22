// Package cli is the operator command line for a running gateway. Every
// command is a thin HTTP call to the gateway API; the CLI holds no state.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// NewRootCmd builds the ct600ctl command tree.
func NewRootCmd(version, buildDate string) *cobra.Command {
	api := &apiClient{http: &http.Client{Timeout: 60 * time.Second}}
	root := &cobra.Command{
		Use:           "ct600ctl",
		Short:         "Operate a CT600 gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&api.serverURL, "server", "http://localhost:8080", "Gateway base URL")

	root.AddCommand(newVersionCmd(version, buildDate))
	root.AddCommand(newAuthCmd(api))
	root.AddCommand(newReturnsCmd(api))
	return root
}

func newVersionCmd(version, buildDate string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "ct600ctl %s (built %s)\n", version, buildDate)
			return err
		},
	}
}

// =============================================================================
// HTTP CLIENT
// =============================================================================

type apiClient struct {
	serverURL string
	http      *http.Client
}

// apiError is a non-2xx answer from the gateway.
type apiError struct {
	Status  int
	Message string
	Code    string
}

func (e *apiError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s, HTTP %d)", e.Message, e.Code, e.Status)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
}

// call sends one request and returns the raw response body.
func (c *apiClient) call(ctx context.Context, method, path string, body any) ([]byte, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.serverURL, "/")+path, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		_ = json.Unmarshal(data, &e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return nil, &apiError{Status: resp.StatusCode, Message: e.Error, Code: e.Code}
	}
	return data, nil
}

// printJSON re-indents a JSON body onto w.
func printJSON(w io.Writer, data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		_, err = w.Write(data)
		return err
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}
