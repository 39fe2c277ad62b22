package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

type returnsClient struct{ api *apiClient }

func newReturnsCmd(api *apiClient) *cobra.Command {
	r := &returnsClient{api: api}
	cmd := &cobra.Command{Use: "returns", Short: "Manage CT600 returns"}
	cmd.AddCommand(&cobra.Command{Use: "list", Short: "List returns", RunE: r.list})
	cmd.AddCommand(&cobra.Command{Use: "get TAXREF", Short: "Show one return", Args: cobra.ExactArgs(1), RunE: r.get})
	cmd.AddCommand(&cobra.Command{Use: "submit TAXREF", Short: "Submit a return to HMRC", Args: cobra.ExactArgs(1), RunE: r.submit})

	create := &cobra.Command{Use: "create", Short: "Create a return from a JSON file", RunE: r.create}
	create.Flags().StringP("file", "f", "", "JSON file with the return (- for stdin)")
	_ = create.MarkFlagRequired("file")
	cmd.AddCommand(create)

	status := &cobra.Command{Use: "status TAXREF", Short: "Show HMRC processing status", Args: cobra.ExactArgs(1), RunE: r.status}
	status.Flags().Bool("sync", false, "Also store the HMRC status on the return")
	cmd.AddCommand(status)

	pdf := &cobra.Command{Use: "pdf TAXREF", Short: "Download the PDF summary", Args: cobra.ExactArgs(1), RunE: r.pdf}
	pdf.Flags().StringP("output", "o", "", "Output file (default ct600-TAXREF.pdf)")
	cmd.AddCommand(pdf)
	return cmd
}

func returnPath(ref string) string {
	return "/api/ct600/" + url.PathEscape(ref)
}

func (r *returnsClient) list(cmd *cobra.Command, args []string) error {
	data, err := r.api.call(cmd.Context(), http.MethodGet, "/api/ct600", nil)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), data)
}

func (r *returnsClient) get(cmd *cobra.Command, args []string) error {
	data, err := r.api.call(cmd.Context(), http.MethodGet, returnPath(args[0]), nil)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), data)
}

func (r *returnsClient) create(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(cmd.InOrStdin())
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return err
	}
	var body json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil {
		return fmt.Errorf("%s: not valid JSON: %w", path, err)
	}
	data, err := r.api.call(cmd.Context(), http.MethodPost, "/api/ct600", body)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), data)
}

func (r *returnsClient) submit(cmd *cobra.Command, args []string) error {
	data, err := r.api.call(cmd.Context(), http.MethodPost, returnPath(args[0])+"/submit", nil)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), data)
}

func (r *returnsClient) status(cmd *cobra.Command, args []string) error {
	method, path := http.MethodGet, returnPath(args[0])+"/status"
	if sync, _ := cmd.Flags().GetBool("sync"); sync {
		method, path = http.MethodPost, path+"/sync"
	}
	data, err := r.api.call(cmd.Context(), method, path, nil)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), data)
}

func (r *returnsClient) pdf(cmd *cobra.Command, args []string) error {
	out, _ := cmd.Flags().GetString("output")
	if out == "" {
		out = "ct600-" + args[0] + ".pdf"
	}
	data, err := r.api.call(cmd.Context(), http.MethodGet, returnPath(args[0])+"/summary.pdf", nil)
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), "wrote", out)
	return err
}
