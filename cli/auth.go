package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

func newAuthCmd(api *apiClient) *cobra.Command {
	cmd := &cobra.Command{Use: "auth", Short: "Manage the gateway's HMRC authorization"}
	cmd.AddCommand(&cobra.Command{
		Use:   "url",
		Short: "Print the HMRC consent URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := api.call(cmd.Context(), http.MethodGet, "/api/auth/authorize", nil)
			if err != nil {
				return err
			}
			var resp struct {
				AuthorizationURL string `json:"authorizationUrl"`
			}
			if err := json.Unmarshal(data, &resp); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), resp.AuthorizationURL)
			return err
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "callback CODE",
		Short: "Exchange an authorization code copied from the redirect",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := api.call(cmd.Context(), http.MethodGet, "/api/auth/callback?code="+url.QueryEscape(args[0]), nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show whether the gateway holds a valid token",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := api.call(cmd.Context(), http.MethodGet, "/api/auth/status", nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "logout",
		Short: "Drop the gateway's token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := api.call(cmd.Context(), http.MethodDelete, "/api/auth/token", nil); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "signed out")
			return err
		},
	})
	return cmd
}
