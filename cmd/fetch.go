package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/ajaxbridge/ajaxbridge/core/ajax"
	"github.com/ajaxbridge/ajaxbridge/core/fetch"
	"github.com/ajaxbridge/ajaxbridge/model"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
)

var (
	fetchMethod  string
	fetchHeaders []string
	fetchData    string
	fetchTimeout int
)

func init() {
	fetchCmd.Flags().StringVarP(&fetchMethod, "request", "X", "GET", "HTTP method")
	fetchCmd.Flags().StringArrayVarP(&fetchHeaders, "header", "H", nil, `request header as "Name: value" (repeatable)`)
	fetchCmd.Flags().StringVarP(&fetchData, "data", "d", "", "request body")
	fetchCmd.Flags().IntVarP(&fetchTimeout, "timeout", "t", 0, "connection timeout in milliseconds (default from config)")
	rootCmd.AddCommand(fetchCmd)
}

var fetchCmd = &cobra.Command{
	Use:   "fetch [url]",
	Short: "Perform one request and print its classified result",
	Long:  "Perform one request and print its classified result as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		headers, err := parseHeaderFlags(fetchHeaders)
		if err != nil {
			return err
		}
		b, err := newBridge(cmd.Context())
		if err != nil {
			return err
		}
		defer b.Close()

		opts := ajax.Options{
			URL:     args[0],
			Method:  fetchMethod,
			Headers: headers,
			Timeout: time.Duration(fetchTimeout) * time.Millisecond,
		}
		if fetchData != "" {
			opts.Body = []byte(fetchData)
		}
		res, err := b.client.Do(cmd.Context(), opts)
		if err != nil && res.ID == "" {
			return err
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(res.JSON()))
		if res.Kind != ajax.KindSuccess {
			return res.Err()
		}
		return nil
	},
}

func parseHeaderFlags(values []string) (*fetch.Headers, error) {
	h := fetch.NewHeaders()
	var errs *multierror.Error
	for _, v := range values {
		name, value, ok := strings.Cut(v, ":")
		if !ok {
			errs = multierror.Append(errs, fmt.Errorf("%w: header %q must be in the form \"Name: value\"", model.ErrInvalidValue, v))
			continue
		}
		if err := h.Append(name, value); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return h, nil
}
