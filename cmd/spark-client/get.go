package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/spark-client/pkg/classify"
	"github.com/Sternrassler/spark-client/pkg/logging"
	"github.com/Sternrassler/spark-client/pkg/scheduler"
)

func newGetCmd(a *app) *cobra.Command {
	var (
		max    int
		method string
		data   string
	)

	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "Send one request and print the JSON result",
		Long: `Send one request through the throttled client and print the result.

Collections are followed across pages until --max items are collected:

  spark-client get /rooms --max 250
  spark-client get /messages --method POST --data '{"roomId":"...","text":"hi"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, closeAll, err := a.newClient()
			if err != nil {
				return err
			}
			defer closeAll()

			var body any
			if data != "" {
				if err := json.Unmarshal([]byte(data), &body); err != nil {
					return fmt.Errorf("parse --data: %w", err)
				}
			}

			path := args[0]
			method = strings.ToUpper(method)
			if max > 0 && method == http.MethodGet {
				items, err := c.List(cmd.Context(), path, max)
				if errors.Is(err, scheduler.ErrPageLimit) {
					logger := logging.NewLogger("cli")
					logger.Warn().Err(err).Int("items", len(items)).Msg("Printing partial collection")
				} else if err != nil {
					return err
				}
				return printJSON(cmd, classify.Collection(items))
			}

			res, err := c.Do(cmd.Context(), method, path, body)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}

	cmd.Flags().IntVar(&max, "max", 0, "collect up to this many items across pages")
	cmd.Flags().StringVarP(&method, "method", "X", http.MethodGet, "HTTP method")
	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON request body")
	return cmd
}

// resultBody is the JSON shape of a result: {"items": [...]} for
// collections, the resource itself, or nil when the response was empty.
func resultBody(res classify.Result) any {
	switch res.Kind {
	case classify.KindCollection:
		return map[string]any{classify.ItemsField: res.Items}
	case classify.KindResource:
		return res.Resource
	default:
		return nil
	}
}

func printJSON(cmd *cobra.Command, res classify.Result) error {
	body := resultBody(res)
	if body == nil {
		return nil
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(body)
}
