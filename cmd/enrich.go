package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/linkloft/linkloft/internal/model"
)

var (
	enrichURL    string
	enrichUserID string
)

var enrichCmd = &cobra.Command{
	Use:   "enrich [link-id]",
	Short: "Enrich a single link immediately",
	Long:  "Runs the full enrichment chain for one link. Pass a stored link ID, or --url to register a new link and enrich it in one step. Manual enrichment targets archived and inaccessible links too.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if (len(args) == 0) == (enrichURL == "") {
			return eris.New("pass exactly one of a link ID or --url")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		enricher, err := initEnricher(st)
		if err != nil {
			return err
		}

		var out model.EnrichmentOutcome
		if enrichURL != "" {
			out, err = enricher.CreateAndEnrich(ctx, enrichUserID, enrichURL)
		} else {
			out, err = enricher.EnrichByID(ctx, args[0])
		}
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return eris.Wrap(err, "encode outcome")
		}
		if out.Failed() {
			return eris.Errorf("enrichment failed: %s", out.Error)
		}
		return nil
	},
}

func init() {
	enrichCmd.Flags().StringVar(&enrichURL, "url", "", "register this URL as a new link and enrich it")
	enrichCmd.Flags().StringVar(&enrichUserID, "user", "", "owner of the new link (with --url)")
	rootCmd.AddCommand(enrichCmd)
}
