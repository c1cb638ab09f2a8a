package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lorekeep/lorekeep/engine/catalog"
	"github.com/lorekeep/lorekeep/engine/domain"
)

func newDeleteCmd(a *app) *cobra.Command {
	var (
		docID string
		ids   []string
	)
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a document's records, or records by ID",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer a.close()
			if (docID == "") == (len(ids) == 0) {
				return errors.New("exactly one of --doc-id and --ids is required")
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			if len(ids) > 0 {
				n, err := store.Delete(ctx, domain.ByRecordIDs(ids...))
				if err != nil {
					return err
				}
				cmd.Printf("deleted %d records\n", n)
				return nil
			}

			cat, err := a.catalog(ctx)
			if err != nil {
				return err
			}
			coord, err := a.coordinator(store, nil, cat, nil)
			if err != nil {
				return err
			}
			n, err := coord.Purge(ctx, docID)
			if err != nil {
				return err
			}
			cmd.Printf("deleted %d records of %s\n", n, docID)
			return nil
		},
	}
	cmd.Flags().StringVar(&docID, "doc-id", "", "delete every record of this document")
	cmd.Flags().StringSliceVar(&ids, "ids", nil, "record IDs to delete")
	return cmd
}

func newDocsCmd(a *app) *cobra.Command {
	var offset, limit int
	cmd := &cobra.Command{
		Use:   "docs [doc-id]",
		Short: "List ingested documents, or the units of one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close()
			ctx := cmd.Context()
			cat, err := a.catalog(ctx)
			if err != nil {
				return err
			}
			if cat == nil {
				return errors.New("the document catalog needs neo4j.url to be configured")
			}
			if len(args) == 1 {
				entry, err := cat.Get(ctx, args[0])
				if err != nil {
					return fmt.Errorf("document %s: %w", args[0], err)
				}
				units, err := cat.Units(ctx, args[0])
				if err != nil {
					return err
				}
				renderEntries(cmd.OutOrStdout(), []catalog.Entry{entry})
				renderUnits(cmd.OutOrStdout(), units)
				return nil
			}
			entries, err := cat.List(ctx, offset, limit)
			if err != nil {
				return err
			}
			renderEntries(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "skip this many documents")
	cmd.Flags().IntVar(&limit, "limit", 50, "list at most this many documents")
	return cmd
}
