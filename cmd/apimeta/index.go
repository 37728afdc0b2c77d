package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/reoring/apimeta"
	"github.com/reoring/apimeta/internal/publish"
	"github.com/reoring/apimeta/internal/store"
)

func (a *app) openStore() (*store.SQLiteStore, error) {
	s, err := store.Open(a.cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	if err := s.Init(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (a *app) indexCmd() *cobra.Command {
	var (
		id, sourceURL string
		asYAML        bool
	)
	cmd := &cobra.Command{
		Use:   "index FILE",
		Short: "Validate, transform, store and publish a metadata document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			doc, err := a.readDocument(args[0], asYAML)
			if err != nil {
				return err
			}
			schema, err := a.loadSchema(ctx)
			if err != nil {
				return err
			}
			if res := apimeta.NewValidator(schema, doc).Validate(); !res.Valid {
				_ = a.printJSON(res)
				return errInvalid
			}
			idx, err := apimeta.NewTransformer(doc).ToIndexDocument()
			if err != nil {
				return err
			}
			if id == "" && sourceURL == "" {
				sourceURL = args[0]
			}
			rec, err := store.NewRecord(id, sourceURL, idx)
			if err != nil {
				return err
			}

			s, err := a.openStore()
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.Put(ctx, rec); err != nil {
				return err
			}

			pub := publish.New(&publish.Config{
				Enabled: a.cfg.Kafka.Enabled,
				Brokers: a.cfg.Kafka.Brokers,
				Topic:   a.cfg.Kafka.Topic,
			}, nil)
			defer pub.Close()
			if err := pub.Publish(ctx, rec.ID, idx); err != nil {
				return fmt.Errorf("publish %s: %w", rec.ID, err)
			}

			a.logger.Info().Str("id", rec.ID).Str("title", rec.Title).Msg("indexed")
			_, err = fmt.Fprintln(a.out, rec.ID)
			return err
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "record id (default: derived from --url)")
	cmd.Flags().StringVar(&sourceURL, "url", "", "metadata URL the document was fetched from (default: FILE)")
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "read input as YAML regardless of extension")
	return cmd
}

func (a *app) getCmd() *cobra.Command {
	var original bool
	cmd := &cobra.Command{
		Use:   "get ID",
		Short: "Print a stored index document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			defer s.Close()
			rec, err := s.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if original {
				doc, err := rec.Original()
				if err != nil {
					return err
				}
				return a.printJSON(doc)
			}
			return a.printJSON(rec.Document)
		},
	}
	cmd.Flags().BoolVar(&original, "original", false, "print the document recovered from ~raw")
	return cmd
}

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored index documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			defer s.Close()
			recs, err := s.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, r := range recs {
				fmt.Fprintf(a.out, "%s\t%s\t%s\t%s\n", r.ID, r.Title, r.Version, time.Unix(r.UpdatedAt, 0).UTC().Format(time.RFC3339))
			}
			return nil
		},
	}
}
