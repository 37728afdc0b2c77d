package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/reoring/apimeta"
)

func (a *app) validateCmd() *cobra.Command {
	var all, asYAML bool
	cmd := &cobra.Command{
		Use:   "validate FILE",
		Short: "Validate a metadata document against the schema",
		Long:  "Prints {\"valid\":true} or {\"valid\":false,\"error\":...}; exits 1 when the document is invalid.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := a.readDocument(args[0], asYAML)
			if err != nil {
				return err
			}
			schema, err := a.loadSchema(cmd.Context())
			if err != nil {
				return err
			}
			v := apimeta.NewValidator(schema, doc)
			res := v.Validate()
			if all {
				res = v.ValidateAll()
			}
			if err := a.printJSON(res); err != nil {
				return err
			}
			if !res.Valid {
				return errInvalid
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "list every violation")
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "read input as YAML regardless of extension")
	return cmd
}

func (a *app) transformCmd() *cobra.Command {
	var validate, asYAML bool
	cmd := &cobra.Command{
		Use:   "transform FILE",
		Short: "Print the index document for FILE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := a.readDocument(args[0], asYAML)
			if err != nil {
				return err
			}
			if validate {
				schema, err := a.loadSchema(cmd.Context())
				if err != nil {
					return err
				}
				if res := apimeta.NewValidator(schema, doc).Validate(); !res.Valid {
					_ = a.printJSON(res)
					return errInvalid
				}
			}
			idx, err := apimeta.NewTransformer(doc).ToIndexDocument()
			if err != nil {
				return err
			}
			return a.printJSON(idx)
		},
	}
	cmd.Flags().BoolVar(&validate, "validate", false, "refuse documents that fail validation")
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "read input as YAML regardless of extension")
	return cmd
}

func (a *app) encodeCmd() *cobra.Command {
	var asYAML bool
	cmd := &cobra.Command{
		Use:   "encode FILE",
		Short: "Print the raw token (base64url of gzipped JSON) for FILE",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			doc, err := a.readDocument(args[0], asYAML)
			if err != nil {
				return err
			}
			token, err := apimeta.EncodeRaw(doc)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.out, token)
			return err
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "read input as YAML regardless of extension")
	return cmd
}

func (a *app) decodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode TOKEN|-",
		Short: "Print the document held in a raw token",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			token := args[0]
			if token == "-" {
				b, err := io.ReadAll(a.in)
				if err != nil {
					return err
				}
				token = string(b)
			}
			doc, err := apimeta.DecodeRaw(strings.TrimSpace(token))
			if err != nil {
				return err
			}
			return a.printJSON(doc)
		},
	}
}
