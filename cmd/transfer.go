package main

import (
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newExportCommand(flags *globalFlags) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every stored workflow and group as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := flags.setup()
			if err != nil {
				return err
			}
			st, closeStore, err := openStore(cfg, log)
			if err != nil {
				return err
			}
			defer closeStore()

			data, err := st.Export(cmd.Context())
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(append(data, '\n'))
				return err
			}
			if err := afero.WriteFile(afero.NewOsFs(), output, data, 0o644); err != nil {
				return err
			}
			okColor.Fprintf(cmd.ErrOrStderr(), "✓ exported to %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func newImportCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the stored workflows and groups with an export file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := flags.setup()
			if err != nil {
				return err
			}
			data, err := afero.ReadFile(afero.NewOsFs(), args[0])
			if err != nil {
				return err
			}
			st, closeStore, err := openStore(cfg, log)
			if err != nil {
				return err
			}
			defer closeStore()

			if err := st.Import(cmd.Context(), data); err != nil {
				return err
			}
			okColor.Fprintf(cmd.OutOrStdout(), "✓ imported %s\n", args[0])
			return nil
		},
	}
}
