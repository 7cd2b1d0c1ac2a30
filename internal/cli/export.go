package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the dataset as JSON",
		Long:  "Export every table as one JSON dataset, readable by seed.",
		Run:   runExport,
	}

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	d, err := s.Export(cmd.Context())
	if err != nil {
		exitErr("export", err)
	}
	printJSON(d)
}
