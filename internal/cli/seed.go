package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/rcliao/course-advisor/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a dataset from JSON",
		Long:  "Load students, courses, skill maps, enrollments, companies and selections from JSON (stdin or --file). Expects the format produced by export.",
		Run:   runSeed,
	}
	cmd.Flags().String("file", "", "Read the dataset from a file instead of stdin")

	RootCmd.AddCommand(cmd)
}

func runSeed(cmd *cobra.Command, args []string) {
	file, _ := cmd.Flags().GetString("file")

	var r io.Reader = os.Stdin
	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			exitErr("open dataset", err)
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		exitErr("read dataset", err)
	}

	var d store.Dataset
	if err := json.Unmarshal(data, &d); err != nil {
		exitErr("parse json", err)
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	n, err := s.Import(cmd.Context(), d)
	if err != nil {
		exitErr("seed", err)
	}
	fmt.Printf(`{"ok":true,"imported":%d}`+"\n", n)
}
