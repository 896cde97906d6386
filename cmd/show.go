package cmd

import (
	"path/filepath"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"

	"github.com/agentic-research/dumpforge/internal/archive"
	"github.com/agentic-research/dumpforge/internal/store"
)

var (
	showDBPath string
	showOutDir string
)

var showCmd = &cobra.Command{
	Use:   "show [object-name]",
	Short: "Print one object's dump record straight from its chunk file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.Open(showDBPath)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		rec, err := s.LookupObject(args[0])
		if err != nil {
			return err
		}
		outDir, err := filepath.Abs(showOutDir)
		if err != nil {
			return err
		}
		data, err := archive.ReadSpan(osfs.New("/"), outDir,
			archive.ChunkFilename(rec.ClassName, rec.ChunkIndex),
			rec.ChunkOffset, rec.ByteLength)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	showCmd.Flags().StringVar(&showDBPath, "db", "data.db", "snapshot SQLite database path")
	showCmd.Flags().StringVarP(&showOutDir, "out", "o", "out", "directory holding the chunk files")
	rootCmd.AddCommand(showCmd)
}
