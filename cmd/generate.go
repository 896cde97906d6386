package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentic-research/dumpforge/internal/pipeline"
)

var (
	genDBPath        string
	genOutDir        string
	genMaxChunkMiB   int64
	genCategoryFile  string
	genVerbose       bool
	genShowClassTree bool
)

var generateCmd = &cobra.Command{
	Use:   "generate [source-dir]",
	Short: "Build the snapshot database and chunk files from dump archives",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if genMaxChunkMiB <= 0 {
			return fmt.Errorf("--max-chunk-size must be positive, got %d", genMaxChunkMiB)
		}
		// The pipeline's filesystem is rooted at /, so directories must be
		// absolute before they cross the boundary.
		srcDir, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		outDir, err := filepath.Abs(genOutDir)
		if err != nil {
			return err
		}
		cfg := pipeline.Config{
			SourceDir:     srcDir,
			OutDir:        outDir,
			DBPath:        genDBPath,
			MaxChunkBytes: genMaxChunkMiB << 20,
			CategoryFile:  genCategoryFile,
			Verbose:       genVerbose,
			ShowClassTree: genShowClassTree,
			ClassTreeOut:  cmd.OutOrStdout(),
		}

		start := time.Now()
		fmt.Printf("Generating %s from %s...\n", genDBPath, args[0])
		stats, err := pipeline.Run(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		fmt.Printf("Done in %v: %d classes, %d objects (%d dumped), %d chunk files.\n",
			time.Since(start).Round(time.Millisecond),
			stats.Classes, stats.Objects, stats.DumpedObjects, stats.ChunkFiles)
		return nil
	},
}

func init() {
	generateCmd.Flags().StringVar(&genDBPath, "db", "data.db", "output SQLite database path")
	generateCmd.Flags().StringVarP(&genOutDir, "out", "o", "out", "output directory for chunk files")
	generateCmd.Flags().Int64Var(&genMaxChunkMiB, "max-chunk-size", 15, "uncompressed chunk file cap in MiB")
	generateCmd.Flags().StringVar(&genCategoryFile, "categories", "", "HCL category table overriding the built-in one")
	generateCmd.Flags().BoolVarP(&genVerbose, "verbose", "v", false, "log each pipeline stage and archive")
	generateCmd.Flags().BoolVar(&genShowClassTree, "show-class-tree", false, "print the class tree after closure computation")
	rootCmd.AddCommand(generateCmd)
}
