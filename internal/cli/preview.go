package cli

import (
	"context"
	"fmt"

	"github.com/kapnodes/kapimage/internal/folders"
	"github.com/kapnodes/kapimage/internal/preview"
	"github.com/kapnodes/kapimage/internal/workers"
	"github.com/spf13/cobra"
)

// previewCmd represents the preview command
var previewCmd = &cobra.Command{
	Use:   "preview [image...]",
	Short: "Generate preview images into the temp root",
	Long: `Generate previews locally, without a running service. Raster formats are
copied; psd and xcf files are converted to png with the configured converter.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPreview,
}

func runPreview(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	roots, err := folders.NewRoots(cfg.Folders.Input, cfg.Folders.Output, cfg.Folders.Temp)
	if err != nil {
		return err
	}

	gen := preview.NewGenerator(roots, workers.NewPool(cfg.Workers), nil, preview.Config{
		Converter: preview.NewExecConverter(cfg.Preview.Converter),
		Timeout:   cfg.Preview.Timeout,
	})

	failed := 0
	for _, source := range args {
		res, err := gen.Generate(context.Background(), source)
		if err != nil || !res.Success {
			failed++
			fmt.Printf("❌ %s: %v\n", source, err)
			continue
		}
		fmt.Printf("✅ %s\n   -> %s\n", source, res.PreviewFilepath)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d previews failed", failed, len(args))
	}
	return nil
}
