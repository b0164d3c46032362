package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ironsheep/image-loader-mcp/internal/inspect"
	"github.com/ironsheep/image-loader-mcp/internal/request"
	"github.com/ironsheep/image-loader-mcp/internal/source"
	"github.com/ironsheep/image-loader-mcp/internal/transform"
)

func (c *CLI) loadCommand() *cobra.Command {
	var (
		opts           request.Options
		pivotX, pivotY float64
		output         string
		palette        int
		timeout        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "load <uri>",
		Short: "Load one image and write it as PNG",
		Long: `Load an image from a path, file:// URI, data: URI or http(s) URL, apply the requested
geometry and transformations and write the result as PNG. A JSON summary with the size,
pixel format, provenance and dominant colors is printed to stdout.`,
		Example: `  image-loader load https://example.com/cat.jpg -W 200 -H 200 --mode center_crop -o cat.png
  image-loader load ./photo.jpg --rotate 90 -t grayscale -t blur:1.5 -o out.png`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := loggerFromContext(ctx)

			opts.URI = args[0]
			if isRelativePath(opts.URI) {
				abs, err := filepath.Abs(opts.URI)
				if err != nil {
					return err
				}
				opts.URI = abs
			}
			switch x, y := cmd.Flags().Changed("pivot-x"), cmd.Flags().Changed("pivot-y"); {
			case x && y:
				opts.PivotX, opts.PivotY = &pivotX, &pivotY
			case x || y:
				return fmt.Errorf("--pivot-x and --pivot-y must be given together")
			}

			l, err := c.newLoader(ctx)
			if err != nil {
				return err
			}
			defer l.Close()

			p := newProgress(logger)
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			bmp, from, err := l.Load(ctx, opts)
			if err != nil {
				return err
			}
			p.done(fmt.Sprintf("Loaded %s from %s", opts.URI, from))

			if output != "" {
				if err := writePNG(output, bmp.EncodePNG); err != nil {
					return err
				}
				logger.Info("wrote", "path", output)
			}

			enc := json.NewEncoder(c.stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(inspect.Describe(bmp, from, palette))
		},
	}

	f := cmd.Flags()
	f.IntVarP(&opts.Width, "width", "W", 0, "target width")
	f.IntVarP(&opts.Height, "height", "H", 0, "target height")
	f.StringVar(&opts.Mode, "mode", "", "fit, center_crop, center_inside or face_center_crop")
	f.Float64Var(&opts.Rotation, "rotate", 0, "rotation in degrees")
	f.Float64Var(&pivotX, "pivot-x", 0, "rotation pivot x")
	f.Float64Var(&pivotY, "pivot-y", 0, "rotation pivot y")
	f.StringArrayVarP(&opts.Transformations, "transform", "t", nil, "stock transformation, repeatable (see 'transformations')")
	f.StringVar(&opts.Config, "format", "", "pixel format: default, rgba, nrgba or gray")
	f.BoolVar(&opts.SkipMemory, "skip-memory-cache", false, "bypass the memory cache")
	f.BoolVar(&opts.SkipDisk, "skip-disk-cache", false, "bypass the secondary cache")
	f.BoolVar(&opts.CacheOnly, "cache-only", false, "fail unless a cache holds the image")
	f.StringVarP(&output, "output", "o", "", "write the PNG here")
	f.IntVar(&palette, "palette", inspect.DefaultPaletteSize, "dominant colors to report")
	f.DurationVar(&timeout, "timeout", 0, "give up after this long")

	return cmd
}

func (c *CLI) transformationsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "transformations",
		Short: "List the stock transformations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, name := range transform.Names() {
				if _, err := fmt.Fprintln(c.stdout, name); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// isRelativePath reports whether uri is a relative filesystem path rather
// than an absolute path or a URI with a scheme.
func isRelativePath(uri string) bool {
	return source.KindOf(uri) == source.KindUnknown && !strings.Contains(uri, ":")
}

// writePNG writes through a temp file so a failed encode leaves no partial
// output behind.
func writePNG(path string, encode func(w io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".image-loader-*.png")
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := encode(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
