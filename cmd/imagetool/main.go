package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aktagon/image-harvester/internal/convert"
	"github.com/aktagon/image-harvester/internal/logging"
	"github.com/aktagon/image-harvester/internal/store"
)

var (
	dryRun         bool
	width          int
	height         int
	quality        string
	removeOriginal bool
	engineNames    []string
	chromePath     string
	debugMode      bool
)

var rootCmd = &cobra.Command{
	Use:           "imagetool",
	Short:         "Maintenance commands for harvested image directories",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := "info"
		if debugMode {
			level = "debug"
		}
		logging.Init(logging.ParseLevel(level), "text", cmd.ErrOrStderr())
	},
}

var removeDuplicatesCmd = &cobra.Command{
	Use:   "remove-duplicates <dir>",
	Short: "Remove byte-identical images, keeping the first name of each group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := store.Open(args[0])
		if err != nil {
			return err
		}
		removed, err := removeDuplicates(dir, dryRun, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d duplicate(s)\n", removed)
		return nil
	},
}

var convertCmd = &cobra.Command{
	Use:   "convert-svg <dir>",
	Short: "Render every SVG in a directory to PNG",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := store.Open(args[0])
		if err != nil {
			return err
		}
		n, err := newNormalizer(dir)
		if err != nil {
			return err
		}
		defer n.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		converted, failed, err := convertAll(ctx, dir, n, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Converted %d, failed %d\n", converted, failed)
		return nil
	},
}

var enginesCmd = &cobra.Command{
	Use:   "engines",
	Short: "List SVG conversion engines and whether they can run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := newNormalizer(nil)
		if err != nil {
			return err
		}
		defer n.Close()
		for _, s := range n.Availability(cmd.Context()) {
			if s.Err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "✗ %-12s %v\n", s.Name, s.Err)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s\n", s.Name)
		}
		return nil
	},
}

func newNormalizer(dir *store.Dir) (*convert.Normalizer, error) {
	return convert.New(convert.Config{
		Engines:      engineNames,
		Width:        width,
		Height:       height,
		Quality:      quality,
		KeepOriginal: !removeOriginal,
		ChromePath:   chromePath,
	}, dir, convert.WithLogger(logging.New("convert")))
}

// removeDuplicates deletes all but the first name of every group of
// byte-identical files.
func removeDuplicates(dir *store.Dir, dryRun bool, w io.Writer) (int, error) {
	groups, err := dir.Duplicates()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, g := range groups {
		keep := g[0]
		for _, name := range g[1:] {
			if dryRun {
				fmt.Fprintf(w, "would remove %s (same as %s)\n", name, keep)
				continue
			}
			if err := dir.Remove(name); err != nil {
				return removed, fmt.Errorf("removing %s: %w", name, err)
			}
			fmt.Fprintf(w, "removed %s (same as %s)\n", name, keep)
			removed++
		}
	}
	return removed, nil
}

func convertAll(ctx context.Context, dir *store.Dir, n *convert.Normalizer, w io.Writer) (int, int, error) {
	names, err := dir.List()
	if err != nil {
		return 0, 0, err
	}
	var svgs []string
	for _, name := range names {
		if convert.IsVector(name) {
			svgs = append(svgs, name)
		}
	}
	outcomes, err := n.Convert(ctx, svgs)
	if err != nil {
		return 0, 0, err
	}

	converted, failed := 0, 0
	for _, o := range outcomes {
		if o.Output == "" {
			failed++
			fmt.Fprintf(w, "✗ %s: %v\n", o.Source, o.Err)
			continue
		}
		converted++
		fmt.Fprintf(w, "✓ %s → %s (%s)\n", o.Source, o.Output, o.Engine)
	}
	return converted, failed, nil
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	removeDuplicatesCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Only list what would be removed")

	for _, cmd := range []*cobra.Command{convertCmd, enginesCmd} {
		cmd.Flags().StringSliceVar(&engineNames, "engines", nil, "Engines to try in order (default "+strings.Join(convert.DefaultEngines, ",")+")")
		cmd.Flags().StringVar(&chromePath, "chrome", "", "Chrome executable for the chrome engine")
	}
	convertCmd.Flags().IntVar(&width, "width", 512, "Output width in pixels")
	convertCmd.Flags().IntVar(&height, "height", 512, "Output height in pixels")
	convertCmd.Flags().StringVar(&quality, "quality", "high", "Rendering quality: low, medium or high")
	convertCmd.Flags().BoolVar(&removeOriginal, "remove-original", false, "Delete each SVG after a successful conversion")

	rootCmd.AddCommand(removeDuplicatesCmd, convertCmd, enginesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
