package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MarcDasilva/MyClientData/internal/face"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Register every image in a directory",
	Long: `Register every image file in a directory under its file name stem.

Supported formats: jpg, jpeg, png, gif, bmp, webp, tiff

Example:
  facerec import --dir ./people --info "staff"
  facerec import --dir ./people --concurrency 4`,
	Args: cobra.NoArgs,
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().String("dir", "", "Directory holding the images (required)")
	importCmd.Flags().String("info", "", "Info stored with every imported face")
	importCmd.Flags().Int("concurrency", 1, "Number of images processed in parallel")
	_ = importCmd.MarkFlagRequired("dir")
}

// registrar is the use case operation needed by importFaces.
type registrar interface {
	Register(ctx context.Context, name, info string, imageBytes []byte) (*face.Record, error)
}

// importReport summarises an import run.
type importReport struct {
	Registered int
	NoFace     []string
	Failed     map[string]error
}

// isImageFile checks if a file has a supported image extension
func isImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp", ".tiff", ".tif":
		return true
	}
	return false
}

func collectImages(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot access folder %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot read folder %s: %w", dir, err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !isImageFile(entry.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// importFaces registers each file under its stem. onDone runs once per file.
func importFaces(ctx context.Context, reg registrar, paths []string, info string, concurrency int, onDone func()) importReport {
	if concurrency < 1 {
		concurrency = 1
	}
	report := importReport{Failed: map[string]error{}}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, concurrency)
	)
	for _, path := range paths {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(path string) {
			defer wg.Done()
			defer func() { <-sem }()
			if onDone != nil {
				defer onDone()
			}

			base := filepath.Base(path)
			name := strings.TrimSuffix(base, filepath.Ext(base))
			err := registerFile(ctx, reg, path, name, info)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				report.Registered++
			case errors.Is(err, face.ErrNoFaceDetected):
				report.NoFace = append(report.NoFace, base)
			default:
				report.Failed[base] = err
			}
		}(path)
	}
	wg.Wait()
	sort.Strings(report.NoFace)
	return report
}

func registerFile(ctx context.Context, reg registrar, path, name, info string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	_, err = reg.Register(ctx, name, info, data)
	return err
}

func runImport(cmd *cobra.Command, _ []string) error {
	dir := mustGetString(cmd, "dir")
	info := mustGetString(cmd, "info")
	concurrency := mustGetInt(cmd, "concurrency")

	paths, err := collectImages(dir)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		fmt.Println("No image files found.")
		return nil
	}

	cfg, logger, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Printf("Found %d image(s) in %s\n", len(paths), dir)
	bar := progressbar.NewOptions(len(paths),
		progressbar.OptionSetDescription("Registering"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)

	report := importFaces(cmd.Context(), a.uc, paths, info, concurrency, func() { _ = bar.Add(1) })
	fmt.Println()

	for _, name := range report.NoFace {
		fmt.Printf("No face: %s\n", name)
	}
	failed := make([]string, 0, len(report.Failed))
	for name := range report.Failed {
		failed = append(failed, name)
	}
	sort.Strings(failed)
	for _, name := range failed {
		fmt.Printf("Failed: %s: %v\n", name, report.Failed[name])
		logger.Warn("import failed", zap.String("file", name), zap.Error(report.Failed[name]))
	}

	fmt.Printf("\nRegistered %d, no face %d, failed %d\n", report.Registered, len(report.NoFace), len(report.Failed))
	if report.Registered == 0 && len(report.Failed) > 0 {
		return fmt.Errorf("no images were registered")
	}
	return nil
}

// mustGetString gets a string flag value or panics if the flag doesn't exist.
func mustGetString(cmd *cobra.Command, name string) string {
	val, err := cmd.Flags().GetString(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

// mustGetInt gets an int flag value or panics if the flag doesn't exist.
func mustGetInt(cmd *cobra.Command, name string) int {
	val, err := cmd.Flags().GetInt(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}
