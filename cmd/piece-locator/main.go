package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"image"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/rs/zerolog"

	piecelocator "github.com/menta2k/piece-locator"
	"github.com/menta2k/piece-locator/internal/config"
	"github.com/menta2k/piece-locator/internal/logging"
	"github.com/menta2k/piece-locator/internal/utils"
	"github.com/menta2k/piece-locator/pkg/processing"
	"github.com/menta2k/piece-locator/pkg/reference"
	"github.com/menta2k/piece-locator/pkg/store"
	"github.com/menta2k/piece-locator/pkg/types"
)

const usage = `usage: piece-locator <command> [flags]

commands:
  build  -ref puzzle.jpg|URL              build and persist a reference descriptor set
  match  -ref puzzle.jpg|URL -piece p.jpg locate a piece on the reference

run "piece-locator <command> -h" for the flags of a command`

type app struct {
	cfg       *config.Config
	log       zerolog.Logger
	engine    *piecelocator.Engine
	processor *processing.Processor
	store     store.Store
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch os.Args[1] {
	case "build":
		err = runBuild(ctx, os.Args[2:])
	case "match":
		err = runMatch(ctx, os.Args[2:])
	case "-h", "--help", "help":
		fmt.Fprintln(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s\n", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// commonFlags registers the flags shared by every command
func commonFlags(fs *flag.FlagSet) (configPath, storeBackend, logLevel *string) {
	configPath = fs.String("config", "", "configuration file (default "+config.GetConfigPath()+" if present)")
	storeBackend = fs.String("store", "", "descriptor set store: none|file|redis (overrides config)")
	logLevel = fs.String("log", "", "log level: debug|info|warn|error (overrides config)")
	return
}

func newApp(ctx context.Context, configPath, storeBackend, logLevel string) (*app, error) {
	cfg := config.Default()
	if configPath == "" && utils.FileExists(config.GetConfigPath()) {
		configPath = config.GetConfigPath()
	}
	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if storeBackend != "" {
		cfg.Store.Backend = storeBackend
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logging.New(cfg.Log.Level, cfg.Log.Pretty)
	engine, err := piecelocator.NewWithConfig(*cfg, piecelocator.WithLogger(log))
	if err != nil {
		return nil, err
	}
	processor, err := processing.NewProcessorWithConfig(cfg.Processing)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, engine: engine, processor: processor}
	switch cfg.Store.Backend {
	case "file":
		s, err := store.NewFileStore(cfg.Store.Dir)
		if err != nil {
			return nil, err
		}
		a.store = s
	case "redis":
		rdb, err := store.NewRedisClient(ctx, cfg.Store.RedisAddr, cfg.Store.RedisPassword, cfg.Store.RedisDB)
		if err != nil {
			return nil, err
		}
		a.store = store.NewRedisStore(rdb, cfg.Store.TTL(), cfg.Store.Namespace)
	}
	return a, nil
}

// checkSource rejects local paths that do not name a supported image file
func checkSource(flagName, source string) error {
	if utils.IsURL(source) || utils.IsImageFile(source) {
		return nil
	}
	return fmt.Errorf("-%s %s: not a jpg, png, gif, bmp, tiff or webp file", flagName, source)
}

// loadReference prepares the reference image and returns its descriptor set
func (a *app) loadReference(ctx context.Context, source string) (*image.NRGBA, *reference.Set, error) {
	img, err := a.processor.LoadImageSmart(ctx, source)
	if err != nil {
		return nil, nil, fmt.Errorf("load reference: %w", err)
	}
	ref := a.processor.PrepareReference(img)
	set, err := a.referenceSet(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	return ref, set, nil
}

// referenceSet returns the set stored for ref when a store is configured and
// the stored set was built with the current configuration, and builds and
// stores a fresh one otherwise
func (a *app) referenceSet(ctx context.Context, ref *image.NRGBA) (*reference.Set, error) {
	if a.store == nil {
		return a.buildReference(ctx, ref)
	}

	set, err := a.store.Load(ctx, reference.FingerprintNRGBA(ref))
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		a.log.Warn().Err(err).Msg("stored reference unusable, rebuilding")
	default:
		if err := a.engine.Compatible(set); err != nil {
			a.log.Warn().Err(err).Msg("stored reference built with another configuration, rebuilding")
			break
		}
		a.log.Info().Str("reference_id", set.ID().String()).Msg("reference loaded from store")
		a.engine.Cache().Put(set)
		return set, nil
	}
	return a.buildReference(ctx, ref)
}

// buildReference builds the set for ref, replacing whatever the engine cache
// and the store hold for it
func (a *app) buildReference(ctx context.Context, ref *image.NRGBA) (*reference.Set, error) {
	a.engine.Cache().Delete(reference.FingerprintNRGBA(ref))
	set, err := a.engine.BuildReference(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("build reference: %w", err)
	}
	if a.store != nil {
		if err := a.store.Save(ctx, set); err != nil {
			a.log.Warn().Err(err).Msg("failed to persist reference")
		}
	}
	return set, nil
}

// matchPiece matches a prepared piece, rebuilding the reference set once when
// it turns out to be incompatible with the engine
func (a *app) matchPiece(ctx context.Context, ref *image.NRGBA, set *reference.Set, piece *image.NRGBA) (types.MatchResult, error) {
	result, err := a.engine.MatchPiece(ctx, piece, set)
	if !errors.Is(err, types.ErrDescriptorShapeMismatch) {
		return result, err
	}
	a.log.Warn().Err(err).Msg("reference incompatible with engine, rebuilding")
	set, err = a.buildReference(ctx, ref)
	if err != nil {
		return types.MatchResult{}, err
	}
	return a.engine.MatchPiece(ctx, piece, set)
}

func runBuild(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	configPath, storeBackend, logLevel := commonFlags(fs)
	refPath := fs.String("ref", "", "reference puzzle image path or URL (jpg/png/webp)")
	thumb := fs.String("thumb", "", "write a thumbnail of the reference to this path")
	_ = fs.Parse(args)
	if *refPath == "" {
		fs.Usage()
		return fmt.Errorf("-ref is required")
	}
	if err := checkSource("ref", *refPath); err != nil {
		return err
	}

	a, err := newApp(ctx, *configPath, *storeBackend, *logLevel)
	if err != nil {
		return err
	}
	ref, set, err := a.loadReference(ctx, *refPath)
	if err != nil {
		return err
	}

	if *thumb != "" {
		if err := utils.EnsureDir(filepath.Dir(*thumb)); err != nil {
			return err
		}
		format := utils.GetFileExtension(*thumb)
		if err := a.processor.SaveImage(a.processor.Thumbnail(ref), *thumb, format, 0, false); err != nil {
			return fmt.Errorf("save thumbnail: %w", err)
		}
		a.log.Info().Str("path", *thumb).Msg("wrote thumbnail")
	}

	return printJSON(struct {
		reference.Meta
		Regions int `json:"regions"`
		Usable  int `json:"usable_regions"`
	}{set.Meta(), len(set.Regions()), set.Len()})
}

func runMatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("match", flag.ExitOnError)
	configPath, storeBackend, logLevel := commonFlags(fs)
	refPath := fs.String("ref", "", "reference puzzle image path or URL (jpg/png/webp)")
	piecePath := fs.String("piece", "", "piece photo path or URL (jpg/png/webp)")
	outDir := fs.String("out", "", "directory for the match overlay image (none when empty)")
	overlayExt := fs.String("ext", "png", "overlay format: png|jpg|webp")
	isolate := fs.Bool("isolate", false, "black out a dark background around the piece")
	_ = fs.Parse(args)
	if *refPath == "" || *piecePath == "" {
		fs.Usage()
		return fmt.Errorf("-ref and -piece are required")
	}
	if err := checkSource("ref", *refPath); err != nil {
		return err
	}
	if err := checkSource("piece", *piecePath); err != nil {
		return err
	}

	a, err := newApp(ctx, *configPath, *storeBackend, *logLevel)
	if err != nil {
		return err
	}
	if *isolate {
		pc := a.cfg.Processing
		pc.IsolateForeground = true
		if a.processor, err = processing.NewProcessorWithConfig(pc); err != nil {
			return err
		}
	}

	ref, set, err := a.loadReference(ctx, *refPath)
	if err != nil {
		return err
	}
	pieceImg, err := a.processor.LoadImageSmart(ctx, *piecePath)
	if err != nil {
		return fmt.Errorf("load piece: %w", err)
	}

	result, err := a.matchPiece(ctx, ref, set, a.processor.PreparePiece(pieceImg))
	if err != nil {
		return fmt.Errorf("match piece: %w", err)
	}

	if *outDir != "" {
		if err := utils.EnsureDir(*outDir); err != nil {
			return err
		}
		path := utils.OutputFilename(*piecePath, *outDir, "_match", *overlayExt)
		overlay := a.processor.DrawMatchOverlay(ref, result)
		if err := a.processor.SaveImage(overlay, path, *overlayExt, 0, false); err != nil {
			return fmt.Errorf("save overlay: %w", err)
		}
		a.log.Info().Str("path", path).Msg("wrote overlay")
	}

	return printJSON(result)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
