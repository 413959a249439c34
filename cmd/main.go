package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"pdfchat/internal/config"
	"pdfchat/internal/helper"
	"pdfchat/internal/parser"
	"pdfchat/internal/rag"
	"pdfchat/internal/splitter"
	"pdfchat/internal/tui"
)

const (
	configFilePath = "./configs/config.yaml"
	tuiLogFile     = "pdfchat.log"
)

// fileList collects repeated -file flags in the order given.
type fileList []string

func (f *fileList) String() string { return strings.Join(*f, ",") }

func (f *fileList) Set(v string) error {
	*f = append(*f, v)
	return nil
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	configPath := flag.String("config", configFilePath, "Path to the config file")
	var files fileList
	flag.Var(&files, "file", "PDF to upload, repeat for several files")
	query := flag.String("query", "", "Question to ask about the uploaded files")
	savePath := flag.String("save", "", "Save the index to this file after processing (flat or chromem)")
	loadPath := flag.String("load", "", "Load an index saved with -save instead of processing")
	storeType := flag.String("store", "", "Vector store: flat, chromem or pgvector")
	useTUI := flag.Bool("tui", false, "Start the interactive chat screen")
	dryRun := flag.Bool("dry-run", false, "Only extract and split the files, print the segments")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		helper.SetupLogger("info", os.Stdout)
		log.Fatal().Err(err).Msg("Error loading config")
	}
	if *storeType != "" {
		cfg.VectorStore.Type = *storeType
	}

	if *useTUI {
		f, err := os.OpenFile(tuiLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			helper.SetupLogger(cfg.LogLevel, os.Stdout)
			log.Fatal().Err(err).Msg("Error opening log file")
		}
		defer f.Close()
		helper.SetupLogger(cfg.LogLevel, f)
	} else {
		helper.SetupLogger(cfg.LogLevel, os.Stdout)
	}
	log.Debug().Interface("config", cfg).Msg("Loaded config")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *dryRun {
		if err := splitOnly(cfg, files); err != nil {
			log.Fatal().Err(err).Msg("Error splitting documents")
		}
		return
	}

	if len(files) == 0 && *loadPath == "" && *query == "" && !*useTUI {
		flag.Usage()
		os.Exit(2)
	}

	pipeline, err := rag.NewPipelineFromConfig(ctx, cfg, rag.Shared(cfg))
	if err != nil {
		log.Fatal().Err(err).Msg("Error creating pipeline")
	}
	err = run(ctx, pipeline, runOptions{
		files:    files,
		query:    *query,
		savePath: *savePath,
		loadPath: *loadPath,
		useTUI:   *useTUI,
	})
	if cerr := pipeline.Close(); cerr != nil {
		log.Error().Err(cerr).Msg("Error closing pipeline")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Error running pdfchat")
	}
}

type runOptions struct {
	files    []string
	query    string
	savePath string
	loadPath string
	useTUI   bool
}

func run(ctx context.Context, pipeline *rag.Pipeline, opts runOptions) error {
	if opts.loadPath != "" {
		if err := pipeline.LoadIndex(ctx, opts.loadPath); err != nil {
			return fmt.Errorf("failed to load index: %w", err)
		}
	}
	status := ""
	if len(opts.files) > 0 {
		res, err := pipeline.Process(ctx, opts.files)
		if err != nil {
			return fmt.Errorf("failed to process documents: %w", err)
		}
		status = fmt.Sprintf("Processed %d document(s) into %d segments.", len(res.Documents), res.Segments)
		log.Info().Int("documents", len(res.Documents)).Int("segments", res.Segments).Int("dimension", res.Dimension).Msg("Processed documents")
	}
	if opts.savePath != "" {
		if err := pipeline.SaveIndex(ctx, opts.savePath); err != nil {
			return fmt.Errorf("failed to save index: %w", err)
		}
	}

	if opts.useTUI {
		return tui.Run(ctx, tui.FromPipeline(pipeline), status)
	}
	if opts.query != "" {
		return ask(ctx, pipeline, opts.query)
	}
	return nil
}

func ask(ctx context.Context, pipeline *rag.Pipeline, query string) error {
	answer, err := pipeline.Ask(ctx, query)
	if err != nil {
		return err
	}

	log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", query)

	log.Info().Msg("Source: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	for _, n := range answer.Neighbors {
		fmt.Printf("segment %d (distance %.4f)\n", n.Position, n.Distance)
	}
	fmt.Println()

	log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	for tok := range answer.Tokens() {
		fmt.Print(tok)
	}
	fmt.Print("\n\n")

	_, err = answer.Wait()
	return err
}

// splitOnly runs extraction and splitting without touching any model server.
func splitOnly(cfg *config.Config, files []string) error {
	tok, err := rag.Shared(cfg).Tokenizer()
	if err != nil {
		return err
	}
	sp, err := splitter.New(tok, splitter.Options{
		ChunkSize:    cfg.RAG.ChunkSize,
		ChunkOverlap: cfg.RAG.ChunkOverlap,
		Separators:   cfg.RAG.Separators,
	})
	if err != nil {
		return err
	}
	docs, err := parser.ReadDocuments(files)
	if err != nil {
		return err
	}
	segs, err := sp.Segments(parser.RawText(docs))
	if err != nil {
		return err
	}
	log.Info().Int("documents", len(docs)).Int("segments", len(segs)).Msg("Split documents")
	helper.PrettyPrint(segs)
	return nil
}
