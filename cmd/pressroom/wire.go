package main

import (
	"log"
	"strings"

	"github.com/TobiSchelling/pressroom/internal/article"
	"github.com/TobiSchelling/pressroom/internal/cache"
	"github.com/TobiSchelling/pressroom/internal/classify"
	"github.com/TobiSchelling/pressroom/internal/database"
	"github.com/TobiSchelling/pressroom/internal/fetch"
	"github.com/TobiSchelling/pressroom/internal/images"
	"github.com/TobiSchelling/pressroom/internal/indexing"
	"github.com/TobiSchelling/pressroom/internal/llm"
	"github.com/TobiSchelling/pressroom/internal/pipeline"
	"github.com/TobiSchelling/pressroom/internal/seo"
	"github.com/TobiSchelling/pressroom/internal/translate"
)

const userAgent = "pressroom/1.0 (+news pipeline)"

// buildPipeline wires the generation pipeline from the loaded config. The
// image cache is persisted in db so it survives between CLI invocations.
func buildPipeline(db *database.DB) *pipeline.Pipeline {
	g := cfg.Generation
	provider := llm.CreateProvider(g.Provider, g.Model, g.OllamaURL, g.OpenAIModel, g.OpenAIURL, g.APIKeyEnv)
	tables := cfg.Tables

	extractor := seo.NewExtractor(tables.StopWords, cfg.Site.Name)
	resolver := images.NewResolver(
		imageGenerator(),
		visionProvider(),
		cache.NewLayered[article.ImageAsset](db, "images"),
		tables,
		images.Options{
			Size:    cfg.Images.Size,
			Quality: cfg.Images.Quality,
			Verify:  cfg.Images.Verify,
			TTL:     cfg.Images.CacheTTL,
			Timeout: cfg.Images.Timeout,
		},
	)

	return pipeline.New(pipeline.Deps{
		Provider:     provider,
		Fetcher:      fetch.NewFetcher(g.Timeout, userAgent),
		SEO:          extractor,
		Classifier:   classify.NewClassifier(provider, tables.Categories, g.Timeout),
		Images:       resolver,
		Translator:   translate.NewTranslator(provider, extractor, cfg.Translation.SourceLanguage, cfg.Translation.Timeout),
		Languages:    cfg.Translation.Languages,
		Categories:   tables.Categories,
		Options:      llm.Options{Temperature: g.Temperature, TopP: g.TopP, MaxTokens: g.MaxTokens},
		DraftTimeout: g.Timeout,
		RetryBackoff: g.RetryBackoff,
		Debug:        cfg.Logging.Debug(),
	})
}

func buildPublisher(db *database.DB) *pipeline.Publisher {
	dispatcher := indexing.NewDispatcher(cfg.Indexing.Targets, cfg.Indexing.Timeout, nil)
	return pipeline.NewPublisher(db, dispatcher, cfg.Site.BaseURL)
}

// imageGenerator returns nil when image generation is disabled or has no
// API key. The nil check keeps a typed nil out of the interface.
func imageGenerator() llm.ImageGenerator {
	if !cfg.Images.Enabled {
		log.Println("Image generation disabled, using fallback images")
		return nil
	}
	gen := llm.NewOpenAIImageGenerator(cfg.Images.Model, cfg.Generation.OpenAIURL, cfg.Images.APIKeyEnv)
	if gen == nil {
		log.Printf("No API key in %s, using fallback images", cfg.Images.APIKeyEnv)
		return nil
	}
	return gen
}

func visionProvider() llm.VisionProvider {
	if !cfg.Images.Verify {
		return nil
	}
	p := llm.NewOpenAIProvider(cfg.Generation.OpenAIModel, cfg.Generation.OpenAIURL, cfg.Images.APIKeyEnv)
	if !p.IsConfigured() {
		log.Println("Image verification requested but no API key is set, skipping it")
		return nil
	}
	return p
}

func targetList() string {
	names := indexing.NewDispatcher(cfg.Indexing.Targets, cfg.Indexing.Timeout, nil).Targets()
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}
