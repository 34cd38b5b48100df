// Command tensordecode decodes tensor dumps of model outputs into detection records.
//
// Usage:
//
//	tensordecode -c pipeline.yaml -i frames/ [-o detections.json] [-v]
//
// The configuration file selects the converter, describes the model and carries the converter
// parameters. The input directory holds one frame-<n>.yaml or frame-<n>.json dump per frame.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/akamensky/argparse"
	"github.com/nvr-ai/go-tensordecode/inference"
	"github.com/nvr-ai/go-tensordecode/util"
	"github.com/sirupsen/logrus"
)

func main() {
	parser := argparse.NewParser("tensordecode", "Decode model output tensors into detections")
	config := parser.String("c", "config", &argparse.Options{Help: "Pipeline configuration file", Required: true})
	input := parser.String("i", "input", &argparse.Options{Help: "Directory of frame tensor dumps", Required: true})
	output := parser.String("o", "output", &argparse.Options{Help: "Output JSON file, stdout when empty", Required: false, Default: ""})
	verbose := parser.Flag("v", "verbose", &argparse.Options{Help: "Log every decoded frame"})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	if err := run(logger, *config, *input, *output); err != nil {
		logger.WithError(err).Fatal("decoding failed")
	}
}

func run(logger *logrus.Logger, configPath, inputDir, outputPath string) error {
	cfg, err := inference.LoadConfig(configPath)
	if err != nil {
		return err
	}

	sink := &inference.CollectingSink{}
	pipeline, err := inference.NewBuilder().
		WithConfig(cfg).
		WithSink(sink).
		WithLogger(logger).
		Build()
	if err != nil {
		return err
	}

	dumps, err := util.LoadDirectoryTensorFiles(inputDir)
	if err != nil {
		return err
	}

	for _, dump := range dumps {
		frame, err := dump.PipelineFrame()
		if err != nil {
			return err
		}
		// Frame errors are logged by the pipeline; the remaining frames are still decoded.
		_, _ = pipeline.Process(frame)
	}

	stats := pipeline.Stats()
	logger.WithFields(logrus.Fields{
		"frames":     stats.Frames,
		"detections": stats.Detections,
		"failures":   stats.Failures,
	}).Info("decoding finished")

	var out io.Writer = os.Stdout
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(sink.Attachments())
}
