package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/miladsade96/3D-Dense-U-Net/base"
	"github.com/miladsade96/3D-Dense-U-Net/config"
	"github.com/miladsade96/3D-Dense-U-Net/graph"
	"github.com/miladsade96/3D-Dense-U-Net/unet"
)

// flag variables
var (
	ConfigPath string
	Preset     string
	Size       int64
	Depth      int64
	Channels   int64
	Format     string
	PlotPath   string
	Forward    bool
	Cuda       bool
	LogFormat  string
	LogLevel   string
	ShowVars   bool
)

func init() {
	flag.StringVar(&ConfigPath, "config", "", "specify a .hcl or .yaml network description")
	flag.StringVar(&Preset, "preset", "default", "specify preset: default, brain or spine")
	flag.Int64Var(&Size, "size", 0, "override input height and width")
	flag.Int64Var(&Depth, "depth", 0, "override input depth")
	flag.Int64Var(&Channels, "channels", 0, "override input channels")
	flag.StringVar(&Format, "format", "text", "summary format: text, csv or graph")
	flag.StringVar(&PlotPath, "plot", "", "save a stage chart to this image file")
	flag.BoolVar(&Forward, "forward", false, "build the gotch network and run one forward pass on random input")
	flag.BoolVar(&Cuda, "cuda", false, "specify whether using CUDA or not.")
	flag.StringVar(&LogFormat, "log-format", "text", "log output format: text or json")
	flag.StringVar(&LogLevel, "log-level", "info", "log level: debug, info, warn or error")
	flag.BoolVar(&ShowVars, "vars", false, "print network variables (with -forward)")
}

func newLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log-level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("invalid log-format %q: must be 'text' or 'json'", format)
}

func loadConfig() (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if ConfigPath != "" {
		cfg, err = config.Load(ConfigPath)
	} else {
		cfg, err = config.Preset(Preset)
	}
	if err != nil {
		return config.Config{}, err
	}

	h, w, d, c := cfg.Height, cfg.Width, cfg.Depth, cfg.Channels
	if Size > 0 {
		h, w = Size, Size
	}
	if Depth > 0 {
		d = Depth
	}
	if Channels > 0 {
		c = Channels
	}
	return cfg.WithInput(h, w, d, c), nil
}

func writeSummary(w io.Writer, g *graph.Graph) error {
	switch Format {
	case "text":
		return g.WriteSummary(w)
	case "csv":
		return g.WriteCSV(w)
	case "graph":
		_, err := io.WriteString(w, g.Text())
		return err
	}
	return fmt.Errorf("unknown format %q", Format)
}

func runForward(cfg config.Config, logger *slog.Logger) error {
	device := gotch.CPU
	if Cuda {
		device = gotch.NewCuda().CudaIfAvailable()
	}

	vs := nn.NewVarStore(device)
	net, err := unet.NewDenseUNet(vs.Root(), cfg, graph.WithLogger(logger))
	if err != nil {
		return err
	}
	logger.Info("Network created.", "variables", len(vs.Variables()), "params", base.NumParams(vs))
	if ShowVars {
		printVars(vs)
	}

	size := cfg.Input().ChannelsFirst()
	image := ts.MustRand(size, gotch.Float, device)
	var lo, hi float64
	ts.NoGrad(func() {
		masks := net.ForwardT(image, false)
		minTs := masks.MustMin(false)
		maxTs := masks.MustMax(false)
		lo, hi = minTs.Float64Values()[0], maxTs.Float64Values()[0]
		logger.Info("Forward pass done.",
			"input", fmt.Sprint(size),
			"output", fmt.Sprint(masks.MustSize()),
			"min", lo,
			"max", hi)
		minTs.MustDrop()
		maxTs.MustDrop()
		masks.MustDrop()
	})
	image.MustDrop()

	if lo < 0 || hi > 1 {
		return fmt.Errorf("output range [%g, %g] outside [0, 1] for %s head", lo, hi, cfg.OutputActivation)
	}

	return nil
}

// printVars print variables sorted by name
func printVars(vs *nn.VarStore) {
	vars := vs.Variables()
	names := make([]string, 0, len(vars))
	for n := range vars {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		v := vars[n]
		fmt.Printf("%v \t\t %v\n", n, v.MustSize())
	}
}

func main() {
	flag.Parse()

	logger, err := newLogger(os.Stderr, LogFormat, LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal(err)
	}
	logger.Debug("Config loaded.", "name", cfg.Name, "input", cfg.Input().String())

	g, err := unet.Plan(cfg, graph.WithLogger(logger))
	if err != nil {
		log.Fatal(err)
	}
	if err := writeSummary(os.Stdout, g); err != nil {
		log.Fatal(err)
	}

	if PlotPath != "" {
		if err := g.PlotStages(PlotPath); err != nil {
			log.Fatal(err)
		}
		logger.Info("Stage chart saved.", "path", PlotPath)
	}

	if Forward {
		if err := runForward(cfg, logger); err != nil {
			log.Fatal(err)
		}
	}
}
