package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"avatarcrop/internal/photo"
	"avatarcrop/internal/session"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Send()
	}
}

func run() error {
	var args cliArgs
	cliCtx := kong.Parse(
		&args,
		kong.Name("avatarcrop"),
		kong.Description("Crop, rotate and encode profile photos."),
		kong.UsageOnError(),
		kong.Configuration(kong.JSON, "/etc/avatarcrop.json", "~/.config/avatarcrop/config.json", "avatarcrop.json"),
	)
	if err := cliCtx.Run(); err != nil {
		return err
	}

	return nil
}

type cliArgs struct {
	Serve  serveCmd  `cmd:"" default:"withargs" help:"Serve a local edit session over HTTP."`
	Render renderCmd `cmd:"" help:"Crop and rotate one image file."`
	Apply  applyCmd  `cmd:"" help:"Run a script of edit operations (JSON lines)."`
}

type LogFlags struct {
	Verbose bool `help:"Enable verbose logging" default:"false" env:"AVATARCROP_VERBOSE"`
}

// setup installs the global logger and returns a context carrying it that is
// cancelled on interrupt.
func (f LogFlags) setup() (context.Context, context.CancelFunc) {
	level := zerolog.InfoLevel
	if f.Verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = log.Output(zerolog.NewConsoleWriter()).Level(level)
	zerolog.DefaultContextLogger = &log.Logger

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	return log.Logger.WithContext(ctx), cancel
}

type PipelineFlags struct {
	Format          string `help:"Output format (jpeg, png, webp)." default:"jpeg" env:"AVATARCROP_FORMAT"`
	Quality         int    `help:"JPEG and lossy WebP quality (1-100)." default:"92" env:"AVATARCROP_QUALITY"`
	Lossless        bool   `help:"Encode WebP losslessly." env:"AVATARCROP_LOSSLESS"`
	Background      string `help:"Fill for transparent pixels in JPEG output." default:"#000000" env:"AVATARCROP_BACKGROUND"`
	Interpolator    string `help:"Resampling kernel for angles that are not quarter turns." default:"bilinear" enum:"nearest,approx-bilinear,bilinear,catmull-rom" env:"AVATARCROP_INTERPOLATOR"`
	MaxSourcePixels int    `help:"Reject uploads with more pixels than this (0 = no limit)." default:"67108864" env:"AVATARCROP_MAX_SOURCE_PIXELS"`
	MaxCanvasSide   int    `help:"Largest working canvas side in pixels (0 = no limit)." default:"16384" env:"AVATARCROP_MAX_CANVAS_SIDE"`
	NoAutoOrient    bool   `help:"Ignore the EXIF orientation of JPEG uploads." env:"AVATARCROP_NO_AUTO_ORIENT"`
}

func (f PipelineFlags) newSession(store session.AvatarStore) (*session.Session, error) {
	format, err := photo.ParseFormat(f.Format)
	if err != nil {
		return nil, err
	}
	bg, err := photo.ParseHexColor(f.Background)
	if err != nil {
		return nil, err
	}
	q, err := photo.InterpolatorByName(f.Interpolator)
	if err != nil {
		return nil, err
	}
	renderer := &photo.Renderer{
		Interpolator:  q,
		MaxCanvasSide: f.MaxCanvasSide,
		Encoder: photo.Encoder{
			Format:     format,
			Quality:    f.Quality,
			Lossless:   f.Lossless,
			Background: bg,
		},
	}
	return session.New(session.Config{
		Renderer: renderer,
		Decode: photo.DecodeOptions{
			MaxPixels:       f.MaxSourcePixels,
			AutoOrientation: !f.NoAutoOrient,
		},
		Store: store,
	}), nil
}

type serveCmd struct {
	LogFlags      `embed:""`
	PipelineFlags `embed:""`

	Addr           string `help:"Address to listen on." default:"localhost:0" env:"AVATARCROP_ADDR"`
	MaxUploadBytes int    `help:"Largest accepted upload body." default:"33554432" env:"AVATARCROP_MAX_UPLOAD_BYTES"`
	JSON           bool   `help:"Print each committed avatar as a JSON line on stdout"`
	Once           bool   `help:"Exit after the first commit" default:"false"`
}

func (cmd *serveCmd) Run() error {
	ctx, cancel := cmd.LogFlags.setup()
	defer cancel()

	profile := session.NewProfile("")
	sess, err := cmd.newSession(profile)
	if err != nil {
		return err
	}
	log.Ctx(ctx).Debug().Stringer("profile", profile.ID).Stringer("session", sess.ID()).Msg("session ready")

	app := NewWebApp(Config{
		Addr:           cmd.Addr,
		MaxUploadBytes: cmd.MaxUploadBytes,
		Session:        sess,
		Store:          profile,
		OnBeforeShutdown: func() {
			log.Ctx(ctx).Info().Msg("Shutting down web application...")
		},
		OnReady: func(addr string) {
			log.Ctx(ctx).Info().Msgf("Server started at %s", addr)
		},
		OnCommit: func(avatar string) {
			if cmd.JSON {
				printJSONL([]committedAvatar{{ProfileID: profile.ID.String(), Avatar: avatar}})
			}
			if cmd.Once {
				cancel()
			}
		},
	})

	return app.Run(ctx)
}

type committedAvatar struct {
	ProfileID string `json:"profile_id"`
	Avatar    string `json:"avatar"`
}

type renderCmd struct {
	LogFlags      `embed:""`
	PipelineFlags `embed:""`

	File     string  `arg:"" type:"existingfile" help:"Image to crop."`
	X        int     `help:"Left edge of the crop in source pixels."`
	Y        int     `help:"Top edge of the crop in source pixels."`
	Width    int     `help:"Crop width in source pixels (0 = centred square)."`
	Height   int     `help:"Crop height in source pixels (0 = centred square)."`
	Rotation float64 `help:"Clockwise rotation in degrees."`
	Zoom     float64 `help:"Zoom shown by the crop UI; already reflected in the crop." default:"1"`
	Out      string  `short:"o" help:"Write the encoded image here instead of printing a data URI."`
}

func (cmd *renderCmd) Run() error {
	ctx, cancel := cmd.LogFlags.setup()
	defer cancel()

	data, err := os.ReadFile(cmd.File)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", cmd.File, err)
	}
	sess, err := cmd.newSession(nil)
	if err != nil {
		return err
	}
	sess.Upload(ctx, data)
	if err := sess.Wait(ctx); err != nil {
		return err
	}

	adj := *sess.Snapshot().Adjustment
	if cmd.Width != 0 || cmd.Height != 0 {
		adj.Region = photo.Region{X: cmd.X, Y: cmd.Y, Width: cmd.Width, Height: cmd.Height}
	}
	adj.Rotation = cmd.Rotation
	adj.Zoom = cmd.Zoom
	if err := sess.Adjust(adj); err != nil {
		sess.Cancel(ctx)
		return err
	}

	uri, err := sess.Commit(ctx)
	if err != nil {
		return err
	}
	if cmd.Out == "" {
		_, err := fmt.Fprintln(os.Stdout, uri)
		return err
	}
	enc, err := photo.ParseDataURI(uri)
	if err != nil {
		return err
	}
	if err := os.WriteFile(cmd.Out, enc.Data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", cmd.Out, err)
	}
	log.Ctx(ctx).Info().Str("path", cmd.Out).Str("mime", enc.MIME).Int("bytes", len(enc.Data)).Msg("wrote avatar")
	return nil
}

type applyCmd struct {
	LogFlags      `embed:""`
	PipelineFlags `embed:""`

	Script  string `arg:"" optional:"" default:"-" help:"File with one JSON operation per line, or - for stdin."`
	BaseDir string `help:"Directory that upload filenames are relative to." default:"." type:"existingdir"`
}

func (cmd *applyCmd) Run() error {
	ctx, cancel := cmd.LogFlags.setup()
	defer cancel()

	var r io.Reader = os.Stdin
	if cmd.Script != "-" {
		f, err := os.Open(cmd.Script)
		if err != nil {
			return fmt.Errorf("failed to open script %s: %w", cmd.Script, err)
		}
		defer f.Close()
		r = f
	}
	ops, err := readOperations(r)
	if err != nil {
		return err
	}

	sess, err := cmd.newSession(session.NewProfile(""))
	if err != nil {
		return err
	}
	executor := OperationExecutor{BaseDir: cmd.BaseDir, Session: sess}
	results, err := executor.Exec(ctx, ops)
	printJSONL(results)
	return err
}

// readOperations decodes a stream of JSON operations.
func readOperations(r io.Reader) (Operations, error) {
	dec := json.NewDecoder(r)
	var ops Operations
	for {
		var op Operation
		if err := dec.Decode(&op); err == io.EOF {
			return ops, nil
		} else if err != nil {
			return nil, fmt.Errorf("failed to read operation %d: %w", len(ops), err)
		}
		ops = append(ops, op)
	}
}

func printJSONL[T any](data []T) {
	enc := json.NewEncoder(os.Stdout)
	for _, item := range data {
		if err := enc.Encode(item); err != nil {
			log.Error().Err(err).Msg("Failed to encode item to JSON")
			continue
		}
	}
}
