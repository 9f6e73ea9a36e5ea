package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/spatial-query/internal/core/router"
	"github.com/mohammed-shakir/spatial-query/internal/logger"
	"github.com/mohammed-shakir/spatial-query/internal/mapfile"
	"github.com/mohammed-shakir/spatial-query/internal/query"
	"github.com/mohammed-shakir/spatial-query/internal/query/qyfile"
	"github.com/mohammed-shakir/spatial-query/internal/service"
	"github.com/mohammed-shakir/spatial-query/internal/symbol"
)

type rootOptions struct {
	MapFile  string
	LogLevel string
	Compact  bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "mapquery",
		Short:        "Query the layers of a map file",
		Version:      Version,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.MapFile, "map", "m", "map.yaml", "map file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "warn", "log level")
	cmd.PersistentFlags().BoolVar(&opts.Compact, "compact", false, "print JSON on one line")

	cmd.AddCommand(newExecCommand(opts))
	cmd.AddCommand(newSaveCommand(opts))
	cmd.AddCommand(newLoadCommand(opts))
	cmd.AddCommand(newDeleteCommand(opts))
	return cmd
}

// queryFlags are named after the HTTP query parameters they fill.
var queryFlags = []struct {
	name  string
	param string
	usage string
}{
	{"type", "type", "query type: point, rect, shape, filter, index"},
	{"mode", "mode", "single, multiple or auto"},
	{"layer", "layer", "layer name or index"},
	{"slayer", "slayer", "selection layer for feature queries"},
	{"bbox", "bbox", "minx,miny,maxx,maxy"},
	{"point", "point", "x,y"},
	{"buffer", "buffer", "search distance around the point"},
	{"polygon", "polygon", "GeoJSON polygon or line"},
	{"item", "item", "attribute the filter applies to"},
	{"filter", "filter", "filter expression"},
	{"shape-index", "shape_index", "shape index for index queries"},
	{"tile-index", "tile_index", "tile index for index queries"},
	{"max-results", "max_results", "result limit per layer"},
	{"maxfeatures", "maxfeatures", "override every layer's feature limit"},
	{"startindex", "startindex", "override every layer's start index"},
}

func addQueryFlags(cmd *cobra.Command) {
	for _, f := range queryFlags {
		cmd.Flags().String(f.name, "", f.usage)
	}
	cmd.Flags().Bool("onlycount", false, "only count matches")
	cmd.Flags().Bool("append", false, "keep earlier results (index queries)")
	cmd.Flags().StringArray("styles", nil, "layer:style[,style], repeatable")
}

func queryValues(cmd *cobra.Command) (url.Values, error) {
	v := url.Values{}
	for _, f := range queryFlags {
		if !cmd.Flags().Changed(f.name) {
			continue
		}
		s, err := cmd.Flags().GetString(f.name)
		if err != nil {
			return nil, err
		}
		v.Set(f.param, s)
	}
	for _, name := range []string{"onlycount", "append"} {
		if on, _ := cmd.Flags().GetBool(name); on {
			v.Set(name, "true")
		}
	}
	styles, err := cmd.Flags().GetStringArray("styles")
	if err != nil {
		return nil, err
	}
	for _, s := range styles {
		v.Add("styles", s)
	}
	return v, nil
}

// session is one loaded map with a service bound to it. Saved files are
// addressed by path.
type session struct {
	svc *service.Service
	log *slog.Logger
}

func openSession(opts *rootOptions, stderr io.Writer) (*session, error) {
	zl := logger.Build(logger.Config{
		Level:     opts.LogLevel,
		Console:   true,
		Component: "mapquery",
	}, stderr)
	log := logger.NewSlog(&zl)

	m, err := mapfile.Load(opts.MapFile)
	if err != nil {
		return nil, err
	}
	engine := query.New(log, query.WithRenderer(symbol.New()))
	return &session{
		svc: service.New(m, engine, qyfile.DirStore{}, service.Options{}, log),
		log: log,
	}, nil
}

func (s *session) spec(cmd *cobra.Command) (query.Spec, error) {
	v, err := queryValues(cmd)
	if err != nil {
		return query.Spec{}, err
	}
	req, warn, err := router.ParseQueryValues(v)
	if err != nil {
		return query.Spec{}, err
	}
	if warn != "" {
		s.log.Warn(warn)
	}
	return s.svc.Spec(req)
}

func printResponse(opts *rootOptions, w io.Writer, resp service.Response) error {
	enc := json.NewEncoder(w)
	if !opts.Compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(resp)
}

func newExecCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec",
		Short: "Run a query and print the matches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			spec, err := s.spec(cmd)
			if err != nil {
				return err
			}
			resp, err := s.svc.Query(cmd.Context(), spec)
			if err != nil {
				return err
			}
			return printResponse(opts, cmd.OutOrStdout(), resp)
		},
	}
	addQueryFlags(cmd)
	return cmd
}

func newSaveCommand(opts *rootOptions) *cobra.Command {
	var variant string
	cmd := &cobra.Command{
		Use:   "save <file.qy>",
		Short: "Run a query and save it or its results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var v qyfile.Variant
			switch strings.ToLower(variant) {
			case "params":
				v = qyfile.VariantParams
			case "results":
				v = qyfile.VariantResults
			default:
				return fmt.Errorf("invalid variant %q: must be params or results", variant)
			}
			s, err := openSession(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			spec, err := s.spec(cmd)
			if err != nil {
				return err
			}
			resp, err := s.svc.Save(cmd.Context(), spec, args[0], v)
			if err != nil {
				return err
			}
			return printResponse(opts, cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVar(&variant, "variant", "params", "what to save: params or results")
	addQueryFlags(cmd)
	return cmd
}

func newLoadCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "load <file.qy>",
		Short: "Replay saved parameters or restore saved results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			resp, err := s.svc.Load(cmd.Context(), args[0])
			if errors.Is(err, qyfile.ErrNotFound) {
				return fmt.Errorf("%s does not exist", args[0])
			}
			if err != nil {
				return err
			}
			return printResponse(opts, cmd.OutOrStdout(), resp)
		},
	}
}

func newDeleteCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <file.qy>",
		Short: "Remove a saved query file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			err = s.svc.Delete(cmd.Context(), args[0])
			if errors.Is(err, qyfile.ErrNotFound) {
				return fmt.Errorf("%s does not exist", args[0])
			}
			return err
		},
	}
}
