package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"slices"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"

	"github.com/codewandler/streamstore/core/es"
	"github.com/codewandler/streamstore/internal/domain"
)

type demoOpts struct {
	events        int
	batch         int
	users         int
	loadAfterSave bool
}

type demoResult struct {
	Users      int     `json:"users" yaml:"users"`
	Events     int64   `json:"events" yaml:"events"`
	Seconds    float64 `json:"seconds" yaml:"seconds"`
	PerSecond  int     `json:"events_per_second" yaml:"events_per_second"`
	AllocMiB   uint64  `json:"alloc_mib" yaml:"alloc_mib"`
	SysMiB     uint64  `json:"sys_mib" yaml:"sys_mib"`
	MaxVersion uint64  `json:"max_version" yaml:"max_version"`
}

func (r demoResult) writeText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "%s\n  total runtime: %.3f s\n  events:        %d\n  users:         %d\n  max version:   %d\n  writes/s:      %d\n  memory:        %d / %d MiB (alloc / sys)\n",
		styles.Title.Render("demo finished"),
		r.Seconds, r.Events, r.Users, r.MaxVersion, r.PerSecond, r.AllocMiB, r.SysMiB,
	)
	return err
}

func (a *app) demoCmd() *cobra.Command {
	opts := demoOpts{}
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Write a stream of user events and report throughput",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.runDemo(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return a.print(res, res.writeText)
		},
	}
	cmd.Flags().IntVarP(&opts.events, "events", "n", 1_000, "events to write per user")
	cmd.Flags().IntVarP(&opts.batch, "batch", "b", 250, "report progress every batch events")
	cmd.Flags().IntVarP(&opts.users, "users", "u", 1, "users written concurrently")
	cmd.Flags().BoolVar(&opts.loadAfterSave, "load-after-save", false, "reload the user after every save")
	return cmd
}

func (a *app) runDemo(ctx context.Context, opts demoOpts) (demoResult, error) {
	var (
		repo     = a.users()
		users    = max(opts.users, 1)
		versions = make([]es.Version, users)
		written  atomic.Int64
		startAt  = time.Now()
	)

	a.log.Info(
		"starting demo",
		slog.Int("users", users),
		slog.Int("events", opts.events),
		slog.String("backend", a.cfg.Backend),
	)

	g, gctx := errgroup.WithContext(ctx)
	for n := range users {
		g.Go(func() error {
			u := repo.New()
			if err := u.Create(fmt.Sprintf("user-%d@example.com", n), domain.RoleMember, language.English); err != nil {
				return err
			}
			if err := repo.Save(gctx, u); err != nil {
				return err
			}
			written.Add(1)

			for i := range opts.events {
				if err := u.ChangeEmail(fmt.Sprintf("user-%d@host-%d.com", n, i)); err != nil {
					return err
				}
				if err := repo.Save(gctx, u); err != nil {
					return err
				}
				if opts.loadAfterSave {
					loaded, ok, err := repo.Load(gctx, u.ID())
					if err != nil {
						return err
					}
					if !ok || loaded.Version() != u.Version() {
						return fmt.Errorf("user %s: reloaded version does not match %d", u.ID(), u.Version())
					}
				}
				if total := written.Add(1); opts.batch > 0 && total%int64(opts.batch) == 0 {
					a.progress(total, startAt)
				}
			}

			versions[n] = u.Version()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return demoResult{}, err
	}

	took := time.Since(startAt)
	runtime.GC()
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	total := written.Load()
	return demoResult{
		Users:      users,
		Events:     total,
		Seconds:    took.Seconds(),
		PerSecond:  int(float64(total) / took.Seconds()),
		AllocMiB:   m.Alloc / 1024 / 1024,
		SysMiB:     m.Sys / 1024 / 1024,
		MaxVersion: uint64(slices.Max(versions)),
	}, nil
}

func (a *app) progress(total int64, startAt time.Time) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	took := time.Since(startAt)
	a.log.Info(
		"progress",
		slog.Int64("events", total),
		slog.Int("events_per_second", int(float64(total)/took.Seconds())),
		slog.Uint64("alloc_mib", m.Alloc/1024/1024),
	)
}
